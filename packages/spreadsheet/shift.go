package spreadsheet

import (
	"fmt"
	"strings"
)

// cutBounds is the block of cells a cut moves, with the sheet the formula
// being rewritten lives on
type cutBounds struct {
	bounds CellRange
	home   string
}

func (c *cutBounds) contains(sheet string, row, col int) bool {
	if sheet == "" {
		sheet = c.home
	}
	boundsSheet := c.bounds.Sheet
	if boundsSheet == "" {
		boundsSheet = c.home
	}
	return sheet == boundsSheet && c.bounds.ContainsPosition(row, col)
}

// ShiftFormula rewrites the references of formula for a copy by rowDelta
// rows and colDelta columns. components marked absolute with $ stay put. a
// reference pushed past the first row or column becomes #REF!.
func ShiftFormula(formula string, rowDelta, colDelta int) (string, error) {
	return shiftFormula(formula, rowDelta, colDelta, nil, nil)
}

// ShiftFormulaWithin rewrites the references of formula for a cut of the
// cells in bounds by rowDelta rows and colDelta columns. only references
// into bounds move, and they move even when marked absolute. home is the
// sheet the formula lives on, which unqualified references and an
// unqualified bounds refer to.
func ShiftFormulaWithin(formula string, rowDelta, colDelta int, bounds CellRange, home string) (string, error) {
	return shiftFormula(formula, rowDelta, colDelta, &cutBounds{bounds: bounds, home: home}, nil)
}

// ShiftExpression is ShiftFormula for a compiled expression. only tokens the
// expression resolved to a cell or a range are rewritten.
func ShiftExpression(expr *Expression, rowDelta, colDelta int) (string, error) {
	return shiftFormula(expr.Formula(), rowDelta, colDelta, nil, resolvedOnly(expr))
}

// ShiftExpressionWithin is ShiftFormulaWithin for a compiled expression
func ShiftExpressionWithin(expr *Expression, rowDelta, colDelta int, bounds CellRange, home string) (string, error) {
	return shiftFormula(expr.Formula(), rowDelta, colDelta, &cutBounds{bounds: bounds, home: home}, resolvedOnly(expr))
}

func resolvedOnly(expr *Expression) func(token string) bool {
	return func(token string) bool {
		switch key, _ := expr.Param(token); key.(type) {
		case Cell, CellRange:
			return true
		}
		return false
	}
}

// shiftFormula re-lexes formula and splices a shifted rendering over every
// cell and range token. everything between them is copied unchanged.
func shiftFormula(formula string, rowDelta, colDelta int, cut *cutBounds, shiftable func(token string) bool) (string, error) {
	tokens, lexErrors := NewLexer(formula).Tokenize()
	if len(lexErrors) > 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidFormula, strings.Join(lexErrors, "; "))
	}

	runes := []rune(formula)
	var b strings.Builder
	last := 0
	for _, tok := range tokens {
		if tok.Type != TokenCell && tok.Type != TokenRange {
			continue
		}
		if shiftable != nil && !shiftable(tok.Value) {
			continue
		}
		ref, err := parseReference(tok.Value)
		if err != nil || ref.illegal {
			continue
		}

		b.WriteString(string(runes[last:tok.Pos]))
		b.WriteString(shiftReference(ref, rowDelta, colDelta, cut))
		last = tok.End
	}
	b.WriteString(string(runes[last:]))
	return b.String(), nil
}

// shiftReference renders ref moved by the deltas, keeping its sheet
// prefixes exactly as written
func shiftReference(ref reference, rowDelta, colDelta int, cut *cutBounds) string {
	start, ok := shiftEndpoint(ref.start, ref.sheet, rowDelta, colDelta, cut)
	if !ok {
		return IllegalCellText
	}
	text := ref.sheetText + start.text()
	if ref.end == nil {
		return text
	}

	endSheet := ref.endSheet
	if endSheet == "" {
		endSheet = ref.sheet
	}
	end, ok := shiftEndpoint(*ref.end, endSheet, rowDelta, colDelta, cut)
	if !ok {
		return IllegalCellText
	}
	return text + ":" + ref.endSheetText + end.text()
}

func shiftEndpoint(e refEndpoint, sheet string, rowDelta, colDelta int, cut *cutBounds) (refEndpoint, bool) {
	switch {
	case cut == nil:
		if !e.AbsRow {
			e.Row += rowDelta
		}
		if !e.AbsCol {
			e.Column += colDelta
		}
	case cut.contains(sheet, e.Row, e.Column):
		e.Row += rowDelta
		e.Column += colDelta
	}
	return e, e.Row >= 0 && e.Column >= 0 && e.Row < MaxRows && e.Column < MaxColumns
}
