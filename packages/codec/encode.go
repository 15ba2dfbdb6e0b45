package codec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// Encode writes grid in sheet file format. formulas are written as their
// text, everything else as a tagged literal.
func Encode(w io.Writer, grid *spreadsheet.Grid) error {
	doc, err := DocumentOf(grid)
	if err != nil {
		return err
	}
	return Write(w, doc)
}

// DocumentOf captures the current content of grid
func DocumentOf(grid *spreadsheet.Grid) (*Document, error) {
	doc := &Document{Name: grid.Name(), Kind: grid.Kind()}
	if params := grid.Parameters(); params != nil {
		for _, name := range params.Names() {
			cell, _ := params.Lookup(name)
			doc.Params = append(doc.Params, ParamHeader{Name: name, Cell: cell})
		}
	}
	for cell, value := range grid.Cells() {
		content, err := FormatContent(value)
		if err != nil {
			return nil, fmt.Errorf("%s!%s: %w", grid.Name(), cell, err)
		}
		doc.Entries = append(doc.Entries, Entry{Cell: cell, Content: content})
	}
	return doc, nil
}

// Write writes doc in sheet file format
func Write(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	for _, h := range doc.Headers() {
		switch h := h.(type) {
		case SheetHeader:
			fmt.Fprintf(bw, "%s\t%s\n", h.Kind(), escape(h.Name))
		case KindHeader:
			fmt.Fprintf(bw, "%s\t%s\n", h.Kind(), h.GridKind)
		case ParamHeader:
			fmt.Fprintf(bw, "%s\t%s\t%s\n", h.Kind(), h.Name, h.Cell)
		}
	}
	for _, e := range doc.Entries {
		fmt.Fprintf(bw, "%s\t%s\n", e.Cell, e.Content)
	}
	return bw.Flush()
}

// FormatContent renders a cell value as cell line content
func FormatContent(value any) (string, error) {
	switch v := value.(type) {
	case *spreadsheet.Expression:
		return escape(v.Formula()), nil
	case float64:
		return "n:" + strconv.FormatFloat(v, 'g', -1, 64), nil
	case int:
		return "n:" + strconv.Itoa(v), nil
	case bool:
		return "b:" + strconv.FormatBool(v), nil
	case string:
		return "s:" + escape(v), nil
	case rune:
		return "c:" + escape(string(v)), nil
	case time.Time:
		return "t:" + v.Format(time.RFC3339Nano), nil
	case *spreadsheet.SpreadsheetError:
		return "e:" + spreadsheet.ErrorMapper[v.ErrorCode], nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
}
