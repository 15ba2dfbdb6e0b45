package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

// display renders a computed value the way a cell shows it
func display(v spreadsheet.Primitive) string {
	switch v := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strings.ToUpper(strconv.FormatBool(v))
	case string:
		return v
	case rune:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case *spreadsheet.SpreadsheetError:
		return spreadsheet.ErrorMapper[v.ErrorCode]
	default:
		return fmt.Sprint(v)
	}
}

// parseLiteral turns command line text into a cell value. text starting
// with = stays a formula.
func parseLiteral(text string) spreadsheet.Primitive {
	if strings.HasPrefix(text, "=") {
		return text
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	switch strings.ToUpper(text) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	return text
}

// parseAssignment splits ADDRESS=VALUE
func parseAssignment(s string) (string, spreadsheet.Primitive, error) {
	address, value, ok := strings.Cut(s, "=")
	if !ok || address == "" {
		return "", nil, fmt.Errorf("expected ADDRESS=VALUE, got %q", s)
	}
	return address, parseLiteral(value), nil
}

// sheetCells returns the qualified addresses of every non-empty cell of a
// sheet in row-major order
func sheetCells(grid *spreadsheet.Grid) []string {
	var cells []spreadsheet.Cell
	for cell := range grid.Cells() {
		cells = append(cells, cell)
	}
	slices.SortFunc(cells, func(a, b spreadsheet.Cell) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	addresses := make([]string, len(cells))
	for i, cell := range cells {
		addresses[i] = cell.On(grid.Name()).String()
	}
	return addresses
}
