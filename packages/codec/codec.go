// Package codec reads and writes sheets in a line-oriented text format.
//
// A sheet file starts with header lines and continues with one line per
// non-empty cell:
//
//	#sheet	Inputs
//	#kind	parameters
//	#param	rate	B1
//	A1	n:1.5
//	A2	=A1*rate
//
// Cell content is a formula (leading =) or a literal tagged with its kind:
// n: number, b: boolean, s: text, c: character, t: RFC 3339 time, e: error
// value. Text is escaped so that it never contains a tab or a line break.
package codec

import (
	"errors"
	"strings"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

var (
	// ErrSyntax is returned for malformed sheet files
	ErrSyntax = errors.New("sheet file syntax error")

	// ErrUnsupportedValue is returned when a cell holds a value the format
	// cannot represent, such as a typed instance
	ErrUnsupportedValue = errors.New("value cannot be encoded")
)

// HeaderKind is the closed set of header lines a sheet file may carry
type HeaderKind uint8

const (
	HeaderSheet HeaderKind = iota + 1
	HeaderKindOfSheet
	HeaderParam
)

var headerNames = map[HeaderKind]string{
	HeaderSheet:       "#sheet",
	HeaderKindOfSheet: "#kind",
	HeaderParam:       "#param",
}

func (k HeaderKind) String() string {
	return headerNames[k]
}

// parseHeaderKind maps the first field of a header line to its kind
func parseHeaderKind(field string) (HeaderKind, bool) {
	for kind, name := range headerNames {
		if name == field {
			return kind, true
		}
	}
	return 0, false
}

// Header is one decoded header line. the implementations in this package
// are the only ones.
type Header interface {
	Kind() HeaderKind
	header()
}

// SheetHeader names the sheet
type SheetHeader struct {
	Name string
}

// KindHeader marks the sheet as ordinary or as a parameter sheet
type KindHeader struct {
	GridKind spreadsheet.GridKind
}

// ParamHeader binds a parameter name to a cell of the sheet
type ParamHeader struct {
	Name string
	Cell spreadsheet.Cell
}

func (SheetHeader) Kind() HeaderKind { return HeaderSheet }
func (KindHeader) Kind() HeaderKind  { return HeaderKindOfSheet }
func (ParamHeader) Kind() HeaderKind { return HeaderParam }

func (SheetHeader) header() {}
func (KindHeader) header()  {}
func (ParamHeader) header() {}

// Formula is formula text read from a cell line. it is compiled against
// the grid it is stored in.
type Formula string

// Entry is one cell line. Content is the raw cell content with its kind
// prefix, or a formula.
type Entry struct {
	Cell    spreadsheet.Cell
	Content string
}

// Document is a decoded sheet file
type Document struct {
	Name    string
	Kind    spreadsheet.GridKind
	Params  []ParamHeader
	Entries []Entry
}

// Headers returns the document's headers in the order Encode writes them
func (d *Document) Headers() []Header {
	headers := make([]Header, 0, 2+len(d.Params))
	if d.Name != "" {
		headers = append(headers, SheetHeader{Name: d.Name})
	}
	headers = append(headers, KindHeader{GridKind: d.Kind})
	for _, p := range d.Params {
		headers = append(headers, p)
	}
	return headers
}

func parseGridKind(s string) (spreadsheet.GridKind, bool) {
	switch s {
	case spreadsheet.OrdinaryGrid.String():
		return spreadsheet.OrdinaryGrid, true
	case spreadsheet.ParameterGrid.String():
		return spreadsheet.ParameterGrid, true
	}
	return 0, false
}

var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)
	unescapes = map[byte]byte{'\\': '\\', 't': '\t', 'n': '\n', 'r': '\r'}
)

func escape(s string) string {
	return escaper.Replace(s)
}

func unescape(s string) (string, bool) {
	if !strings.Contains(s, `\`) {
		return s, true
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", false
		}
		c, ok := unescapes[s[i]]
		if !ok {
			return "", false
		}
		b.WriteByte(c)
	}
	return b.String(), true
}
