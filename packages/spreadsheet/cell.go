package spreadsheet

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

// Primitive represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - rune: single character values
//   - bool: boolean values (TRUE/FALSE)
//   - time.Time: date/time values
//   - Matrix: 2-D value array produced by a range
//   - TypedInstance: opaque instance of a user-defined type
//   - nil: empty/null cells
//   - *SpreadsheetError: error values (#DIV/0!, #VALUE!, etc.)
type Primitive any

// TypedInstance is an opaque value carrying the name of the user-defined type
// it is an instance of.
type TypedInstance interface {
	TypeName() string
}

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull     ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0     ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue    ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef      ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName     ErrorCode = 5 // #NAME? - unrecognized function name
	ErrorCodeNum      ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA       ErrorCode = 7 // #N/A - not enough arguments for function
	ErrorCodeOther    ErrorCode = 8 // #ERROR! - all other errors
	ErrorCodeCircular ErrorCode = 9 // #CIRCULAR! - cell depends on itself
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:     "#NULL!",
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeName:     "#NAME?",
	ErrorCodeNum:      "#NUM!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeOther:    "#ERROR!",
	ErrorCodeCircular: "#CIRCULAR!",
}

// IllegalCellText is the sentinel written in place of a reference that no
// longer names a cell, e.g. after shifting past the first row or column.
const IllegalCellText = "#REF!"

// SpreadsheetError preserves error code for display in cells
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Message:   message,
	}
}

// IsCircularity reports whether v is a circularity error value
func IsCircularity(v Primitive) bool {
	err, ok := v.(*SpreadsheetError)
	return ok && err.ErrorCode == ErrorCodeCircular
}

// IsReferenceError reports whether v is a reference error value
func IsReferenceError(v Primitive) bool {
	err, ok := v.(*SpreadsheetError)
	return ok && err.ErrorCode == ErrorCodeRef
}

// CellType represents numeric constants for cell value
// types (external API)
type CellType uint8

const (
	CellValueTypeEmpty    CellType = 0
	CellValueTypeNumber   CellType = 1
	CellValueTypeString   CellType = 2
	CellValueTypeDate     CellType = 3
	CellValueTypeBoolean  CellType = 4
	CellValueTypeError    CellType = 5
	CellValueTypeChar     CellType = 6
	CellValueTypeFormula  CellType = 7
	CellValueTypeInstance CellType = 8
	CellValueTypeMatrix   CellType = 9
)

// TypeOf classifies a stored cell content
func TypeOf(v any) CellType {
	switch v.(type) {
	case nil:
		return CellValueTypeEmpty
	case float64, int, int64:
		return CellValueTypeNumber
	case string:
		return CellValueTypeString
	case time.Time:
		return CellValueTypeDate
	case bool:
		return CellValueTypeBoolean
	case *SpreadsheetError:
		return CellValueTypeError
	case rune:
		return CellValueTypeChar
	case *Expression:
		return CellValueTypeFormula
	case TypedInstance:
		return CellValueTypeInstance
	case Matrix:
		return CellValueTypeMatrix
	}
	return CellValueTypeEmpty
}

// sheet dimensions. references past them are illegal.
const (
	MaxRows    = 1 << 20 // 1048576
	MaxColumns = 1 << 14 // 16384, column XFD
)

// Cell is the immutable identity of a cell. An empty Sheet denotes the
// local sheet of whichever grid the cell is interpreted against, and is
// never equal to an explicit sheet name, even the local one's.
type Cell struct {
	Sheet  string
	Row    int // zero-based
	Column int // zero-based
}

// NewCell creates a cell address
func NewCell(sheet string, row, col int) Cell {
	return Cell{Sheet: sheet, Row: row, Column: col}
}

func (Cell) parameterKey() {}

// IsLocal reports whether the cell names the current sheet
func (c Cell) IsLocal() bool {
	return c.Sheet == ""
}

// Local returns the cell without its sheet qualifier
func (c Cell) Local() Cell {
	return Cell{Row: c.Row, Column: c.Column}
}

// On returns the cell qualified with the given sheet
func (c Cell) On(sheet string) Cell {
	return Cell{Sheet: sheet, Row: c.Row, Column: c.Column}
}

// Offset returns the cell moved by the given deltas
func (c Cell) Offset(rows, cols int) Cell {
	return Cell{Sheet: c.Sheet, Row: c.Row + rows, Column: c.Column + cols}
}

// String renders the cell in A1 notation, qualified when not local
func (c Cell) String() string {
	name := ColumnName(c.Column) + strconv.Itoa(c.Row+1)
	if c.Sheet == "" {
		return name
	}
	return quoteSheet(c.Sheet) + "!" + name
}

// Less orders cells by sheet, then row, then column
func (c Cell) Less(other Cell) bool {
	if c.Sheet != other.Sheet {
		return c.Sheet < other.Sheet
	}
	if c.Row != other.Row {
		return c.Row < other.Row
	}
	return c.Column < other.Column
}

// CellRange is a rectangular span of cells on one sheet
type CellRange struct {
	Sheet    string
	FirstRow int
	FirstCol int
	LastRow  int
	LastCol  int
}

func (CellRange) parameterKey() {}

// NewCellRange builds a range from two endpoint cells. the bounds are
// normalized so first is never after last. ok is false when the two
// endpoints name different explicit sheets.
func NewCellRange(from, to Cell) (CellRange, bool) {
	sheet := from.Sheet
	if to.Sheet != "" {
		if sheet != "" && sheet != to.Sheet {
			return CellRange{}, false
		}
		sheet = to.Sheet
	}
	return CellRange{
		Sheet:    sheet,
		FirstRow: min(from.Row, to.Row),
		FirstCol: min(from.Column, to.Column),
		LastRow:  max(from.Row, to.Row),
		LastCol:  max(from.Column, to.Column),
	}, true
}

// Contains tests whether the cell lies within the range bounds. sheets are
// compared with Cell equality semantics.
func (r CellRange) Contains(c Cell) bool {
	return c.Sheet == r.Sheet &&
		c.Row >= r.FirstRow && c.Row <= r.LastRow &&
		c.Column >= r.FirstCol && c.Column <= r.LastCol
}

// ContainsPosition tests row/column membership ignoring the sheet
func (r CellRange) ContainsPosition(row, col int) bool {
	return row >= r.FirstRow && row <= r.LastRow &&
		col >= r.FirstCol && col <= r.LastCol
}

// Rows returns the number of rows spanned
func (r CellRange) Rows() int {
	return r.LastRow - r.FirstRow + 1
}

// Columns returns the number of columns spanned
func (r CellRange) Columns() int {
	return r.LastCol - r.FirstCol + 1
}

// First returns the top-left cell
func (r CellRange) First() Cell {
	return Cell{Sheet: r.Sheet, Row: r.FirstRow, Column: r.FirstCol}
}

// Last returns the bottom-right cell
func (r CellRange) Last() Cell {
	return Cell{Sheet: r.Sheet, Row: r.LastRow, Column: r.LastCol}
}

// Cells iterates the range row by row
func (r CellRange) Cells() iter.Seq[Cell] {
	return func(yield func(Cell) bool) {
		for row := r.FirstRow; row <= r.LastRow; row++ {
			for col := r.FirstCol; col <= r.LastCol; col++ {
				if !yield(Cell{Sheet: r.Sheet, Row: row, Column: col}) {
					return
				}
			}
		}
	}
}

func (r CellRange) String() string {
	s := r.First().Local().String() + ":" + r.Last().Local().String()
	if r.Sheet == "" {
		return s
	}
	return quoteSheet(r.Sheet) + "!" + s
}

// IllegalReference is the resolved form of a reference that cannot name a
// cell, such as the #REF! sentinel or a forbidden cross-mode reference.
type IllegalReference struct {
	Token string
}

func (IllegalReference) parameterKey() {}

// ParameterKey is the resolved form of a reference token: a Cell, a
// CellRange or an IllegalReference.
type ParameterKey interface {
	parameterKey()
}

// ColumnName converts a zero-based column index to letters (0=A, 26=AA)
func ColumnName(col int) string {
	if col < 0 {
		return ""
	}
	var buf []byte
	for col >= 0 {
		buf = append([]byte{byte('A' + col%26)}, buf...)
		col = col/26 - 1
	}
	return string(buf)
}

// ParseAddress parses an address like "A1", "$B$2" or "Sheet1!C3" into a
// Cell. absolute markers are accepted and dropped.
func ParseAddress(address string) (Cell, error) {
	ref, err := parseReference(address)
	if err != nil {
		return Cell{}, err
	}
	if ref.end != nil {
		return Cell{}, fmt.Errorf("%w: %s is a range", ErrInvalidAddress, address)
	}
	return ref.start.cell(ref.sheet), nil
}

// ParseRange parses "A1:B2" or "Sheet1!A1:B2" into a CellRange
func ParseRange(address string) (CellRange, error) {
	ref, err := parseReference(address)
	if err != nil {
		return CellRange{}, err
	}
	if ref.end == nil {
		c := ref.start.cell(ref.sheet)
		return CellRange{Sheet: c.Sheet, FirstRow: c.Row, FirstCol: c.Column, LastRow: c.Row, LastCol: c.Column}, nil
	}
	r, ok := NewCellRange(ref.start.cell(ref.sheet), ref.end.cell(ref.endSheet))
	if !ok {
		return CellRange{}, fmt.Errorf("%w: %s spans two sheets", ErrInvalidAddress, address)
	}
	return r, nil
}

// quoteSheet wraps sheet names that are not plain identifiers in quotes
func quoteSheet(name string) string {
	plain := name != ""
	for i, ch := range name {
		if !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_' || (i > 0 && ch >= '0' && ch <= '9')) {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}
