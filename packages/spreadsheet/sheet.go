package spreadsheet

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Workbook combines the registry, grids, compiler and shifter into an
// address-string API. addresses may name a sheet ("Sheet2!B3"); plain
// addresses refer to the default sheet, which is the first one added.
//
// calls are serialized, so a workbook may be shared between goroutines.
type Workbook struct {
	mu           sync.Mutex
	registry     *Registry
	defaultSheet string
}

type WorkbookInterface interface {
	// cell methods

	Get(address string) (Primitive, error)
	Set(address string, value Primitive) error
	Remove(address string) error
	Formula(address string) (string, error)

	// paste methods

	Copy(source, destination string) error
	Cut(source, destination string) error

	// sheet methods

	AddSheet(name string) error
	AddParameterSheet(name string) error
	RemoveSheet(name string) error
	RenameSheet(oldName string, newName string) error
	DoesSheetExist(name string) bool
	ListSheets() []string
	ListUnresolvedSheets() []string

	// parameter methods

	BindParameter(sheet string, name string, address string) error
	UnbindParameter(sheet string, name string) error

	// common methods

	Recalculate() error
}

// Implementation of WorkbookInterface

var _ WorkbookInterface = (*Workbook)(nil)

// NewWorkbook creates an empty workbook on a fresh registry
func NewWorkbook(opts ...Option) *Workbook {
	return NewWorkbookWithRegistry(NewRegistry(opts...))
}

// NewWorkbookWithRegistry creates a workbook over an existing registry,
// e.g. one whose sheets were loaded by a codec
func NewWorkbookWithRegistry(registry *Registry) *Workbook {
	w := &Workbook{registry: registry}
	if names := registry.Names(); len(names) > 0 {
		w.defaultSheet = names[0]
	}
	return w
}

// Registry returns the registry the workbook operates on
func (w *Workbook) Registry() *Registry {
	return w.registry
}

// DefaultSheet returns the sheet plain addresses refer to
func (w *Workbook) DefaultSheet() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.defaultSheet
}

// SetDefaultSheet changes the sheet plain addresses refer to
func (w *Workbook) SetDefaultSheet(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.registry.Contains(name) {
		return NewApplicationError(NotFound, fmt.Sprintf("Sheet not found: %s", name))
	}
	w.defaultSheet = name
	return nil
}

// locate resolves an address to its grid and local cell. callers hold mu.
func (w *Workbook) locate(address string) (*Grid, Cell, error) {
	cell, err := ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return nil, Cell{}, NewApplicationError(InvalidArgument, fmt.Sprintf("Invalid address: %v", err))
	}
	grid, err := w.sheet(cell.Sheet)
	if err != nil {
		return nil, Cell{}, err
	}
	return grid, cell.Local(), nil
}

// locateRange resolves a cell or range address. callers hold mu.
func (w *Workbook) locateRange(address string) (*Grid, CellRange, error) {
	r, err := ParseRange(strings.TrimSpace(address))
	if err != nil {
		return nil, CellRange{}, NewApplicationError(InvalidArgument, fmt.Sprintf("Invalid range: %v", err))
	}
	grid, err := w.sheet(r.Sheet)
	if err != nil {
		return nil, CellRange{}, err
	}
	r.Sheet = grid.Name()
	return grid, r, nil
}

func (w *Workbook) sheet(name string) (*Grid, error) {
	if name == "" {
		name = w.defaultSheet
	}
	if name == "" {
		return nil, NewApplicationError(FailedPrecondition, "Workbook has no sheets")
	}
	grid, ok := w.registry.Lookup(name)
	if !ok {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("Sheet not found: %s", name))
	}
	return grid, nil
}

// Get returns the value of a cell. formula cells yield their computed
// value, which may be an error value such as #REF! or #CIRCULAR!.
func (w *Workbook) Get(address string) (Primitive, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	grid, cell, err := w.locate(address)
	if err != nil {
		return nil, err
	}
	return demand(grid.Get(cell.Row, cell.Column)), nil
}

// Formula returns the formula text of a cell, or "" for literal cells
func (w *Workbook) Formula(address string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	grid, cell, err := w.locate(address)
	if err != nil {
		return "", err
	}
	if expr, ok := grid.Get(cell.Row, cell.Column).(*Expression); ok {
		return expr.Formula(), nil
	}
	return "", nil
}

// Set writes a value into a cell. text starting with = is compiled into a
// formula against the cell's sheet.
func (w *Workbook) Set(address string, value Primitive) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	grid, cell, err := w.locate(address)
	if err != nil {
		return err
	}
	content, err := w.content(grid, value)
	if err != nil {
		return err
	}
	return appError(grid.Set(cell.Row, cell.Column, content))
}

// content turns a user value into what the grid stores. callers hold mu.
func (w *Workbook) content(grid *Grid, value Primitive) (any, error) {
	text, ok := value.(string)
	if !ok || !strings.HasPrefix(text, "=") {
		return value, nil
	}
	expr, err := Compile(text, w.registry.Resolver(grid))
	if err != nil {
		return nil, appError(err)
	}
	return expr, nil
}

// Remove clears a cell
func (w *Workbook) Remove(address string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	grid, cell, err := w.locate(address)
	if err != nil {
		return err
	}
	return appError(grid.Remove(cell.Row, cell.Column))
}

// snapshot captures the contents of r row by row
type snapshot struct {
	cell    Cell
	content any
}

func capture(grid *Grid, r CellRange) []snapshot {
	var cells []snapshot
	for c := range r.Cells() {
		local := c.Local()
		cells = append(cells, snapshot{cell: local, content: grid.Get(local.Row, local.Column)})
	}
	return cells
}

// Copy pastes the cells of source, a cell or range, with destination as the
// top-left corner. relative references in copied formulas move with them.
func (w *Workbook) Copy(source, destination string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	srcGrid, src, err := w.locateRange(source)
	if err != nil {
		return err
	}
	dstGrid, dst, err := w.locate(destination)
	if err != nil {
		return err
	}
	rowDelta, colDelta := dst.Row-src.FirstRow, dst.Column-src.FirstCol

	for _, s := range capture(srcGrid, src) {
		content := s.content
		if expr, ok := content.(*Expression); ok {
			text, err := ShiftExpression(expr, rowDelta, colDelta)
			if err != nil {
				return appError(err)
			}
			if content, err = w.content(dstGrid, text); err != nil {
				return err
			}
		}
		if err := dstGrid.Set(s.cell.Row+rowDelta, s.cell.Column+colDelta, content); err != nil {
			return appError(err)
		}
	}
	return nil
}

// Cut moves the cells of source to destination. references into the moved
// block, absolute or not, follow it in every formula of the workbook;
// references that point elsewhere are left alone.
func (w *Workbook) Cut(source, destination string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	srcGrid, src, err := w.locateRange(source)
	if err != nil {
		return err
	}
	dstGrid, dst, err := w.locate(destination)
	if err != nil {
		return err
	}
	rowDelta, colDelta := dst.Row-src.FirstRow, dst.Column-src.FirstCol
	if rowDelta == 0 && colDelta == 0 && srcGrid == dstGrid {
		return nil
	}

	moved := capture(srcGrid, src)
	for _, s := range moved {
		if s.content != nil {
			if err := srcGrid.Remove(s.cell.Row, s.cell.Column); err != nil {
				return appError(err)
			}
		}
	}

	// the moved block itself
	srcName := srcGrid.Name()
	target := make(map[Cell]struct{}, len(moved))
	for _, s := range moved {
		at := Cell{Sheet: dstGrid.Name(), Row: s.cell.Row + rowDelta, Column: s.cell.Column + colDelta}
		target[at] = struct{}{}
		content := s.content
		if expr, ok := content.(*Expression); ok {
			text, err := ShiftExpressionWithin(expr, rowDelta, colDelta, src, srcName)
			if err != nil {
				return appError(err)
			}
			if content, err = w.content(dstGrid, text); err != nil {
				return err
			}
		}
		if s.content == nil && dstGrid.Get(at.Row, at.Column) == nil {
			continue
		}
		if err := dstGrid.Set(at.Row, at.Column, content); err != nil {
			return appError(err)
		}
	}

	// formulas elsewhere that referenced the block
	for _, name := range w.registry.Names() {
		grid, ok := w.registry.peek(name)
		if !ok {
			continue
		}
		for cell, content := range grid.Cells() {
			expr, ok := content.(*Expression)
			if !ok {
				continue
			}
			if _, inBlock := target[cell.On(name)]; inBlock {
				continue
			}
			text, err := ShiftExpressionWithin(expr, rowDelta, colDelta, src, name)
			if err != nil || text == expr.Formula() {
				continue
			}
			rewritten, err := w.content(grid, text)
			if err != nil {
				return err
			}
			if err := grid.Set(cell.Row, cell.Column, rewritten); err != nil {
				return appError(err)
			}
		}
	}
	return nil
}

// AddSheet adds an ordinary sheet
func (w *Workbook) AddSheet(name string) error {
	return w.addSheet(name, OrdinaryGrid)
}

// AddParameterSheet adds a parameter sheet, whose formulas may name bound
// parameters
func (w *Workbook) AddParameterSheet(name string) error {
	return w.addSheet(name, ParameterGrid)
}

func (w *Workbook) addSheet(name string, kind GridKind) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if name == "" {
		return NewApplicationError(InvalidArgument, "Sheet name cannot be empty")
	}
	if _, err := w.registry.Register(context.Background(), NewGrid(name, kind)); err != nil {
		return appError(err)
	}
	if w.defaultSheet == "" {
		w.defaultSheet = name
	}
	return nil
}

// RemoveSheet removes a sheet. formulas naming it turn into #REF!.
func (w *Workbook) RemoveSheet(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.registry.Unregister(context.Background(), name); err != nil {
		return appError(err)
	}
	if w.defaultSheet == name {
		w.defaultSheet = ""
		if names := w.registry.Names(); len(names) > 0 {
			w.defaultSheet = names[0]
		}
	}
	return nil
}

// RenameSheet renames a sheet
func (w *Workbook) RenameSheet(oldName string, newName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.registry.Rename(context.Background(), oldName, newName); err != nil {
		return appError(err)
	}
	if w.defaultSheet == oldName {
		w.defaultSheet = newName
	}
	return nil
}

// DoesSheetExist checks if a sheet is registered
func (w *Workbook) DoesSheetExist(name string) bool {
	return w.registry.Contains(name)
}

// ListSheets returns all registered sheet names
func (w *Workbook) ListSheets() []string {
	return w.registry.Names()
}

// ListUnresolvedSheets returns sheets formulas name that do not exist
func (w *Workbook) ListUnresolvedSheets() []string {
	return w.registry.Unresolved()
}

// BindParameter binds a parameter name on a parameter sheet to the cell
// holding its test value. formulas compiled afterwards resolve the name.
func (w *Workbook) BindParameter(sheet string, name string, address string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	grid, err := w.sheet(sheet)
	if err != nil {
		return err
	}
	if grid.Kind() != ParameterGrid {
		return NewApplicationError(FailedPrecondition, fmt.Sprintf("Sheet %s is not a parameter sheet", grid.Name()))
	}
	if name == "" || isCell(name) || strings.ContainsAny(name, "!:' ") {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("Invalid parameter name: %q", name))
	}
	cell, err := ParseAddress(address)
	if err != nil {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("Invalid address: %v", err))
	}
	if cell.Sheet != "" && cell.Sheet != grid.Name() {
		return NewApplicationError(InvalidArgument, "Parameter cells must be on the parameter sheet")
	}
	grid.Parameters().Bind(name, cell)
	return nil
}

// UnbindParameter removes a parameter binding
func (w *Workbook) UnbindParameter(sheet string, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	grid, err := w.sheet(sheet)
	if err != nil {
		return err
	}
	if grid.Kind() != ParameterGrid {
		return NewApplicationError(FailedPrecondition, fmt.Sprintf("Sheet %s is not a parameter sheet", grid.Name()))
	}
	if !grid.Parameters().Unbind(name) {
		return NewApplicationError(NotFound, fmt.Sprintf("Parameter not found: %s", name))
	}
	return nil
}

// Recalculate invalidates formulas calling volatile functions such as NOW
// and RAND, so they are recomputed on the next read
func (w *Workbook) Recalculate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, name := range w.registry.Names() {
		if engine, ok := w.registry.Engine(name); ok {
			engine.RefreshVolatile(context.Background())
		}
	}
	return nil
}
