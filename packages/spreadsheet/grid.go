package spreadsheet

import (
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// GridKind distinguishes ordinary sheets from parameter sheets
type GridKind uint8

const (
	OrdinaryGrid  GridKind = 0
	ParameterGrid GridKind = 1 // function/type definition sheet
)

func (k GridKind) String() string {
	if k == ParameterGrid {
		return "parameters"
	}
	return "ordinary"
}

// ChangeEvent describes a write to the rows FirstRow..LastRow of one column
type ChangeEvent struct {
	Grid     *Grid
	FirstRow int
	LastRow  int
	Column   int
}

// Cells returns the local cells covered by the event
func (e ChangeEvent) Cells() []Cell {
	cells := make([]Cell, 0, e.LastRow-e.FirstRow+1)
	for row := e.FirstRow; row <= e.LastRow; row++ {
		cells = append(cells, Cell{Row: row, Column: e.Column})
	}
	return cells
}

// ChangeListener receives write notifications from a grid. listeners are
// invoked synchronously, after the grid lock has been released.
type ChangeListener interface {
	GridChanged(evt ChangeEvent)
}

// ChunkKey represents the key for indexing chunks in a Grid
type ChunkKey struct {
	ChunkRow int
	ChunkCol int
}

const (
	ChunkRows = 256                   // rows per chunk
	ChunkCols = 256                   // columns per chunk
	ChunkSize = ChunkRows * ChunkCols // 65536 cells per chunk
)

// Chunk represents a 256x256 region of cells using structure-of-arrays
// layout. only Types exists initially, the value arrays are allocated
// lazily when a cell of a matching type is stored.
type Chunk struct {
	Types         []uint8
	NonEmptyCount int

	Numbers   []float64 // numbers, booleans, chars and error codes (lazy)
	StringIDs []uint32  // interned text and error messages (lazy)
	Others    []any     // expressions, dates, instances and matrices (lazy)
}

// Grid is sparse cell storage for one sheet. every Set fires a change
// notification to the registered listeners; Put stores silently and is
// meant for bulk loads that are followed by one explicit update.
//
// cells are partitioned into 256x256 chunks for spatial locality and
// memory is only allocated for regions that hold data.
type Grid struct {
	mu          sync.RWMutex
	name        string
	kind        GridKind
	chunks      map[ChunkKey]*Chunk
	strings     *StringTable
	totalCells  int
	cellsByType [10]uint32
	params      *ParameterTable

	listenersMu sync.Mutex
	listeners   []ChangeListener
}

// NewGrid creates an empty grid
func NewGrid(name string, kind GridKind) *Grid {
	g := &Grid{
		name:    name,
		kind:    kind,
		chunks:  make(map[ChunkKey]*Chunk),
		strings: NewStringTable(),
	}
	if kind == ParameterGrid {
		g.params = NewParameterTable()
	}
	return g
}

// Name returns the sheet name the grid is registered under
func (g *Grid) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.name
}

func (g *Grid) setName(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
}

// Kind returns whether this is an ordinary or a parameter sheet
func (g *Grid) Kind() GridKind {
	return g.kind
}

// Parameters returns the parameter bindings of a parameter sheet, nil for
// ordinary sheets
func (g *Grid) Parameters() *ParameterTable {
	return g.params
}

// AddListener subscribes l to write notifications
func (g *Grid) AddListener(l ChangeListener) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	g.listeners = append(g.listeners, l)
}

// RemoveListener unsubscribes l
func (g *Grid) RemoveListener(l ChangeListener) {
	g.listenersMu.Lock()
	defer g.listenersMu.Unlock()
	g.listeners = slices.DeleteFunc(g.listeners, func(x ChangeListener) bool { return x == l })
}

func (g *Grid) notify(evt ChangeEvent, skip ChangeListener) {
	g.listenersMu.Lock()
	listeners := slices.Clone(g.listeners)
	g.listenersMu.Unlock()

	for _, l := range listeners {
		if skip != nil && l == skip {
			continue
		}
		l.GridChanged(evt)
	}
}

// Get returns the content stored at (row, col): a literal, an
// *Expression, or nil when the cell is empty
func (g *Grid) Get(row, col int) any {
	if row < 0 || col < 0 {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.load(row, col)
}

// Set stores value at (row, col) and notifies listeners. when another
// goroutine is already running an invalidation pass on this grid's engine,
// the pass for this write is queued behind it and may not have run when
// Set returns; callers that need to read their own writes from several
// goroutines serialize access themselves, as Workbook does.
func (g *Grid) Set(row, col int, value any) error {
	if err := g.Put(row, col, value); err != nil {
		return err
	}
	g.notify(ChangeEvent{Grid: g, FirstRow: row, LastRow: row, Column: col}, nil)
	return nil
}

// SetColumn stores values downwards from (firstRow, col) and fires a single
// notification covering all written rows
func (g *Grid) SetColumn(firstRow, col int, values []any) error {
	if len(values) == 0 {
		return nil
	}
	for _, v := range values {
		if err := checkStorable(firstRow, col, v); err != nil {
			return err
		}
	}

	g.mu.Lock()
	for i, v := range values {
		g.store(firstRow+i, col, v)
	}
	g.mu.Unlock()

	g.notify(ChangeEvent{Grid: g, FirstRow: firstRow, LastRow: firstRow + len(values) - 1, Column: col}, nil)
	return nil
}

// Put stores value at (row, col) without notifying listeners
func (g *Grid) Put(row, col int, value any) error {
	if err := checkStorable(row, col, value); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store(row, col, value)
	return nil
}

// Remove clears the cell at (row, col) and notifies listeners
func (g *Grid) Remove(row, col int) error {
	return g.Set(row, col, nil)
}

// Reannounce fires a notification for the cell without changing it, to
// every listener except skip
func (g *Grid) Reannounce(row, col int, skip ChangeListener) {
	g.notify(ChangeEvent{Grid: g, FirstRow: row, LastRow: row, Column: col}, skip)
}

func checkStorable(row, col int, value any) error {
	if row < 0 || col < 0 || row >= MaxRows || col >= MaxColumns {
		return fmt.Errorf("%w: row %d, column %d", ErrInvalidAddress, row, col)
	}
	if _, ok := value.(*Expression); ok {
		return nil
	}
	if !IsAcceptedValue(value) {
		return fmt.Errorf("%w: cannot store %T", ErrArgumentType, value)
	}
	return nil
}

func locate(row, col int) (ChunkKey, int) {
	key := ChunkKey{ChunkRow: row / ChunkRows, ChunkCol: col / ChunkCols}
	// column-first indexing for better cache locality
	idx := (col%ChunkCols)*ChunkRows + row%ChunkRows
	return key, idx
}

// load reads a cell. callers hold g.mu.
func (g *Grid) load(row, col int) any {
	key, idx := locate(row, col)
	chunk, exists := g.chunks[key]
	if !exists {
		return nil
	}

	switch CellType(chunk.Types[idx]) {
	case CellValueTypeNumber:
		return chunk.Numbers[idx]
	case CellValueTypeBoolean:
		return chunk.Numbers[idx] != 0
	case CellValueTypeChar:
		return rune(chunk.Numbers[idx])
	case CellValueTypeString:
		s, _ := g.strings.GetString(chunk.StringIDs[idx])
		return s
	case CellValueTypeError:
		message, _ := g.strings.GetString(chunk.StringIDs[idx])
		return &SpreadsheetError{ErrorCode: ErrorCode(chunk.Numbers[idx]), Message: message}
	case CellValueTypeDate, CellValueTypeFormula, CellValueTypeInstance, CellValueTypeMatrix:
		return chunk.Others[idx]
	}
	return nil
}

// store writes a cell. callers hold g.mu for writing.
func (g *Grid) store(row, col int, value any) {
	key, idx := locate(row, col)
	chunk, exists := g.chunks[key]
	if !exists {
		if value == nil {
			return
		}
		chunk = &Chunk{Types: make([]uint8, ChunkSize)}
		g.chunks[key] = chunk
	}

	oldType := CellType(chunk.Types[idx])
	g.release(chunk, idx, oldType)

	newType := TypeOf(value)
	chunk.Types[idx] = uint8(newType)

	switch v := value.(type) {
	case float64:
		chunk.setNumber(idx, v)
	case int:
		chunk.setNumber(idx, float64(v))
	case int64:
		chunk.setNumber(idx, float64(v))
	case bool:
		if v {
			chunk.setNumber(idx, 1)
		} else {
			chunk.setNumber(idx, 0)
		}
	case rune:
		chunk.setNumber(idx, float64(v))
	case string:
		chunk.setString(idx, g.strings.Intern(v))
	case *SpreadsheetError:
		chunk.setNumber(idx, float64(v.ErrorCode))
		chunk.setString(idx, g.strings.Intern(v.Message))
	case time.Time, *Expression, TypedInstance, Matrix:
		chunk.setOther(idx, v)
	}

	switch {
	case oldType == CellValueTypeEmpty && newType != CellValueTypeEmpty:
		chunk.NonEmptyCount++
		g.totalCells++
	case oldType != CellValueTypeEmpty && newType == CellValueTypeEmpty:
		chunk.NonEmptyCount--
		g.totalCells--
	}
	if oldType != CellValueTypeEmpty {
		g.cellsByType[oldType]--
	}
	if newType != CellValueTypeEmpty {
		g.cellsByType[newType]++
	}

	if chunk.NonEmptyCount == 0 {
		delete(g.chunks, key)
	}
}

// release drops whatever the slot held before it is overwritten
func (g *Grid) release(chunk *Chunk, idx int, oldType CellType) {
	switch oldType {
	case CellValueTypeString, CellValueTypeError:
		g.strings.RemoveReference(chunk.StringIDs[idx])
		chunk.StringIDs[idx] = 0
	case CellValueTypeDate, CellValueTypeFormula, CellValueTypeInstance, CellValueTypeMatrix:
		chunk.Others[idx] = nil
	}
}

func (c *Chunk) setNumber(idx int, v float64) {
	if c.Numbers == nil {
		c.Numbers = make([]float64, ChunkSize)
	}
	c.Numbers[idx] = v
}

func (c *Chunk) setString(idx int, id uint32) {
	if c.StringIDs == nil {
		c.StringIDs = make([]uint32, ChunkSize)
	}
	c.StringIDs[idx] = id
}

func (c *Chunk) setOther(idx int, v any) {
	if c.Others == nil {
		c.Others = make([]any, ChunkSize)
	}
	c.Others[idx] = v
}

// Cells iterates the non-empty cells in row-major order over a snapshot
// taken when iteration starts
func (g *Grid) Cells() iter.Seq2[Cell, any] {
	return func(yield func(Cell, any) bool) {
		type entry struct {
			cell  Cell
			value any
		}

		g.mu.RLock()
		entries := make([]entry, 0, g.totalCells)
		for key, chunk := range g.chunks {
			for idx, t := range chunk.Types {
				if t == uint8(CellValueTypeEmpty) {
					continue
				}
				row := key.ChunkRow*ChunkRows + idx%ChunkRows
				col := key.ChunkCol*ChunkCols + idx/ChunkRows
				entries = append(entries, entry{cell: Cell{Row: row, Column: col}, value: g.load(row, col)})
			}
		}
		g.mu.RUnlock()

		slices.SortFunc(entries, func(a, b entry) int {
			return compareCells(a.cell, b.cell)
		})
		for _, e := range entries {
			if !yield(e.cell, e.value) {
				return
			}
		}
	}
}

// Expressions returns the compiled formulas stored within r, ignoring the
// range's sheet
func (g *Grid) Expressions(r CellRange) []*Expression {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*Expression
	for key, chunk := range g.chunks {
		if chunk.Others == nil {
			continue
		}
		firstRow, firstCol := key.ChunkRow*ChunkRows, key.ChunkCol*ChunkCols
		if firstRow > r.LastRow || firstRow+ChunkRows <= r.FirstRow ||
			firstCol > r.LastCol || firstCol+ChunkCols <= r.FirstCol {
			continue
		}
		for row := max(firstRow, r.FirstRow); row <= min(firstRow+ChunkRows-1, r.LastRow); row++ {
			for col := max(firstCol, r.FirstCol); col <= min(firstCol+ChunkCols-1, r.LastCol); col++ {
				_, idx := locate(row, col)
				if expr, ok := chunk.Others[idx].(*Expression); ok {
					result = append(result, expr)
				}
			}
		}
	}
	return result
}

// Bounds returns the smallest range covering every non-empty cell
func (g *Grid) Bounds() (CellRange, bool) {
	found := false
	var bounds CellRange
	for cell := range g.Cells() {
		if !found {
			bounds = CellRange{FirstRow: cell.Row, FirstCol: cell.Column, LastRow: cell.Row, LastCol: cell.Column}
			found = true
			continue
		}
		bounds.FirstRow = min(bounds.FirstRow, cell.Row)
		bounds.LastRow = max(bounds.LastRow, cell.Row)
		bounds.FirstCol = min(bounds.FirstCol, cell.Column)
		bounds.LastCol = max(bounds.LastCol, cell.Column)
	}
	return bounds, found
}

// Len returns the total number of non-empty cells
func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.totalCells
}

// CellTypeCount returns the count of cells of a specific type
func (g *Grid) CellTypeCount(cellType CellType) uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(cellType) < len(g.cellsByType) {
		return g.cellsByType[cellType]
	}
	return 0
}

// InternedStrings returns the number of distinct text literals held
func (g *Grid) InternedStrings() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.strings.Count()
}
