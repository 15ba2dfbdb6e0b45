package spreadsheet

import (
	"slices"
	"sync"
)

// TypeIndex tracks which cells currently hold an instance of each
// user-defined type. it is bookkeeping refreshed by invalidation passes,
// not a source of dependency edges. cells are sheet-qualified.
type TypeIndex struct {
	mu     sync.RWMutex
	byType map[string]map[Cell]struct{}
	byCell map[Cell]string
}

// NewTypeIndex creates an empty type index
func NewTypeIndex() *TypeIndex {
	return &TypeIndex{
		byType: make(map[string]map[Cell]struct{}),
		byCell: make(map[Cell]string),
	}
}

// Refresh records the value now stored at cell, dropping whatever instance
// the cell held before
func (ti *TypeIndex) Refresh(cell Cell, value any) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	ti.forgetLocked(cell)
	instance, ok := value.(TypedInstance)
	if !ok {
		return
	}
	name := instance.TypeName()
	set, ok := ti.byType[name]
	if !ok {
		set = make(map[Cell]struct{})
		ti.byType[name] = set
	}
	set[cell] = struct{}{}
	ti.byCell[cell] = name
}

func (ti *TypeIndex) forgetLocked(cell Cell) {
	name, ok := ti.byCell[cell]
	if !ok {
		return
	}
	delete(ti.byCell, cell)
	delete(ti.byType[name], cell)
	if len(ti.byType[name]) == 0 {
		delete(ti.byType, name)
	}
}

// Cells returns the cells holding an instance of typeName
func (ti *TypeIndex) Cells(typeName string) []Cell {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	cells := make([]Cell, 0, len(ti.byType[typeName]))
	for c := range ti.byType[typeName] {
		cells = append(cells, c)
	}
	slices.SortFunc(cells, compareCells)
	return cells
}

// TypeAt returns the type name of the instance stored at cell
func (ti *TypeIndex) TypeAt(cell Cell) (string, bool) {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	name, ok := ti.byCell[cell]
	return name, ok
}

// Forget drops every entry of sheet
func (ti *TypeIndex) Forget(sheet string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	for cell := range ti.byCell {
		if cell.Sheet == sheet {
			ti.forgetLocked(cell)
		}
	}
}

// Len returns the number of indexed instances
func (ti *TypeIndex) Len() int {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	return len(ti.byCell)
}
