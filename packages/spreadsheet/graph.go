package spreadsheet

import (
	"slices"
	"sync"
)

// DependencyIndex is the reverse-edge index of one grid: for every cell a
// formula references, the local cells whose formulas reference it. keys
// keep the sheet qualifier the formula was written with, so a reference to
// "Sheet2!A1" is indexed under that qualified cell and a plain "A1" under
// the local one.
//
// the edges registered for a cell are always exactly the ones derived from
// the parameter map of the Expression currently tracked for it.
type DependencyIndex struct {
	mu         sync.RWMutex
	dependents map[Cell]map[Cell]struct{}   // referenced -> referencing
	tracked    map[Cell]*Expression         // referencing cell -> its expression
	sheets     map[string]map[Cell]struct{} // referenced sheet -> referencing cells
}

// NewDependencyIndex creates an empty index
func NewDependencyIndex() *DependencyIndex {
	return &DependencyIndex{
		dependents: make(map[Cell]map[Cell]struct{}),
		tracked:    make(map[Cell]*Expression),
		sheets:     make(map[string]map[Cell]struct{}),
	}
}

// UpdateCellParameters brings the edges sourced from cell in line with the
// value now stored there. edges of a replaced Expression are removed, edges
// of a newly stored one are added. returns false when nothing changed.
func (di *DependencyIndex) UpdateCellParameters(cell Cell, value any) bool {
	cell = cell.Local()
	expr, _ := value.(*Expression)

	di.mu.Lock()
	defer di.mu.Unlock()

	old, tracked := di.tracked[cell]
	if tracked && old == expr {
		return false
	}
	if tracked {
		di.removeEdges(cell, old)
		delete(di.tracked, cell)
	}
	if expr != nil {
		di.addEdges(cell, expr)
		di.tracked[cell] = expr
	}
	return tracked || expr != nil
}

// parameterCells expands a parameter key into the cells it names. ranges
// expand to one cell per position, illegal references name nothing.
func parameterCells(key ParameterKey) []Cell {
	switch k := key.(type) {
	case Cell:
		return []Cell{k}
	case CellRange:
		return slices.Collect(k.Cells())
	}
	return nil
}

func parameterSheet(key ParameterKey) string {
	switch k := key.(type) {
	case Cell:
		return k.Sheet
	case CellRange:
		return k.Sheet
	}
	return ""
}

// addEdges registers param -> cell for every key of expr. callers hold mu.
func (di *DependencyIndex) addEdges(cell Cell, expr *Expression) {
	for _, key := range expr.ParameterKeys() {
		for _, p := range parameterCells(key) {
			set, ok := di.dependents[p]
			if !ok {
				set = make(map[Cell]struct{})
				di.dependents[p] = set
			}
			set[cell] = struct{}{}
		}
		if sheet := parameterSheet(key); sheet != "" {
			set, ok := di.sheets[sheet]
			if !ok {
				set = make(map[Cell]struct{})
				di.sheets[sheet] = set
			}
			set[cell] = struct{}{}
		}
	}
}

// removeEdges drops param -> cell for every key of expr. callers hold mu.
func (di *DependencyIndex) removeEdges(cell Cell, expr *Expression) {
	for _, key := range expr.ParameterKeys() {
		for _, p := range parameterCells(key) {
			if set, ok := di.dependents[p]; ok {
				delete(set, cell)
				if len(set) == 0 {
					delete(di.dependents, p)
				}
			}
		}
		if sheet := parameterSheet(key); sheet != "" {
			if set, ok := di.sheets[sheet]; ok {
				delete(set, cell)
				if len(set) == 0 {
					delete(di.sheets, sheet)
				}
			}
		}
	}
}

// Dependents returns the cells directly referencing c, in row-major order
func (di *DependencyIndex) Dependents(c Cell) []Cell {
	di.mu.RLock()
	defer di.mu.RUnlock()
	return di.dependentsLocked(c)
}

func (di *DependencyIndex) dependentsLocked(c Cell) []Cell {
	set := di.dependents[c]
	if len(set) == 0 {
		return nil
	}
	cells := make([]Cell, 0, len(set))
	for dep := range set {
		cells = append(cells, dep)
	}
	slices.SortFunc(cells, compareCells)
	return cells
}

// AllReferringCells returns every cell that transitively references start,
// never start itself. a cell reached again through a longer path is moved
// to the end, so it follows the cells that feed into it. with cycles the
// order is best effort.
func (di *DependencyIndex) AllReferringCells(start Cell) []Cell {
	di.mu.RLock()
	defer di.mu.RUnlock()

	var result []Cell
	position := make(map[Cell]int)

	var visit func(c Cell)
	visit = func(c Cell) {
		for _, d := range di.dependentsLocked(c) {
			if d == start {
				continue
			}
			if i, seen := position[d]; seen {
				result = append(slices.Delete(result, i, i+1), d)
				for j := i; j < len(result); j++ {
					position[result[j]] = j
				}
				continue
			}
			position[d] = len(result)
			result = append(result, d)
			visit(d)
		}
	}

	visit(start)
	return result
}

// ReferencingSheet returns the local cells whose formulas name the sheet
// explicitly
func (di *DependencyIndex) ReferencingSheet(name string) []Cell {
	di.mu.RLock()
	defer di.mu.RUnlock()
	cells := make([]Cell, 0, len(di.sheets[name]))
	for c := range di.sheets[name] {
		cells = append(cells, c)
	}
	slices.SortFunc(cells, compareCells)
	return cells
}

// ReferencedSheets returns the sheets named explicitly by tracked formulas
func (di *DependencyIndex) ReferencedSheets() []string {
	di.mu.RLock()
	defer di.mu.RUnlock()
	names := make([]string, 0, len(di.sheets))
	for name := range di.sheets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Precedents returns the cells c's tracked expression is indexed under
func (di *DependencyIndex) Precedents(c Cell) []Cell {
	c = c.Local()
	di.mu.RLock()
	defer di.mu.RUnlock()

	var cells []Cell
	for p, set := range di.dependents {
		if _, ok := set[c]; ok {
			cells = append(cells, p)
		}
	}
	slices.SortFunc(cells, compareCells)
	return cells
}

// Tracked returns the expression the index holds edges for at cell
func (di *DependencyIndex) Tracked(cell Cell) (*Expression, bool) {
	di.mu.RLock()
	defer di.mu.RUnlock()
	expr, ok := di.tracked[cell.Local()]
	return expr, ok
}

// TrackedCells returns every cell holding a tracked expression
func (di *DependencyIndex) TrackedCells() []Cell {
	di.mu.RLock()
	defer di.mu.RUnlock()
	cells := make([]Cell, 0, len(di.tracked))
	for c := range di.tracked {
		cells = append(cells, c)
	}
	slices.SortFunc(cells, compareCells)
	return cells
}

// EdgeCount returns the number of registered edges
func (di *DependencyIndex) EdgeCount() int {
	di.mu.RLock()
	defer di.mu.RUnlock()
	count := 0
	for _, set := range di.dependents {
		count += len(set)
	}
	return count
}

// Clear drops all edges and tracked expressions
func (di *DependencyIndex) Clear() {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.dependents = make(map[Cell]map[Cell]struct{})
	di.tracked = make(map[Cell]*Expression)
	di.sheets = make(map[string]map[Cell]struct{})
}

func compareCells(a, b Cell) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
