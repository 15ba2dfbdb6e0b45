package spreadsheet

import (
	"iter"
	"slices"
	"sync"
)

// Range represents a rectangular block of values that only range-accepting
// functions may receive
type Range interface {
	Dimensions() (rows, cols int)
	IterateValues() iter.Seq[Primitive]
}

// Matrix is the value of a range reference: rows of resolved cell values.
// empty cells are nil.
type Matrix [][]Primitive

// Dimensions returns the number of rows and columns
func (m Matrix) Dimensions() (rows, cols int) {
	if len(m) == 0 {
		return 0, 0
	}
	return len(m), len(m[0])
}

// IterateValues yields values row by row
func (m Matrix) IterateValues() iter.Seq[Primitive] {
	return func(yield func(Primitive) bool) {
		for _, row := range m {
			for _, v := range row {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// At returns the value at the given offset within the matrix
func (m Matrix) At(row, col int) Primitive {
	if row < 0 || row >= len(m) || col < 0 || col >= len(m[row]) {
		return nil
	}
	return m[row][col]
}

// ParameterTable binds the named parameters of a parameter sheet to the
// local cells holding their test values
type ParameterTable struct {
	mu       sync.RWMutex
	bindings map[string]Cell
}

// NewParameterTable creates an empty parameter table
func NewParameterTable() *ParameterTable {
	return &ParameterTable{
		bindings: make(map[string]Cell),
	}
}

// Bind binds name to a local test cell, replacing any previous binding
func (pt *ParameterTable) Bind(name string, cell Cell) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.bindings[name] = cell.Local()
}

// Unbind removes a binding. returns false if the name was not bound.
func (pt *ParameterTable) Unbind(name string) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, exists := pt.bindings[name]; !exists {
		return false
	}
	delete(pt.bindings, name)
	return true
}

// Lookup returns the test cell bound to name
func (pt *ParameterTable) Lookup(name string) (Cell, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	cell, exists := pt.bindings[name]
	return cell, exists
}

// Names returns all bound parameter names, sorted
func (pt *ParameterTable) Names() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	names := make([]string, 0, len(pt.bindings))
	for name := range pt.bindings {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of bound parameters
func (pt *ParameterTable) Count() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.bindings)
}
