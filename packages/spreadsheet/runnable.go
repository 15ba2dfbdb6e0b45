package spreadsheet

import (
	"fmt"
)

// RunnableWorkbook provides a chainable interface for workbook operations.
// wraps the standard Workbook and tracks the first error internally; every
// step after a failure is a no-op.
type RunnableWorkbook struct {
	workbook *Workbook
	err      error
	printLn  func(string)
}

// NewRunnableWorkbook creates a new RunnableWorkbook on an empty workbook
// with a single sheet named "Sheet1". printLn is required and is used by
// Log and CheckError.
func NewRunnableWorkbook(printLn func(string), opts ...Option) *RunnableWorkbook {
	r := &RunnableWorkbook{
		workbook: NewWorkbook(opts...),
		printLn:  printLn,
	}
	r.err = r.workbook.AddSheet("Sheet1")
	return r
}

// step runs fn unless the chain already failed
func (r *RunnableWorkbook) step(fn func(w *Workbook) error) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	r.err = fn(r.workbook)
	return r
}

// Set sets a cell value (chainable)
func (r *RunnableWorkbook) Set(address string, value Primitive) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.Set(address, value) })
}

// Remove clears a cell (chainable)
func (r *RunnableWorkbook) Remove(address string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.Remove(address) })
}

// Copy pastes a copy of source at destination (chainable)
func (r *RunnableWorkbook) Copy(source, destination string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.Copy(source, destination) })
}

// Cut moves source to destination (chainable)
func (r *RunnableWorkbook) Cut(source, destination string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.Cut(source, destination) })
}

// AddSheet adds a new sheet (chainable)
func (r *RunnableWorkbook) AddSheet(name string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.AddSheet(name) })
}

// AddParameterSheet adds a new parameter sheet (chainable)
func (r *RunnableWorkbook) AddParameterSheet(name string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.AddParameterSheet(name) })
}

// RemoveSheet removes a sheet (chainable)
func (r *RunnableWorkbook) RemoveSheet(name string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.RemoveSheet(name) })
}

// RenameSheet renames a sheet (chainable)
func (r *RunnableWorkbook) RenameSheet(oldName, newName string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.RenameSheet(oldName, newName) })
}

// WithSheet ensures a sheet exists before continuing (chainable)
func (r *RunnableWorkbook) WithSheet(name string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error {
		if w.DoesSheetExist(name) {
			return nil
		}
		return w.AddSheet(name)
	})
}

// BindParameter binds a parameter on a parameter sheet (chainable)
func (r *RunnableWorkbook) BindParameter(sheet, name, address string) *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.BindParameter(sheet, name, address) })
}

// Recalculate refreshes volatile formulas (chainable)
func (r *RunnableWorkbook) Recalculate() *RunnableWorkbook {
	return r.step(func(w *Workbook) error { return w.Recalculate() })
}

// SetBatch sets multiple cells. the map is applied in no particular order,
// so formulas should not depend on each other being written first.
func (r *RunnableWorkbook) SetBatch(cells map[string]Primitive) *RunnableWorkbook {
	return r.step(func(w *Workbook) error {
		for address, value := range cells {
			if err := w.Set(address, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Run returns the workbook and any error. typically the last method in the
// chain
func (r *RunnableWorkbook) Run() (*Workbook, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.workbook, nil
}

// RunOrPanic returns the workbook and panics if there's an error. useful
// for examples and tests where you want to fail fast
func (r *RunnableWorkbook) RunOrPanic() *Workbook {
	workbook, err := r.Run()
	if err != nil {
		panic(err)
	}
	return workbook
}

// Error returns the current error state
func (r *RunnableWorkbook) Error() error {
	return r.err
}

// CheckError logs the current error using the printLn function (chainable)
func (r *RunnableWorkbook) CheckError() *RunnableWorkbook {
	if r.err != nil {
		r.printLn(fmt.Sprintf("ERROR: %v", r.err))
	} else {
		r.printLn("No errors")
	}
	return r
}

// Workbook returns the underlying workbook. use with caution as it
// bypasses error tracking.
func (r *RunnableWorkbook) Workbook() *Workbook {
	return r.workbook
}

// Reset clears the error state (chainable)
func (r *RunnableWorkbook) Reset() *RunnableWorkbook {
	r.err = nil
	return r
}

// Then allows conditional execution based on current error state
func (r *RunnableWorkbook) Then(fn func(*RunnableWorkbook) *RunnableWorkbook) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	return fn(r)
}

// OnError allows error handling in the chain
func (r *RunnableWorkbook) OnError(fn func(error) error) *RunnableWorkbook {
	if r.err != nil {
		r.err = fn(r.err)
	}
	return r
}

// Must panics if there's an error (chainable)
func (r *RunnableWorkbook) Must() *RunnableWorkbook {
	if r.err != nil {
		panic(r.err)
	}
	return r
}

// If allows conditional operations in the chain
func (r *RunnableWorkbook) If(condition bool, fn func(*RunnableWorkbook) *RunnableWorkbook) *RunnableWorkbook {
	if r.err != nil || !condition {
		return r
	}
	return fn(r)
}

// ForEach calls fn with the address of every cell of a range, row by row,
// stopping at the first error (chainable)
func (r *RunnableWorkbook) ForEach(rangeAddress string, fn func(address string, r *RunnableWorkbook)) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	cells, err := ParseRange(rangeAddress)
	if err != nil {
		r.err = appError(err)
		return r
	}
	for cell := range cells.Cells() {
		fn(cell.String(), r)
		if r.err != nil {
			return r
		}
	}
	return r
}

// Value is a helper to get a single value from the chain.
// example: val := NewRunnableWorkbook(println).Set("A1", 10).Set("A2", "=A1*2").Value("A2")
func (r *RunnableWorkbook) Value(address string) Primitive {
	if r.err != nil {
		return nil
	}
	val, err := r.workbook.Get(address)
	if err != nil {
		r.err = err
		return nil
	}
	return val
}

// Values is a helper to get multiple values from the chain
func (r *RunnableWorkbook) Values(addresses ...string) []Primitive {
	if r.err != nil {
		return nil
	}
	values := make([]Primitive, len(addresses))
	for i, address := range addresses {
		val, err := r.workbook.Get(address)
		if err != nil {
			r.err = err
			return nil
		}
		values[i] = val
	}
	return values
}

// Log prints the value of a cell using the printLn function (chainable)
func (r *RunnableWorkbook) Log(address string) *RunnableWorkbook {
	if r.err != nil {
		return r
	}
	val, err := r.workbook.Get(address)
	if err != nil {
		r.err = err
		return r
	}

	var output string
	if val == nil {
		output = fmt.Sprintf("%s: <empty>", address)
	} else {
		output = fmt.Sprintf("%s: %s", address, ToText(val))
	}
	r.printLn(output)
	return r
}
