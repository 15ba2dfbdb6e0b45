package spreadsheet

import (
	"errors"
	"fmt"
)

// Resolver turns reference tokens into parameter keys and fetches the live
// values behind them. it is bound to the grid that owns the formulas and
// to the registry used for cross-sheet lookups; a nil registry confines
// resolution to the local grid.
type Resolver struct {
	grid     *Grid
	registry *Registry
}

// NewResolver creates a resolver for formulas stored in grid
func NewResolver(grid *Grid, registry *Registry) *Resolver {
	return &Resolver{grid: grid, registry: registry}
}

// Grid returns the grid the resolver interprets local references against
func (r *Resolver) Grid() *Grid {
	return r.grid
}

// Registry returns the registry used for cross-sheet references
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve maps a reference token to a Cell, a CellRange or an
// IllegalReference. a token that is not cell or range syntax resolves
// through the parameter table of a parameter sheet, and fails with
// ErrNotParameter everywhere else.
func (r *Resolver) Resolve(token string) (ParameterKey, error) {
	ref, err := parseReference(token)
	if errors.Is(err, errBeyondSheet) {
		return IllegalReference{Token: token}, nil
	}
	if err != nil {
		return r.resolveParameter(token)
	}
	if ref.illegal {
		return IllegalReference{Token: token}, nil
	}

	if ref.end == nil {
		if r.isCrossMode(ref.sheet) {
			return IllegalReference{Token: token}, nil
		}
		return ref.start.cell(ref.sheet), nil
	}

	cellRange, ok := NewCellRange(ref.start.cell(ref.sheet), ref.end.cell(ref.endSheet))
	if !ok || r.isCrossMode(cellRange.Sheet) {
		return IllegalReference{Token: token}, nil
	}
	return cellRange, nil
}

func (r *Resolver) resolveParameter(token string) (ParameterKey, error) {
	if r.grid == nil || r.grid.Kind() != ParameterGrid {
		return nil, fmt.Errorf("%w: %s", ErrNotParameter, token)
	}
	cell, ok := r.grid.Parameters().Lookup(token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotParameter, token)
	}
	return cell, nil
}

// isCrossMode reports whether sheet names a registered grid whose kind
// differs from the local one. unknown sheets are not cross-mode; they fail
// later, when their values are demanded.
func (r *Resolver) isCrossMode(sheet string) bool {
	if sheet == "" || r.registry == nil || r.grid == nil {
		return false
	}
	target, ok := r.registry.peek(sheet)
	return ok && target.Kind() != r.grid.Kind()
}

// ValueOf fetches the value behind a resolved key. cells holding an
// Expression yield its computed value. an IllegalReference, or a reference
// into a sheet the registry does not know, fails with ErrIllegalCell.
func (r *Resolver) ValueOf(key ParameterKey) (Primitive, error) {
	switch k := key.(type) {
	case IllegalReference:
		return nil, fmt.Errorf("%w: %s", ErrIllegalCell, k.Token)

	case Cell:
		grid, err := r.gridFor(k.Sheet)
		if err != nil {
			return nil, err
		}
		return demand(grid.Get(k.Row, k.Column)), nil

	case CellRange:
		grid, err := r.gridFor(k.Sheet)
		if err != nil {
			return nil, err
		}
		matrix := make(Matrix, k.Rows())
		for i := range matrix {
			matrix[i] = make([]Primitive, k.Columns())
			for j := range matrix[i] {
				matrix[i][j] = demand(grid.Get(k.FirstRow+i, k.FirstCol+j))
			}
		}
		return matrix, nil
	}
	return nil, fmt.Errorf("%w: unsupported key %T", ErrIllegalCell, key)
}

// gridFor returns the grid a possibly sheet-qualified cell lives in
func (r *Resolver) gridFor(sheet string) (*Grid, error) {
	if sheet == "" {
		if r.grid == nil {
			return nil, fmt.Errorf("%w: no local sheet", ErrIllegalCell)
		}
		return r.grid, nil
	}
	if r.registry == nil {
		return nil, fmt.Errorf("%w: sheet %q is not registered", ErrIllegalCell, sheet)
	}
	grid, ok := r.registry.Lookup(sheet)
	if !ok {
		return nil, fmt.Errorf("%w: sheet %q is not registered", ErrIllegalCell, sheet)
	}
	return grid, nil
}

// expressionsFor returns the expressions stored at the cells a key names.
// unresolvable keys name nothing.
func (r *Resolver) expressionsFor(key ParameterKey) []*Expression {
	switch k := key.(type) {
	case Cell:
		grid, err := r.gridFor(k.Sheet)
		if err != nil {
			return nil
		}
		if expr, ok := grid.Get(k.Row, k.Column).(*Expression); ok {
			return []*Expression{expr}
		}
	case CellRange:
		grid, err := r.gridFor(k.Sheet)
		if err != nil {
			return nil
		}
		return grid.Expressions(k)
	}
	return nil
}

// demand replaces a stored Expression with its computed value
func demand(v any) Primitive {
	if expr, ok := v.(*Expression); ok {
		return expr.Value()
	}
	return v
}
