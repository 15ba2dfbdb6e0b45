package spreadsheet

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the cells announced by a grid
type recorder struct {
	cells  []Cell
	onCell func(c Cell)
}

func (r *recorder) GridChanged(evt ChangeEvent) {
	for _, c := range evt.Cells() {
		r.cells = append(r.cells, c)
		if r.onCell != nil {
			r.onCell(c)
		}
	}
}

func newTestEngine(t *testing.T) (*Grid, *Engine) {
	t.Helper()
	grid := NewGrid("Sheet1", OrdinaryGrid)
	return grid, NewEngine(grid, nil, slog.New(slog.DiscardHandler))
}

func setFormula(t *testing.T, grid *Grid, address, formula string) *Expression {
	t.Helper()
	expr := compileOn(t, grid, formula)
	c := cellAt(address)
	require.NoError(t, grid.Set(c.Row, c.Column, expr))
	return expr
}

func set(t *testing.T, grid *Grid, address string, value any) {
	t.Helper()
	c := cellAt(address)
	require.NoError(t, grid.Set(c.Row, c.Column, value))
}

func TestEngineInvalidatesTransitiveDependents(t *testing.T) {
	grid, engine := newTestEngine(t)

	set(t, grid, "A1", 1.0)
	a2 := setFormula(t, grid, "A2", "=A1*2")
	a3 := setFormula(t, grid, "A3", "=A2+1")

	assert.Equal(t, 3.0, a3.Value())
	assert.True(t, a2.Valid())
	assert.True(t, a3.Valid())
	assert.Equal(t, []Cell{cellAt("A2"), cellAt("A3")}, engine.Index().AllReferringCells(cellAt("A1")))

	set(t, grid, "A1", 5.0)
	assert.False(t, a2.Valid())
	assert.False(t, a3.Valid())
	assert.Equal(t, 11.0, a3.Value())
}

func TestEngineReannouncesAffectedCells(t *testing.T) {
	grid, _ := newTestEngine(t)
	rec := &recorder{}
	grid.AddListener(rec)

	setFormula(t, grid, "A2", "=A1*2")
	setFormula(t, grid, "A3", "=A2+1")
	rec.cells = nil

	set(t, grid, "A1", 1.0)
	// the affected cells first, then the original write
	assert.Equal(t, []Cell{cellAt("A2"), cellAt("A3"), cellAt("A1")}, rec.cells)
}

func TestEngineMarksCycleMembers(t *testing.T) {
	grid, _ := newTestEngine(t)

	a1 := setFormula(t, grid, "A1", "=B1")
	b1 := setFormula(t, grid, "B1", "=A1")

	assert.True(t, IsCircularity(a1.Failure()))
	assert.True(t, IsCircularity(b1.Failure()))
	assert.True(t, IsCircularity(a1.Value()))
	assert.True(t, IsCircularity(b1.Value()))
}

func TestEngineWriteDuringPassIsQueued(t *testing.T) {
	grid, engine := newTestEngine(t)

	setFormula(t, grid, "A2", "=A1")
	c1 := setFormula(t, grid, "C1", "=B1*10")
	assert.Equal(t, 0.0, c1.Value())

	written := false
	rec := &recorder{onCell: func(c Cell) {
		// write from inside the announce step of the running pass
		if c == cellAt("A2") && !written {
			written = true
			set(t, grid, "B1", 4.0)
		}
	}}
	grid.AddListener(rec)

	set(t, grid, "A1", 1.0)
	require.True(t, written)
	assert.False(t, c1.Valid(), "the queued pass ran before the outer write returned")
	assert.Equal(t, 40.0, c1.Value())
	assert.Equal(t, []Cell{cellAt("C1")}, engine.Index().Dependents(cellAt("B1")))
}

func TestEngineReferencePastSheetEnd(t *testing.T) {
	grid, engine := newTestEngine(t)

	set(t, grid, "A1", 2.0)
	b5 := setFormula(t, grid, "B5", "=SUM(A1:ZZZZZZZZZZZZZZZZ1)")
	assert.True(t, IsReferenceError(b5.Value()))
	assert.Empty(t, engine.Index().Dependents(cellAt("A1")))

	_, err := ParseAddress("ZZZZZZZZZZZZZZZZ1")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.ErrorIs(t, grid.Set(MaxRows, 0, 1.0), ErrInvalidAddress)
}

func TestEngineSurvivesPanickingListener(t *testing.T) {
	grid, engine := newTestEngine(t)

	set(t, grid, "A1", 1.0)
	setFormula(t, grid, "B1", "=A1+1")

	panicked := false
	grid.AddListener(&recorder{onCell: func(c Cell) {
		if c == cellAt("B1") && !panicked {
			panicked = true
			panic("listener failed")
		}
	}})

	set(t, grid, "A1", 2.0)
	require.True(t, panicked)

	c1 := setFormula(t, grid, "C1", "=A1+1")
	assert.ElementsMatch(t, []Cell{cellAt("B1"), cellAt("C1")}, engine.Index().Dependents(cellAt("A1")))
	assert.Equal(t, 3.0, c1.Value())

	set(t, grid, "A1", 5.0)
	assert.Equal(t, 6.0, c1.Value())
}

func TestEngineTableUpdated(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)

	// stored silently before the engine exists
	require.NoError(t, grid.Put(0, 0, 2.0))
	expr := compileOn(t, grid, "=A1*3")
	require.NoError(t, grid.Put(0, 1, expr))

	engine := NewEngine(grid, nil, nil)
	assert.Empty(t, engine.Index().Dependents(cellAt("A1")))

	engine.TableUpdated(context.Background(), cellAt("A1"), cellAt("B1"))
	assert.Equal(t, []Cell{cellAt("B1")}, engine.Index().Dependents(cellAt("A1")))
	assert.Equal(t, 6.0, expr.Value())

	require.NoError(t, grid.Put(0, 0, 5.0))
	engine.NotifyWrite(context.Background(), CellRange{FirstRow: 0, FirstCol: 0, LastRow: 0, LastCol: 0})
	assert.Equal(t, 15.0, expr.Value())
}

func TestEngineIgnoresOtherSheetsKeys(t *testing.T) {
	grid, engine := newTestEngine(t)
	assert.Empty(t, engine.localCells(cellAt("Other!A1")))
	assert.Equal(t, []Cell{cellAt("A1")}, engine.localCells(cellAt("Sheet1!A1")))

	set(t, grid, "A1", 1.0)
	engine.Detach()
	expr := setFormula(t, grid, "B1", "=A1")
	assert.Empty(t, engine.Index().Dependents(cellAt("A1")), "detached engines stop indexing")
	assert.Equal(t, 1.0, expr.Value())
}

func TestEngineRefreshVolatile(t *testing.T) {
	grid, engine := newTestEngine(t)

	plain := setFormula(t, grid, "A1", "=1+1")
	random := setFormula(t, grid, "A2", "=RAND()")
	dependent := setFormula(t, grid, "A3", "=A2*2")

	plain.Value()
	random.Value()
	dependent.Value()

	engine.RefreshVolatile(context.Background())
	assert.True(t, plain.Valid())
	assert.False(t, random.Valid())
	assert.False(t, dependent.Valid())
}
