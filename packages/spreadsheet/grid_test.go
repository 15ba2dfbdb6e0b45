package spreadsheet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{}

func (widget) TypeName() string { return "Widget" }

func TestGridStoresEveryValueKind(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)
	when := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	expr := compileOn(t, grid, "=1")

	values := []any{
		42.0,
		"text",
		true,
		'x',
		when,
		NewSpreadsheetError(ErrorCodeDiv0, "Division by zero"),
		expr,
		widget{},
		Matrix{{1.0, 2.0}},
	}
	for i, v := range values {
		require.NoError(t, grid.Set(i, 0, v))
	}

	for i, v := range values {
		assert.Equal(t, v, grid.Get(i, 0), "row %d", i)
	}
	assert.Equal(t, len(values), grid.Len())
	assert.Equal(t, uint32(1), grid.CellTypeCount(CellValueTypeFormula))
	assert.Equal(t, uint32(1), grid.CellTypeCount(CellValueTypeInstance))
}

func TestGridIntegersBecomeNumbers(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)
	require.NoError(t, grid.Set(0, 0, 7))
	assert.Equal(t, 7.0, grid.Get(0, 0))
}

func TestGridRejectsInvalidWrites(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)
	assert.ErrorIs(t, grid.Set(-1, 0, 1.0), ErrInvalidAddress)
	assert.ErrorIs(t, grid.Set(0, 0, struct{}{}), ErrArgumentType)
	assert.Nil(t, grid.Get(-1, -1))
}

func TestGridRemoveReleasesChunks(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)
	require.NoError(t, grid.Set(1000, 1000, "far"))
	require.NoError(t, grid.Set(1000, 1001, "far"))
	assert.Equal(t, 1, grid.InternedStrings())

	require.NoError(t, grid.Remove(1000, 1000))
	require.NoError(t, grid.Remove(1000, 1001))
	assert.Equal(t, 0, grid.Len())
	assert.Equal(t, 0, grid.InternedStrings())
	assert.Empty(t, grid.chunks)
}

func TestGridCellsInRowMajorOrder(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)
	require.NoError(t, grid.Set(300, 0, 3.0))
	require.NoError(t, grid.Set(0, 300, 2.0))
	require.NoError(t, grid.Set(0, 1, 1.0))

	var cells []Cell
	var values []any
	for c, v := range grid.Cells() {
		cells = append(cells, c)
		values = append(values, v)
	}
	assert.Equal(t, []Cell{{Row: 0, Column: 1}, {Row: 0, Column: 300}, {Row: 300, Column: 0}}, cells)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, values)

	bounds, ok := grid.Bounds()
	require.True(t, ok)
	assert.Equal(t, CellRange{FirstRow: 0, FirstCol: 0, LastRow: 300, LastCol: 300}, bounds)
}

func TestGridSetColumnFiresOneEvent(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)
	log := &eventLog{}
	grid.AddListener(log)

	require.NoError(t, grid.SetColumn(2, 1, []any{1.0, 2.0, 3.0}))
	require.Len(t, log.events, 1)
	assert.Equal(t, []Cell{{Row: 2, Column: 1}, {Row: 3, Column: 1}, {Row: 4, Column: 1}}, log.events[0].Cells())

	// Put is silent
	require.NoError(t, grid.Put(0, 0, 1.0))
	assert.Len(t, log.events, 1)

	grid.RemoveListener(log)
	require.NoError(t, grid.Set(0, 0, 2.0))
	assert.Len(t, log.events, 1)
}

func TestGridExpressionsWithinRange(t *testing.T) {
	grid := NewGrid("Sheet1", OrdinaryGrid)
	inside := compileOn(t, grid, "=1")
	outside := compileOn(t, grid, "=2")
	require.NoError(t, grid.Put(1, 1, inside))
	require.NoError(t, grid.Put(9, 9, outside))
	require.NoError(t, grid.Put(1, 2, 5.0))

	found := grid.Expressions(CellRange{FirstRow: 0, FirstCol: 0, LastRow: 2, LastCol: 2})
	assert.Equal(t, []*Expression{inside}, found)
}

func TestParameterGridHasTable(t *testing.T) {
	assert.Nil(t, NewGrid("Sheet1", OrdinaryGrid).Parameters())

	grid := NewGrid("Params", ParameterGrid)
	grid.Parameters().Bind("rate", cellAt("Params!B1"))
	c, ok := grid.Parameters().Lookup("rate")
	require.True(t, ok)
	assert.Equal(t, cellAt("B1"), c, "bindings are local")
	assert.Equal(t, []string{"rate"}, grid.Parameters().Names())
}

type eventLog struct {
	events []ChangeEvent
}

func (l *eventLog) GridChanged(evt ChangeEvent) {
	l.events = append(l.events, evt)
}
