package spreadsheet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverResolve(t *testing.T) {
	registry := NewRegistry()
	sheet := NewGrid("Sheet1", OrdinaryGrid)
	params := NewGrid("Params", ParameterGrid)
	params.Parameters().Bind("rate", cellAt("C2"))
	_, err := registry.Register(context.Background(), sheet)
	require.NoError(t, err)
	_, err = registry.Register(context.Background(), params)
	require.NoError(t, err)

	local := NewResolver(sheet, registry)
	tests := []struct {
		token string
		want  ParameterKey
	}{
		{"A1", cellAt("A1")},
		{"$B$2", cellAt("B2")},
		{"Other!A1", cellAt("Other!A1")},
		{"B2:A1", CellRange{FirstRow: 0, FirstCol: 0, LastRow: 1, LastCol: 1}},
		{"#REF!", IllegalReference{Token: "#REF!"}},
		{"Params!A1", IllegalReference{Token: "Params!A1"}},
		{"Params!A1:B2", IllegalReference{Token: "Params!A1:B2"}},
		{"S1!A1:S2!B2", IllegalReference{Token: "S1!A1:S2!B2"}},
		{"XFD1048576", NewCell("", MaxRows-1, MaxColumns-1)},
		{"XFE1", IllegalReference{Token: "XFE1"}},
		{"A1048577", IllegalReference{Token: "A1048577"}},
		{"ZZZZZZZZZZZZZZZZ1", IllegalReference{Token: "ZZZZZZZZZZZZZZZZ1"}},
		{"A99999999999999999999", IllegalReference{Token: "A99999999999999999999"}},
		{"A1:ZZZZZZZZZZZZZZZZ1", IllegalReference{Token: "A1:ZZZZZZZZZZZZZZZZ1"}},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			key, err := local.Resolve(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}

	_, err = local.Resolve("rate")
	assert.ErrorIs(t, err, ErrNotParameter)

	key, err := NewResolver(params, registry).Resolve("rate")
	require.NoError(t, err)
	assert.Equal(t, cellAt("C2"), key)

	key, err = NewResolver(params, registry).Resolve("Sheet1!A1")
	require.NoError(t, err)
	assert.Equal(t, IllegalReference{Token: "Sheet1!A1"}, key)
}

func TestResolverValueOf(t *testing.T) {
	registry := NewRegistry()
	sheet := NewGrid("Sheet1", OrdinaryGrid)
	_, err := registry.Register(context.Background(), sheet)
	require.NoError(t, err)
	require.NoError(t, sheet.Set(0, 0, 1.0))
	require.NoError(t, sheet.Set(1, 0, compileOn(t, sheet, "=A1+1")))

	r := NewResolver(sheet, registry)

	v, err := r.ValueOf(cellAt("A2"))
	require.NoError(t, err)
	assert.Equal(t, 2.0, v, "expressions yield their value")

	v, err = r.ValueOf(cellAt("Sheet1!A1"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = r.ValueOf(CellRange{FirstRow: 0, FirstCol: 0, LastRow: 2, LastCol: 0})
	require.NoError(t, err)
	assert.Equal(t, Matrix{{1.0}, {2.0}, {nil}}, v)

	_, err = r.ValueOf(IllegalReference{Token: "#REF!"})
	assert.ErrorIs(t, err, ErrIllegalCell)

	_, err = r.ValueOf(cellAt("Missing!A1"))
	assert.ErrorIs(t, err, ErrIllegalCell)

	standalone := NewResolver(sheet, nil)
	_, err = standalone.ValueOf(cellAt("Sheet1!A1"))
	assert.ErrorIs(t, err, ErrIllegalCell)
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		name  string
		value Primitive
		want  float64
		ok    bool
	}{
		{"missing is zero", nil, 0, true},
		{"number", 2.5, 2.5, true},
		{"integer", 3, 3, true},
		{"true", true, 1, true},
		{"false", false, 0, true},
		{"numeric text", "12", 12, true},
		{"text", "abc", 0, false},
		{"digit char", '7', 7, true},
		{"date", time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), 2, true},
		{"range", Matrix{{1.0}}, 0, false},
		{"instance", widget{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToNumber(tt.value)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestIsTrue(t *testing.T) {
	assert.False(t, IsTrue(nil), "missing is false")
	assert.False(t, IsTrue(0.0))
	assert.True(t, IsTrue(-1.0))
	assert.False(t, IsTrue(""))
	assert.True(t, IsTrue("x"))
	assert.True(t, IsTrue(true))
	assert.True(t, IsTrue(widget{}))
}

func TestToText(t *testing.T) {
	assert.Equal(t, "", ToText(nil))
	assert.Equal(t, "1.5", ToText(1.5))
	assert.Equal(t, "TRUE", ToText(true))
	assert.Equal(t, "Widget", ToText(widget{}))
	assert.Equal(t, "#DIV/0!", ToText(NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")))
}

func TestCheckScalar(t *testing.T) {
	assert.NoError(t, CheckScalar(1.0))
	assert.NoError(t, CheckScalar(nil))
	assert.ErrorIs(t, CheckScalar(Matrix{{1.0}}), ErrArgumentType)
	assert.ErrorIs(t, CheckScalar(struct{}{}), ErrArgumentType)
}
