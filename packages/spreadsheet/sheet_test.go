package spreadsheet

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type WorkbookTestCase struct {
	t        *testing.T
	name     string
	workbook *Workbook
	err      error
}

func NewWorkbookTestCase(t *testing.T, name string, opts ...Option) *WorkbookTestCase {
	tc := &WorkbookTestCase{
		t:        t,
		name:     name,
		workbook: NewWorkbook(opts...),
	}
	return tc.AddSheet("Sheet1")
}

func (tc *WorkbookTestCase) Set(address string, value Primitive) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.Set(address, value)
	assert.NoError(tc.t, tc.err, "%s: Set(%s)", tc.name, address)
	return tc
}

func (tc *WorkbookTestCase) Remove(address string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.Remove(address)
	assert.NoError(tc.t, tc.err, "%s: Remove(%s)", tc.name, address)
	return tc
}

func (tc *WorkbookTestCase) Copy(source, destination string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.Copy(source, destination)
	assert.NoError(tc.t, tc.err, "%s: Copy(%s, %s)", tc.name, source, destination)
	return tc
}

func (tc *WorkbookTestCase) Cut(source, destination string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.Cut(source, destination)
	assert.NoError(tc.t, tc.err, "%s: Cut(%s, %s)", tc.name, source, destination)
	return tc
}

func (tc *WorkbookTestCase) AddSheet(name string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.AddSheet(name)
	return tc
}

func (tc *WorkbookTestCase) AddParameterSheet(name string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.AddParameterSheet(name)
	return tc
}

func (tc *WorkbookTestCase) RemoveSheet(name string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.RemoveSheet(name)
	return tc
}

func (tc *WorkbookTestCase) RenameSheet(oldName, newName string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.RenameSheet(oldName, newName)
	return tc
}

func (tc *WorkbookTestCase) BindParameter(sheet, name, address string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.BindParameter(sheet, name, address)
	return tc
}

func (tc *WorkbookTestCase) Recalculate() *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	tc.err = tc.workbook.Recalculate()
	assert.NoError(tc.t, tc.err, "%s: Recalculate()", tc.name)
	return tc
}

func (tc *WorkbookTestCase) AssertCellEq(address string, expected Primitive) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	actual, err := tc.workbook.Get(address)
	if !assert.NoError(tc.t, err, "%s: Get(%s)", tc.name, address) {
		return tc
	}

	switch exp := expected.(type) {
	case float64:
		assert.InDelta(tc.t, exp, actual, 1e-10, "%s: cell %s", tc.name, address)
	case int:
		assert.InDelta(tc.t, float64(exp), actual, 1e-10, "%s: cell %s", tc.name, address)
	default:
		assert.Equal(tc.t, expected, actual, "%s: cell %s", tc.name, address)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertCellEmpty(address string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	actual, err := tc.workbook.Get(address)
	if assert.NoError(tc.t, err, "%s: Get(%s)", tc.name, address) {
		assert.Nil(tc.t, actual, "%s: cell %s", tc.name, address)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertCellErr(address string, errorCode ErrorCode) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	actual, err := tc.workbook.Get(address)
	if !assert.NoError(tc.t, err, "%s: Get(%s)", tc.name, address) {
		return tc
	}
	spreadsheetErr, ok := actual.(*SpreadsheetError)
	if assert.True(tc.t, ok, "%s: cell %s = %v, want error %s", tc.name, address, actual, ErrorMapper[errorCode]) {
		assert.Equal(tc.t, ErrorMapper[errorCode], ErrorMapper[spreadsheetErr.ErrorCode], "%s: cell %s", tc.name, address)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertFormula(address string, expected string) *WorkbookTestCase {
	if tc.err != nil {
		return tc
	}
	formula, err := tc.workbook.Formula(address)
	if assert.NoError(tc.t, err, "%s: Formula(%s)", tc.name, address) {
		assert.Equal(tc.t, expected, formula, "%s: formula of %s", tc.name, address)
	}
	return tc
}

func (tc *WorkbookTestCase) AssertSheetExists(name string, shouldExist bool) *WorkbookTestCase {
	assert.Equal(tc.t, shouldExist, tc.workbook.DoesSheetExist(name), "%s: sheet %s", tc.name, name)
	return tc
}

func (tc *WorkbookTestCase) ExpectAppError(expectedCode AppErrorCode) *WorkbookTestCase {
	if assert.Error(tc.t, tc.err, "%s: expected error with code %v", tc.name, expectedCode) {
		assert.Equal(tc.t, expectedCode, CodeOf(tc.err), "%s: %v", tc.name, tc.err)
	}
	tc.err = nil
	return tc
}

func (tc *WorkbookTestCase) End() {
	assert.NoError(tc.t, tc.err, "%s", tc.name)
}

func TestFormulaEvaluation(t *testing.T) {
	t.Run("Arithmetic", func(t *testing.T) {
		NewWorkbookTestCase(t, "Basic arithmetic").
			Set("A1", "=1+2").
			AssertCellEq("A1", 3.0).
			End()

		NewWorkbookTestCase(t, "Operator precedence").
			Set("A1", "=2+3*4^2").
			AssertCellEq("A1", 50.0).
			End()

		NewWorkbookTestCase(t, "Division by zero").
			Set("A1", "=1/0").
			AssertCellErr("A1", ErrorCodeDiv0).
			End()

		NewWorkbookTestCase(t, "Concatenation").
			Set("A1", "hello").
			Set("A2", `=A1&" world"`).
			AssertCellEq("A2", "hello world").
			End()
	})

	t.Run("Literals", func(t *testing.T) {
		NewWorkbookTestCase(t, "Literal values").
			Set("A1", 42).
			Set("A2", "text").
			Set("A3", true).
			AssertCellEq("A1", 42.0).
			AssertCellEq("A2", "text").
			AssertCellEq("A3", true).
			AssertCellEmpty("A4").
			End()
	})

	t.Run("UnknownNames", func(t *testing.T) {
		NewWorkbookTestCase(t, "Unknown function").
			Set("A1", "=NOSUCH(1)").
			AssertCellErr("A1", ErrorCodeName).
			End()

		NewWorkbookTestCase(t, "Unknown identifier").
			Set("A1", "=rate*2").
			AssertCellErr("A1", ErrorCodeName).
			End()
	})

	t.Run("InvalidFormula", func(t *testing.T) {
		tc := NewWorkbookTestCase(t, "Syntax error")
		tc.err = tc.workbook.Set("A1", "=SUM(")
		tc.ExpectAppError(InvalidArgument).End()
	})
}

func TestCellReferences(t *testing.T) {
	t.Run("Chain", func(t *testing.T) {
		NewWorkbookTestCase(t, "Chain reference").
			Set("A1", 1.0).
			Set("A2", "=A1*2").
			Set("A3", "=A2+1").
			AssertCellEq("A3", 3.0).
			Set("A1", 5.0).
			AssertCellEq("A2", 10.0).
			AssertCellEq("A3", 11.0).
			End()
	})

	t.Run("RangeAggregate", func(t *testing.T) {
		NewWorkbookTestCase(t, "Range sum").
			Set("A1", 1.0).
			Set("A2", 2.0).
			Set("A3", 3.0).
			Set("B1", "=SUM(A1:A3)").
			AssertCellEq("B1", 6.0).
			Set("A2", 20.0).
			AssertCellEq("B1", 24.0).
			Remove("A3").
			AssertCellEq("B1", 21.0).
			End()
	})

	t.Run("RangeInScalarPosition", func(t *testing.T) {
		NewWorkbookTestCase(t, "Range plus one").
			Set("A1", 1.0).
			Set("B1", "=A1:A2+1").
			AssertCellErr("B1", ErrorCodeValue).
			End()

		NewWorkbookTestCase(t, "Range into scalar function").
			Set("A1", -1.0).
			Set("B1", "=ABS(A1:A2)").
			AssertCellErr("B1", ErrorCodeValue).
			End()
	})

	t.Run("IllegalReference", func(t *testing.T) {
		NewWorkbookTestCase(t, "Explicit #REF!").
			Set("A1", "=#REF!+1").
			AssertCellErr("A1", ErrorCodeRef).
			End()
	})

	t.Run("OverwriteFormulaWithLiteral", func(t *testing.T) {
		NewWorkbookTestCase(t, "Literal replaces formula").
			Set("A1", 1.0).
			Set("B1", "=A1").
			Set("C1", "=B1*10").
			AssertCellEq("C1", 10.0).
			Set("B1", 7.0).
			AssertCellEq("C1", 70.0).
			Set("A1", 100.0).
			AssertCellEq("C1", 70.0).
			End()
	})
}

func TestCircularReferences(t *testing.T) {
	t.Run("SelfReference", func(t *testing.T) {
		NewWorkbookTestCase(t, "Direct circular").
			Set("A1", "=A1+1").
			AssertCellErr("A1", ErrorCodeCircular).
			End()
	})

	t.Run("TwoCells", func(t *testing.T) {
		NewWorkbookTestCase(t, "Indirect circular").
			Set("A1", "=B1").
			Set("B1", "=A1").
			AssertCellErr("A1", ErrorCodeCircular).
			AssertCellErr("B1", ErrorCodeCircular).
			End()
	})

	t.Run("ThreeCells", func(t *testing.T) {
		NewWorkbookTestCase(t, "Three cell circular").
			Set("A1", "=C1").
			Set("B1", "=A1").
			Set("C1", "=B1").
			AssertCellErr("A1", ErrorCodeCircular).
			AssertCellErr("B1", ErrorCodeCircular).
			AssertCellErr("C1", ErrorCodeCircular).
			End()
	})

	t.Run("ThroughRange", func(t *testing.T) {
		NewWorkbookTestCase(t, "Circular via range").
			Set("A2", "=SUM(A1:A3)").
			AssertCellErr("A2", ErrorCodeCircular).
			End()
	})

	t.Run("BreakingTheCycle", func(t *testing.T) {
		NewWorkbookTestCase(t, "Cycle removed").
			Set("A1", "=B1").
			Set("B1", "=A1").
			AssertCellErr("A1", ErrorCodeCircular).
			Set("B1", 4.0).
			AssertCellEq("A1", 4.0).
			AssertCellEq("B1", 4.0).
			End()
	})

	t.Run("DependentOfCycle", func(t *testing.T) {
		NewWorkbookTestCase(t, "Reads a circular cell").
			Set("A1", "=B1").
			Set("B1", "=A1").
			Set("C1", "=A1+1").
			AssertCellErr("C1", ErrorCodeCircular).
			End()
	})
}

func TestCrossSheetReferences(t *testing.T) {
	t.Run("Simple", func(t *testing.T) {
		NewWorkbookTestCase(t, "Sheet reference").
			AddSheet("Data").
			Set("Data!A1", 42.0).
			Set("B1", "=Data!A1").
			AssertCellEq("B1", 42.0).
			Set("Data!A1", 43.0).
			AssertCellEq("B1", 43.0).
			End()
	})

	t.Run("Chain", func(t *testing.T) {
		NewWorkbookTestCase(t, "Cross-sheet chain").
			AddSheet("Sheet2").
			AddSheet("Sheet3").
			Set("Sheet1!A1", 10.0).
			Set("Sheet2!A1", "=Sheet1!A1*2").
			Set("Sheet3!A1", "=Sheet2!A1*2").
			AssertCellEq("Sheet3!A1", 40.0).
			Set("Sheet1!A1", 1.0).
			AssertCellEq("Sheet3!A1", 4.0).
			End()
	})

	t.Run("Range", func(t *testing.T) {
		NewWorkbookTestCase(t, "Cross-sheet range").
			AddSheet("Data").
			Set("Data!A1", 10.0).
			Set("Data!A2", 20.0).
			Set("Data!A3", 30.0).
			Set("A1", "=SUM(Data!A1:A3)").
			AssertCellEq("A1", 60.0).
			End()
	})

	t.Run("QuotedSheetName", func(t *testing.T) {
		NewWorkbookTestCase(t, "Quoted sheet").
			AddSheet("My Data").
			Set("'My Data'!A1", 5.0).
			Set("A1", "='My Data'!A1*3").
			AssertCellEq("A1", 15.0).
			End()
	})

	t.Run("MissingSheet", func(t *testing.T) {
		tc := NewWorkbookTestCase(t, "Non-existent sheet").
			Set("A1", "=NoSheet!A1").
			AssertCellErr("A1", ErrorCodeRef)
		assert.Equal(t, []string{"NoSheet"}, tc.workbook.ListUnresolvedSheets())

		tc.AddSheet("NoSheet").
			Set("NoSheet!A1", 9.0).
			AssertCellEq("A1", 9.0).
			End()
		assert.Empty(t, tc.workbook.ListUnresolvedSheets())
	})

	t.Run("RemoveSheetWithDependents", func(t *testing.T) {
		NewWorkbookTestCase(t, "Remove sheet with deps").
			AddSheet("Sheet2").
			Set("Sheet1!A1", 100.0).
			Set("Sheet2!B1", "=Sheet1!A1").
			AssertCellEq("Sheet2!B1", 100.0).
			RemoveSheet("Sheet1").
			AssertCellErr("Sheet2!B1", ErrorCodeRef).
			End()
	})

	t.Run("RenameSheetWithReferences", func(t *testing.T) {
		NewWorkbookTestCase(t, "Rename sheet with refs").
			AddSheet("OldSheet").
			Set("OldSheet!A1", 50.0).
			Set("B1", "=OldSheet!A1").
			Set("B2", "=NewSheet!A1").
			AssertCellEq("B1", 50.0).
			AssertCellErr("B2", ErrorCodeRef).
			RenameSheet("OldSheet", "NewSheet").
			AssertCellErr("B1", ErrorCodeRef).
			AssertCellEq("B2", 50.0).
			End()
	})

	t.Run("CrossSheetCycle", func(t *testing.T) {
		NewWorkbookTestCase(t, "Cycle across sheets").
			AddSheet("Sheet2").
			Set("Sheet1!A1", "=Sheet2!A1").
			Set("Sheet2!A1", "=Sheet1!A1").
			AssertCellErr("Sheet1!A1", ErrorCodeCircular).
			AssertCellErr("Sheet2!A1", ErrorCodeCircular).
			End()
	})
}

func TestSheetOperations(t *testing.T) {
	t.Run("AddSheet", func(t *testing.T) {
		NewWorkbookTestCase(t, "Add sheet").
			AddSheet("Sheet2").
			AssertSheetExists("Sheet2", true).
			End()

		NewWorkbookTestCase(t, "Add duplicate sheet").
			AddSheet("Sheet2").
			AddSheet("Sheet2").
			ExpectAppError(AlreadyExists).
			End()

		NewWorkbookTestCase(t, "Add unnamed sheet").
			AddSheet("").
			ExpectAppError(InvalidArgument).
			End()
	})

	t.Run("RemoveSheet", func(t *testing.T) {
		NewWorkbookTestCase(t, "Remove sheet").
			AddSheet("Sheet2").
			RemoveSheet("Sheet2").
			AssertSheetExists("Sheet2", false).
			End()

		NewWorkbookTestCase(t, "Remove non-existent").
			RemoveSheet("NoSheet").
			ExpectAppError(NotFound).
			End()
	})

	t.Run("RenameSheet", func(t *testing.T) {
		tc := NewWorkbookTestCase(t, "Rename sheet").
			AddSheet("OldName").
			RenameSheet("OldName", "NewName").
			AssertSheetExists("OldName", false).
			AssertSheetExists("NewName", true)
		tc.End()
		assert.Equal(t, []string{"NewName", "Sheet1"}, tc.workbook.ListSheets())

		NewWorkbookTestCase(t, "Rename to existing").
			AddSheet("Sheet2").
			AddSheet("Sheet3").
			RenameSheet("Sheet2", "Sheet3").
			ExpectAppError(AlreadyExists).
			End()
	})

	t.Run("DefaultSheet", func(t *testing.T) {
		tc := NewWorkbookTestCase(t, "Default sheet").
			AddSheet("Sheet2").
			Set("A1", 10.0).
			AssertCellEq("Sheet1!A1", 10.0).
			AssertCellEmpty("Sheet2!A1")
		tc.End()
		assert.Equal(t, "Sheet1", tc.workbook.DefaultSheet())

		require.NoError(t, tc.workbook.SetDefaultSheet("Sheet2"))
		tc.Set("A1", 20.0).
			AssertCellEq("Sheet2!A1", 20.0).
			RemoveSheet("Sheet2").
			End()
		assert.Equal(t, "Sheet1", tc.workbook.DefaultSheet())

		err := tc.workbook.SetDefaultSheet("Missing")
		assert.Equal(t, NotFound, CodeOf(err))
	})

	t.Run("UnknownSheetInAddress", func(t *testing.T) {
		tc := NewWorkbookTestCase(t, "Set on missing sheet")
		tc.err = tc.workbook.Set("Nope!A1", 1.0)
		tc.ExpectAppError(NotFound).End()

		tc.err = tc.workbook.Set("not an address", 1.0)
		tc.ExpectAppError(InvalidArgument).End()
	})

	t.Run("EmptyWorkbook", func(t *testing.T) {
		w := NewWorkbook()
		_, err := w.Get("A1")
		assert.Equal(t, FailedPrecondition, CodeOf(err))
	})
}

func TestParameterSheets(t *testing.T) {
	t.Run("BoundParameter", func(t *testing.T) {
		NewWorkbookTestCase(t, "Parameter in formula").
			AddParameterSheet("Params").
			BindParameter("Params", "rate", "B1").
			Set("Params!B1", 0.5).
			Set("Params!C1", "=rate*10").
			AssertCellEq("Params!C1", 5.0).
			Set("Params!B1", 2.0).
			AssertCellEq("Params!C1", 20.0).
			End()
	})

	t.Run("ParameterOnOrdinarySheet", func(t *testing.T) {
		NewWorkbookTestCase(t, "Ordinary sheet has no parameters").
			BindParameter("Sheet1", "rate", "B1").
			ExpectAppError(FailedPrecondition).
			End()
	})

	t.Run("CellLikeParameterName", func(t *testing.T) {
		NewWorkbookTestCase(t, "Parameter named like a cell").
			AddParameterSheet("Params").
			BindParameter("Params", "AB12", "B1").
			ExpectAppError(InvalidArgument).
			End()
	})

	t.Run("CrossModeReference", func(t *testing.T) {
		NewWorkbookTestCase(t, "Ordinary to parameter").
			AddParameterSheet("Params").
			Set("Params!A1", 3.0).
			Set("Sheet1!A1", "=Params!A1").
			AssertCellErr("Sheet1!A1", ErrorCodeRef).
			End()

		NewWorkbookTestCase(t, "Parameter to ordinary").
			AddParameterSheet("Params").
			Set("Sheet1!A1", 3.0).
			Set("Params!A1", "=Sheet1!A1").
			AssertCellErr("Params!A1", ErrorCodeRef).
			End()
	})

	t.Run("Unbind", func(t *testing.T) {
		tc := NewWorkbookTestCase(t, "Unbind parameter").
			AddParameterSheet("Params").
			BindParameter("Params", "rate", "B1")
		tc.End()
		require.NoError(t, tc.workbook.UnbindParameter("Params", "rate"))
		err := tc.workbook.UnbindParameter("Params", "rate")
		assert.Equal(t, NotFound, CodeOf(err))
	})
}

func TestCopyAndCut(t *testing.T) {
	t.Run("CopyShiftsRelativeReferences", func(t *testing.T) {
		NewWorkbookTestCase(t, "Copy formula").
			Set("A1", 1.0).
			Set("B2", 2.0).
			Set("C3", "=A1+$B$2").
			Copy("C3", "D4").
			AssertFormula("D4", "=B2+$B$2").
			AssertCellEq("D4", 4.0).
			AssertFormula("C3", "=A1+$B$2").
			End()
	})

	t.Run("CopyRange", func(t *testing.T) {
		NewWorkbookTestCase(t, "Copy block").
			Set("A1", 1.0).
			Set("A2", "=A1*2").
			Copy("A1:A2", "B1").
			AssertCellEq("B1", 1.0).
			AssertFormula("B2", "=B1*2").
			AssertCellEq("B2", 2.0).
			Set("B1", 4.0).
			AssertCellEq("B2", 8.0).
			AssertCellEq("A2", 2.0).
			End()
	})

	t.Run("CopyPastFirstRow", func(t *testing.T) {
		NewWorkbookTestCase(t, "Copy upwards").
			Set("A2", "=A1").
			Copy("A2", "A1").
			AssertFormula("A1", "=#REF!").
			AssertCellErr("A1", ErrorCodeRef).
			End()
	})

	t.Run("CutUpdatesReferences", func(t *testing.T) {
		NewWorkbookTestCase(t, "Cut referenced cell").
			Set("A1", 5.0).
			Set("B1", "=A1*2").
			Set("B2", "=$A$1+1").
			Cut("A1", "C3").
			AssertCellEmpty("A1").
			AssertCellEq("C3", 5.0).
			AssertFormula("B1", "=C3*2").
			AssertFormula("B2", "=$C$3+1").
			AssertCellEq("B1", 10.0).
			AssertCellEq("B2", 6.0).
			End()
	})

	t.Run("CutMovesFormula", func(t *testing.T) {
		NewWorkbookTestCase(t, "Cut formula").
			Set("A1", 2.0).
			Set("B1", "=A1*3").
			Cut("B1", "B5").
			AssertCellEmpty("B1").
			AssertFormula("B5", "=A1*3").
			AssertCellEq("B5", 6.0).
			End()
	})

	t.Run("CutUpdatesOtherSheets", func(t *testing.T) {
		NewWorkbookTestCase(t, "Reference from another sheet").
			AddSheet("Data").
			Set("A1", 7.0).
			Set("Data!A1", "=Sheet1!A1").
			Cut("A1", "B1").
			AssertFormula("Data!A1", "=Sheet1!B1").
			AssertCellEq("Data!A1", 7.0).
			End()
	})
}

type stepRandom struct {
	next float64
}

func (s *stepRandom) Float64() float64 {
	s.next += 0.25
	return s.next
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func TestVolatileFunctions(t *testing.T) {
	t.Run("RecalculateRefreshesRand", func(t *testing.T) {
		functions := NewBuiltInFunctions(&fixedClock{}, &stepRandom{})
		NewWorkbookTestCase(t, "RAND", WithFunctions(functions)).
			Set("A1", "=RAND()").
			Set("B1", "=A1*4").
			AssertCellEq("A1", 0.25).
			AssertCellEq("A1", 0.25).
			AssertCellEq("B1", 1.0).
			Recalculate().
			AssertCellEq("A1", 0.5).
			AssertCellEq("B1", 2.0).
			End()
	})

	t.Run("Today", func(t *testing.T) {
		clock := &fixedClock{now: time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)}
		functions := NewBuiltInFunctions(clock, &stepRandom{})
		NewWorkbookTestCase(t, "TODAY", WithFunctions(functions)).
			Set("A1", "=TODAY()").
			AssertCellEq("A1", 45292.0).
			End()
	})
}

func TestWorkbookReadsOwnWritesAcrossGoroutines(t *testing.T) {
	w := NewWorkbook()
	require.NoError(t, w.AddSheet("Sheet1"))
	const workers = 8
	for i := 1; i <= workers; i++ {
		require.NoError(t, w.Set(fmt.Sprintf("B%d", i), fmt.Sprintf("=A%d*2", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range 50 {
				if err := w.Set(fmt.Sprintf("A%d", i), float64(n)); err != nil {
					errs <- err
					return
				}
				v, err := w.Get(fmt.Sprintf("B%d", i))
				if err != nil {
					errs <- err
					return
				}
				if v != float64(2*n) {
					errs <- fmt.Errorf("B%d = %v after writing %d", i, v, n)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
