package spreadsheet

import (
	"fmt"
	"log/slog"
	"testing"
)

func newBenchWorkbook(b *testing.B, sheets ...string) *Workbook {
	b.Helper()
	w := NewWorkbook(WithLogger(slog.New(slog.DiscardHandler)))
	for _, name := range append([]string{"Sheet1"}, sheets...) {
		if err := w.AddSheet(name); err != nil {
			b.Fatal(err)
		}
	}
	return w
}

func mustSet(b *testing.B, w *Workbook, address string, value Primitive) {
	b.Helper()
	if err := w.Set(address, value); err != nil {
		b.Fatal(err)
	}
}

// read demands every address, which evaluates whatever was invalidated
func read(b *testing.B, w *Workbook, addresses ...string) {
	b.Helper()
	for _, address := range addresses {
		if _, err := w.Get(address); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLargeCellPopulation(b *testing.B) {
	for b.Loop() {
		w := newBenchWorkbook(b)
		for row := 1; row <= 100; row++ {
			for col := 0; col < 26; col++ {
				mustSet(b, w, fmt.Sprintf("%s%d", ColumnName(col), row), float64(row*(col+1)))
			}
		}
	}
}

func BenchmarkFormulaDependencyChain(b *testing.B) {
	w := newBenchWorkbook(b)
	mustSet(b, w, "A1", 1.0)
	for i := 2; i <= 100; i++ {
		mustSet(b, w, fmt.Sprintf("A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A1", float64(i))
		read(b, w, "A100")
	}
}

func BenchmarkWideDependencyFanOut(b *testing.B) {
	w := newBenchWorkbook(b)
	mustSet(b, w, "A1", 100.0)
	for i := 2; i <= 500; i++ {
		mustSet(b, w, fmt.Sprintf("B%d", i), "=A1*2")
	}

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A1", float64(i))
		read(b, w, "B2", "B250", "B500")
	}
}

func BenchmarkLargeRangeSUM(b *testing.B) {
	w := newBenchWorkbook(b)
	for i := 1; i <= 1000; i++ {
		mustSet(b, w, fmt.Sprintf("A%d", i), float64(i))
	}
	mustSet(b, w, "B1", "=SUM(A1:A1000)")

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A500", float64(i))
		read(b, w, "B1")
	}
}

func BenchmarkComplexNestedFormulas(b *testing.B) {
	w := newBenchWorkbook(b)
	for i := 1; i <= 20; i++ {
		mustSet(b, w, fmt.Sprintf("A%d", i), float64(i))
		mustSet(b, w, fmt.Sprintf("B%d", i), float64(i*2))
	}
	mustSet(b, w, "C1", "=IF(AVERAGE(A1:A20)>10, SUM(B1:B20), MAX(A1:A20))")
	mustSet(b, w, "D1", "=ROUND(SQRT(C1)*PI(), 2)")
	mustSet(b, w, "E1", "=IF(D1>100, MEDIAN(A1:A20), MIN(B1:B20))")

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A1", float64(i%20))
		read(b, w, "E1")
	}
}

func BenchmarkVolatileFunctions(b *testing.B) {
	w := newBenchWorkbook(b)
	for i := 1; i <= 50; i++ {
		mustSet(b, w, fmt.Sprintf("A%d", i), "=RAND()")
		mustSet(b, w, fmt.Sprintf("B%d", i), fmt.Sprintf("=A%d*100", i))
	}

	for b.Loop() {
		if err := w.Recalculate(); err != nil {
			b.Fatal(err)
		}
		read(b, w, "B1", "B25", "B50")
	}
}

func BenchmarkMultiSheetReferences(b *testing.B) {
	w := newBenchWorkbook(b, "Data", "Summary")
	for i := 1; i <= 100; i++ {
		mustSet(b, w, fmt.Sprintf("Data!A%d", i), float64(i))
	}
	mustSet(b, w, "Summary!A1", "=SUM(Data!A1:A100)")
	mustSet(b, w, "Summary!B1", "=AVERAGE(Data!A1:A100)")
	mustSet(b, w, "Summary!C1", "=MAX(Data!A1:A100)")
	mustSet(b, w, "Summary!D1", "=MIN(Data!A1:A100)")

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "Data!A50", float64(i))
		read(b, w, "Summary!A1", "Summary!B1", "Summary!C1", "Summary!D1")
	}
}

func BenchmarkCascadingUpdates(b *testing.B) {
	w := newBenchWorkbook(b)
	for row := 1; row <= 50; row++ {
		mustSet(b, w, fmt.Sprintf("A%d", row), float64(row))
		for col := 1; col < 10; col++ {
			mustSet(b, w, fmt.Sprintf("%s%d", ColumnName(col), row), fmt.Sprintf("=%s%d*2", ColumnName(col-1), row))
		}
	}

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A1", float64(i%100))
		read(b, w, "J1")
	}
}

func BenchmarkSparseMatrix(b *testing.B) {
	w := newBenchWorkbook(b)
	for row := 1; row <= 1000; row += 10 {
		for col := 0; col < 1000; col += 10 {
			mustSet(b, w, fmt.Sprintf("%s%d", ColumnName(col), row), float64(row+col))
		}
	}
	mustSet(b, w, "ZZZ1", "=SUM(A1:ALL1000)")

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A1", float64(i))
		read(b, w, "ZZZ1")
	}
}

func BenchmarkCircularReferenceDetection(b *testing.B) {
	for b.Loop() {
		w := newBenchWorkbook(b)
		mustSet(b, w, "A1", "=B1+C1")
		mustSet(b, w, "B1", "=C1+D1")
		mustSet(b, w, "C1", "=D1+E1")
		mustSet(b, w, "D1", "=E1+F1")
		mustSet(b, w, "E1", "=F1+G1")
		mustSet(b, w, "F1", "=G1+H1")
		mustSet(b, w, "G1", "=H1+A1")
		mustSet(b, w, "H1", "=A1")
		read(b, w, "A1")
	}
}

func BenchmarkManySmallFormulas(b *testing.B) {
	w := newBenchWorkbook(b)
	for row := 1; row <= 100; row++ {
		mustSet(b, w, fmt.Sprintf("A%d", row), float64(row))
		mustSet(b, w, fmt.Sprintf("B%d", row), fmt.Sprintf("=A%d*2", row))
		mustSet(b, w, fmt.Sprintf("C%d", row), fmt.Sprintf("=B%d+A%d", row, row))
		mustSet(b, w, fmt.Sprintf("D%d", row), fmt.Sprintf("=C%d/2", row))
	}

	i := 0
	for b.Loop() {
		i++
		row := i%100 + 1
		mustSet(b, w, fmt.Sprintf("A%d", row), float64(i))
		read(b, w, fmt.Sprintf("D%d", row))
	}
}

func BenchmarkStringConcatenation(b *testing.B) {
	w := newBenchWorkbook(b)
	for i := 1; i <= 100; i++ {
		mustSet(b, w, fmt.Sprintf("A%d", i), fmt.Sprintf("text%d", i))
		mustSet(b, w, fmt.Sprintf("B%d", i), fmt.Sprintf(`=A%d&"-suffix"`, i))
	}

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A1", fmt.Sprintf("text%d", i))
		read(b, w, "B1")
	}
}

func BenchmarkAggregationFunctions(b *testing.B) {
	w := newBenchWorkbook(b)
	for i := 1; i <= 500; i++ {
		mustSet(b, w, fmt.Sprintf("A%d", i), float64(i))
	}
	mustSet(b, w, "B1", "=SUM(A1:A500)")
	mustSet(b, w, "B2", "=AVERAGE(A1:A500)")
	mustSet(b, w, "B3", "=COUNT(A1:A500)")
	mustSet(b, w, "B4", "=MAX(A1:A500)")
	mustSet(b, w, "B5", "=MIN(A1:A500)")
	mustSet(b, w, "B6", "=MEDIAN(A1:A500)")

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A250", float64(i))
		read(b, w, "B1", "B2", "B3", "B4", "B5", "B6")
	}
}

func BenchmarkConditionalLogic(b *testing.B) {
	w := newBenchWorkbook(b)
	for i := 1; i <= 200; i++ {
		mustSet(b, w, fmt.Sprintf("A%d", i), float64(i))
		mustSet(b, w, fmt.Sprintf("B%d", i), fmt.Sprintf(`=IF(A%d>100, A%d*2, A%d/2)`, i, i, i))
		mustSet(b, w, fmt.Sprintf("C%d", i), fmt.Sprintf(`=AND(A%d>50, A%d<150)`, i, i))
		mustSet(b, w, fmt.Sprintf("D%d", i), fmt.Sprintf(`=OR(A%d<25, A%d>175)`, i, i))
	}

	i := 0
	for b.Loop() {
		i++
		row := i%200 + 1
		mustSet(b, w, fmt.Sprintf("A%d", row), float64(i%250))
		read(b, w, fmt.Sprintf("B%d", row), fmt.Sprintf("C%d", row), fmt.Sprintf("D%d", row))
	}
}

func BenchmarkDirtyPropagation(b *testing.B) {
	w := newBenchWorkbook(b)
	size := 20
	for row := 1; row <= size; row++ {
		for col := 0; col < size; col++ {
			address := fmt.Sprintf("%s%d", ColumnName(col), row)
			switch {
			case row == 1 && col == 0:
				mustSet(b, w, address, 1.0)
			case row == 1:
				mustSet(b, w, address, fmt.Sprintf("=%s%d+1", ColumnName(col-1), row))
			case col == 0:
				mustSet(b, w, address, fmt.Sprintf("=%s%d+1", ColumnName(col), row-1))
			default:
				mustSet(b, w, address, fmt.Sprintf("=%s%d+%s%d", ColumnName(col-1), row, ColumnName(col), row-1))
			}
		}
	}
	corner := fmt.Sprintf("%s%d", ColumnName(size-1), size)
	read(b, w, corner)

	i := 0
	for b.Loop() {
		i++
		mustSet(b, w, "A1", float64(i%100))
		read(b, w, corner)
	}
}

func BenchmarkShiftFormula(b *testing.B) {
	formula := "=SUM(A1:B10)+$C$1*Data!D4-IF(E5>0, F6, G7)"
	for b.Loop() {
		if _, err := ShiftFormula(formula, 3, 2); err != nil {
			b.Fatal(err)
		}
	}
}
