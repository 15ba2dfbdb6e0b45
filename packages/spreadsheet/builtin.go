package spreadsheet

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

// builtin describes one entry of the function table. only functions that
// accept ranges may receive a Matrix argument.
type builtin struct {
	fn           func(bf *BuiltInFunctions, args ...Primitive) (Primitive, error)
	acceptsRange bool
	volatile     bool
}

var builtins = map[string]builtin{
	"SUM":         {fn: (*BuiltInFunctions).SUM, acceptsRange: true},
	"AVERAGE":     {fn: (*BuiltInFunctions).AVERAGE, acceptsRange: true},
	"AVERAGEA":    {fn: (*BuiltInFunctions).AVERAGEA, acceptsRange: true},
	"COUNT":       {fn: (*BuiltInFunctions).COUNT, acceptsRange: true},
	"COUNTA":      {fn: (*BuiltInFunctions).COUNTA, acceptsRange: true},
	"MAX":         {fn: (*BuiltInFunctions).MAX, acceptsRange: true},
	"MIN":         {fn: (*BuiltInFunctions).MIN, acceptsRange: true},
	"MEDIAN":      {fn: (*BuiltInFunctions).MEDIAN, acceptsRange: true},
	"MODE":        {fn: (*BuiltInFunctions).MODE, acceptsRange: true},
	"IF":          {fn: (*BuiltInFunctions).IF},
	"AND":         {fn: (*BuiltInFunctions).AND},
	"OR":          {fn: (*BuiltInFunctions).OR},
	"NOT":         {fn: (*BuiltInFunctions).NOT},
	"CONCATENATE": {fn: (*BuiltInFunctions).CONCATENATE},
	"LEN":         {fn: (*BuiltInFunctions).LEN},
	"UPPER":       {fn: (*BuiltInFunctions).UPPER},
	"LOWER":       {fn: (*BuiltInFunctions).LOWER},
	"TRIM":        {fn: (*BuiltInFunctions).TRIM},
	"ABS":         {fn: (*BuiltInFunctions).ABS},
	"ROUND":       {fn: (*BuiltInFunctions).ROUND},
	"FLOOR":       {fn: (*BuiltInFunctions).FLOOR},
	"CEILING":     {fn: (*BuiltInFunctions).CEILING},
	"SQRT":        {fn: (*BuiltInFunctions).SQRT},
	"POWER":       {fn: (*BuiltInFunctions).POWER},
	"MOD":         {fn: (*BuiltInFunctions).MOD},
	"PI":          {fn: (*BuiltInFunctions).PI},
	"NOW":         {fn: (*BuiltInFunctions).NOW, volatile: true},
	"TODAY":       {fn: (*BuiltInFunctions).TODAY, volatile: true},
	"RAND":        {fn: (*BuiltInFunctions).RAND, volatile: true},
}

var defaultFunctions = NewDefaultBuiltInFunctions()

// checkForError returns the error if value is a *SpreadsheetError, nil otherwise
func checkForError(value Primitive) *SpreadsheetError {
	if err, ok := value.(*SpreadsheetError); ok {
		return err
	}
	return nil
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with default
// implementations
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return NewBuiltInFunctions(&WallClock{}, &DefaultRandomGenerator{})
}

// NewBuiltInFunctions creates a BuiltInFunctions with the given time and
// randomness sources
func NewBuiltInFunctions(clock Clock, rng RandomGenerator) *BuiltInFunctions {
	return &BuiltInFunctions{clock: clock, rng: rng}
}

// Call invokes a built-in function by name with the given arguments. a range
// passed to a function that only takes single values fails with #VALUE!.
func (bf *BuiltInFunctions) Call(name string, args ...Primitive) (Primitive, error) {
	entry, ok := builtins[strings.ToUpper(name)]
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeName, fmt.Sprintf("Unknown function: %s", name))
	}
	if !entry.acceptsRange {
		for _, arg := range args {
			if err := CheckScalar(arg); err != nil {
				return nil, NewSpreadsheetError(ErrorCodeValue, fmt.Sprintf("%s: %v", strings.ToUpper(name), err))
			}
		}
	}
	return entry.fn(bf, args...)
}

// Functions returns the names of all built-in functions, sorted
func Functions() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// isVolatileFunction returns true if the function result can change without
// any of its inputs changing
func isVolatileFunction(name string) bool {
	return builtins[strings.ToUpper(name)].volatile
}

// numbers collects the numeric arguments of an aggregate. errors propagate.
// empty cells and text inside ranges are skipped, direct arguments are
// coerced.
func numbers(args []Primitive) ([]float64, error) {
	var values []float64
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}

		if r, ok := arg.(Range); ok {
			for value := range r.IterateValues() {
				if err := checkForError(value); err != nil {
					return nil, err
				}
				if value == nil {
					continue
				}
				if num, ok := numericValue(value); ok && !math.IsNaN(num) {
					values = append(values, num)
				}
			}
			continue
		}

		if num, ok := ToNumber(arg); ok && !math.IsNaN(num) {
			values = append(values, num)
		}
	}
	return values, nil
}

func (bf *BuiltInFunctions) SUM(args ...Primitive) (Primitive, error) {
	values, err := numbers(args)
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for _, num := range values {
		sum += num
	}
	rounded, _ := strconv.ParseFloat(fmt.Sprintf("%.15f", sum), 64)
	return rounded, nil
}

func (bf *BuiltInFunctions) AVERAGE(args ...Primitive) (Primitive, error) {
	values, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	sum := 0.0
	for _, num := range values {
		sum += num
	}
	return sum / float64(len(values)), nil
}

func (bf *BuiltInFunctions) AVERAGEA(args ...Primitive) (Primitive, error) {
	sum := 0.0
	count := 0

	// AVERAGEA includes all non-empty values in the count but only
	// numeric values contribute to the sum
	processValue := func(value Primitive) error {
		if value == nil {
			return nil
		}
		if err := checkForError(value); err != nil {
			return err
		}
		switch v := value.(type) {
		case bool:
			if v {
				sum += 1
			}
		case string, rune:
			// text counts as 0
		default:
			if num, ok := numericValue(v); ok {
				sum += num
			}
		}
		count++
		return nil
	}

	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if r, ok := arg.(Range); ok {
			for value := range r.IterateValues() {
				if err := processValue(value); err != nil {
					return nil, err
				}
			}
		} else if err := processValue(arg); err != nil {
			return nil, err
		}
	}

	if count == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "AVERAGEA has no values")
	}
	return sum / float64(count), nil
}

func (bf *BuiltInFunctions) COUNT(args ...Primitive) (Primitive, error) {
	count := 0

	// COUNT only counts numbers and dates; booleans, text and errors inside
	// ranges are skipped
	shouldCount := func(value Primitive) bool {
		_, ok := numericValue(value)
		return ok
	}

	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if r, ok := arg.(Range); ok {
			for value := range r.IterateValues() {
				if shouldCount(value) {
					count++
				}
			}
		} else if shouldCount(arg) {
			count++
		}
	}

	return float64(count), nil
}

func (bf *BuiltInFunctions) COUNTA(args ...Primitive) (Primitive, error) {
	count := 0

	// errors inside ranges are counted, not propagated
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if r, ok := arg.(Range); ok {
			for value := range r.IterateValues() {
				if value != nil {
					count++
				}
			}
		} else if arg != nil {
			count++
		}
	}

	return float64(count), nil
}

func (bf *BuiltInFunctions) MAX(args ...Primitive) (Primitive, error) {
	values, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return 0.0, nil
	}
	return slices.Max(values), nil
}

func (bf *BuiltInFunctions) MIN(args ...Primitive) (Primitive, error) {
	values, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return 0.0, nil
	}
	return slices.Min(values), nil
}

func (bf *BuiltInFunctions) MEDIAN(args ...Primitive) (Primitive, error) {
	values, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MEDIAN has no numeric values")
	}

	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2, nil
	}
	return values[mid], nil
}

func (bf *BuiltInFunctions) MODE(args ...Primitive) (Primitive, error) {
	values, err := numbers(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MODE has no numeric values")
	}

	frequencyMap := make(map[float64]int)
	maxFreq := 0
	for _, num := range values {
		frequencyMap[num]++
		maxFreq = max(maxFreq, frequencyMap[num])
	}
	if maxFreq == 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "MODE: no value appears more than once")
	}

	var modes []float64
	for value, freq := range frequencyMap {
		if freq == maxFreq {
			modes = append(modes, value)
		}
	}
	// smallest mode wins ties
	return slices.Min(modes), nil
}

func (bf *BuiltInFunctions) IF(args ...Primitive) (Primitive, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "IF requires 2 or 3 arguments")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}

	if IsTrue(args[0]) {
		return args[1], nil
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return false, nil
}

func (bf *BuiltInFunctions) AND(args ...Primitive) (Primitive, error) {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if !IsTrue(arg) {
			return false, nil
		}
	}
	return true, nil
}

func (bf *BuiltInFunctions) OR(args ...Primitive) (Primitive, error) {
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		if IsTrue(arg) {
			return true, nil
		}
	}
	return false, nil
}

func (bf *BuiltInFunctions) NOT(args ...Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "NOT requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return !IsTrue(args[0]), nil
}

func (bf *BuiltInFunctions) CONCATENATE(args ...Primitive) (Primitive, error) {
	var result strings.Builder
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
		result.WriteString(ToText(arg))
	}
	return result.String(), nil
}

// textFunction applies fn to the text of a single argument
func textFunction(name string, args []Primitive, fn func(string) Primitive) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, name+" requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	return fn(ToText(args[0])), nil
}

func (bf *BuiltInFunctions) LEN(args ...Primitive) (Primitive, error) {
	return textFunction("LEN", args, func(s string) Primitive {
		return float64(len([]rune(s)))
	})
}

func (bf *BuiltInFunctions) UPPER(args ...Primitive) (Primitive, error) {
	return textFunction("UPPER", args, func(s string) Primitive { return strings.ToUpper(s) })
}

func (bf *BuiltInFunctions) LOWER(args ...Primitive) (Primitive, error) {
	return textFunction("LOWER", args, func(s string) Primitive { return strings.ToLower(s) })
}

func (bf *BuiltInFunctions) TRIM(args ...Primitive) (Primitive, error) {
	return textFunction("TRIM", args, func(s string) Primitive { return strings.TrimSpace(s) })
}

// numericFunction applies fn to the number of a single argument
func numericFunction(name string, args []Primitive, fn func(float64) (Primitive, error)) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewSpreadsheetError(ErrorCodeNA, name+" requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	num, ok := ToNumber(args[0])
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeValue, name+" requires a numeric argument")
	}
	return fn(num)
}

func (bf *BuiltInFunctions) ABS(args ...Primitive) (Primitive, error) {
	return numericFunction("ABS", args, func(n float64) (Primitive, error) { return math.Abs(n), nil })
}

func (bf *BuiltInFunctions) ROUND(args ...Primitive) (Primitive, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "ROUND requires 1 or 2 arguments")
	}
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
	}

	num, ok := ToNumber(args[0])
	if !ok {
		return nil, NewSpreadsheetError(ErrorCodeValue, "ROUND requires a numeric first argument")
	}
	places := 0.0
	if len(args) == 2 {
		places, ok = ToNumber(args[1])
		if !ok {
			return nil, NewSpreadsheetError(ErrorCodeValue, "ROUND requires a numeric second argument")
		}
	}

	multiplier := math.Pow(10, places)
	return math.Round(num*multiplier) / multiplier, nil
}

func (bf *BuiltInFunctions) FLOOR(args ...Primitive) (Primitive, error) {
	return numericFunction("FLOOR", args, func(n float64) (Primitive, error) { return math.Floor(n), nil })
}

func (bf *BuiltInFunctions) CEILING(args ...Primitive) (Primitive, error) {
	return numericFunction("CEILING", args, func(n float64) (Primitive, error) { return math.Ceil(n), nil })
}

func (bf *BuiltInFunctions) SQRT(args ...Primitive) (Primitive, error) {
	return numericFunction("SQRT", args, func(n float64) (Primitive, error) {
		if n < 0 {
			return nil, NewSpreadsheetError(ErrorCodeNum, "SQRT requires a non-negative argument")
		}
		return math.Sqrt(n), nil
	})
}

// binaryNumeric coerces exactly two numeric arguments
func binaryNumeric(name string, args []Primitive) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, NewSpreadsheetError(ErrorCodeNA, name+" requires exactly 2 arguments")
	}
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return 0, 0, err
		}
	}
	a, ok1 := ToNumber(args[0])
	b, ok2 := ToNumber(args[1])
	if !ok1 || !ok2 {
		return 0, 0, NewSpreadsheetError(ErrorCodeValue, name+" requires numeric arguments")
	}
	return a, b, nil
}

func (bf *BuiltInFunctions) POWER(args ...Primitive) (Primitive, error) {
	base, exp, err := binaryNumeric("POWER", args)
	if err != nil {
		return nil, err
	}
	return math.Pow(base, exp), nil
}

func (bf *BuiltInFunctions) MOD(args ...Primitive) (Primitive, error) {
	dividend, divisor, err := binaryNumeric("MOD", args)
	if err != nil {
		return nil, err
	}
	if divisor == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	return math.Mod(dividend, divisor), nil
}

func (bf *BuiltInFunctions) PI(args ...Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "PI takes no arguments")
	}
	return math.Pi, nil
}

func (bf *BuiltInFunctions) NOW(args ...Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "NOW takes no arguments")
	}
	// days since the excel epoch
	serial, _ := numericValue(bf.clock.Now())
	return serial, nil
}

func (bf *BuiltInFunctions) TODAY(args ...Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "TODAY takes no arguments")
	}
	now := bf.clock.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	serial, _ := numericValue(midnight)
	return math.Floor(serial), nil
}

func (bf *BuiltInFunctions) RAND(args ...Primitive) (Primitive, error) {
	if len(args) != 0 {
		return nil, NewSpreadsheetError(ErrorCodeNA, "RAND takes no arguments")
	}
	return bf.rng.Float64(), nil
}
