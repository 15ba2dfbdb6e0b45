package spreadsheet

import (
	"fmt"
	"strconv"
	"time"
)

// excel serial dates count days from December 30, 1899
const (
	excelEpochMs = -2209161600000
	msPerDay     = 86400000
)

// ToNumber coerces an operand to a number. missing values count as zero;
// ranges and typed instances never coerce.
func ToNumber(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case rune:
		if v >= '0' && v <= '9' {
			return float64(v - '0'), true
		}
		return 0, false
	}
	return numericValue(value)
}

// numericValue extracts the number from values that are numbers already
func numericValue(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case time.Time:
		return float64(v.UnixMilli()-excelEpochMs) / msPerDay, true
	}
	return 0, false
}

// IsTrue is the boolean test used by conditions. a missing value is false,
// not zero.
func IsTrue(value Primitive) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v != ""
	case rune:
		return v != 0
	case time.Time:
		return !v.IsZero()
	default:
		return true
	}
}

// ToText renders a value for concatenation and text functions
func ToText(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case rune:
		return string(v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	case TypedInstance:
		return v.TypeName()
	case *SpreadsheetError:
		return ErrorMapper[v.ErrorCode]
	}
	return fmt.Sprint(value)
}

// IsAcceptedValue reports whether v is one of the value kinds a cell or an
// argument may carry
func IsAcceptedValue(value Primitive) bool {
	switch value.(type) {
	case nil, float64, int, int64, string, rune, bool, time.Time, Matrix, TypedInstance, *SpreadsheetError:
		return true
	}
	return false
}

// CheckScalar rejects values that may not reach a scalar operator or
// function: ranges and unsupported kinds
func CheckScalar(value Primitive) error {
	if _, ok := value.(Matrix); ok {
		return fmt.Errorf("%w: a range cannot be used as a single value", ErrArgumentType)
	}
	if !IsAcceptedValue(value) {
		return fmt.Errorf("%w: unsupported value %T", ErrArgumentType, value)
	}
	return nil
}
