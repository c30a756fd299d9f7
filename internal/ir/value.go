package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the text form of timestamp columns.
const TimestampLayout = "2006-01-02 15:04:05"

// IRValue is a sealed interface representing a single column value.
// Only IRNull, IRString, IRInt, IRFloat, IRBool, IRArray, and IRObject implement it.
type IRValue interface {
	irValue() // Sealed - only these types implement it

	// Text returns the value as the backing store would render it in
	// string context (CONCAT, key strings). NULL renders as "".
	Text() string
}

// IRNull represents SQL NULL.
type IRNull struct{}

func (IRNull) irValue() {}

// Text implements IRValue.
func (IRNull) Text() string { return "" }

// MarshalJSON implements json.Marshaler for IRNull.
func (IRNull) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// IRString represents a text value.
type IRString string

func (IRString) irValue() {}

// Text implements IRValue.
func (s IRString) Text() string { return string(s) }

// IRInt represents an integer value.
type IRInt int64

func (IRInt) irValue() {}

// Text implements IRValue.
func (n IRInt) Text() string { return strconv.FormatInt(int64(n), 10) }

// IRFloat represents a floating point value.
type IRFloat float64

func (IRFloat) irValue() {}

// Text implements IRValue. Floats render the way the backing store renders
// REAL in text context: whole values keep ".0", and very large or small
// magnitudes use exponent form ("1.0e+20").
func (f IRFloat) Text() string { return formatReal(float64(f)) }

// IRBool represents a boolean value. Stores render it as 1/0.
type IRBool bool

func (IRBool) irValue() {}

// Text implements IRValue.
func (b IRBool) Text() string {
	if b {
		return "1"
	}
	return "0"
}

// IRArray is an ordered list of values, used for result sets and key tuples.
type IRArray []IRValue

func (IRArray) irValue() {}

// Text implements IRValue.
func (a IRArray) Text() string {
	var sb strings.Builder
	for _, v := range a {
		sb.WriteString(v.Text())
	}
	return sb.String()
}

// IRObject maps column names to values.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// Text implements IRValue.
func (o IRObject) Text() string {
	b, err := MarshalCanonical(o)
	if err != nil {
		return ""
	}
	return string(b)
}

// Null is the shared NULL value.
var Null IRValue = IRNull{}

// IsNull reports whether v is NULL (or a nil interface).
func IsNull(v IRValue) bool {
	if v == nil {
		return true
	}
	_, ok := v.(IRNull)
	return ok
}

// FromDriver converts a value scanned by database/sql into an IRValue.
// Drivers hand back int64, float64, bool, []byte, string, time.Time or nil.
func FromDriver(src any) (IRValue, error) {
	switch v := src.(type) {
	case nil:
		return IRNull{}, nil
	case int64:
		return IRInt(v), nil
	case int32:
		return IRInt(v), nil
	case int:
		return IRInt(v), nil
	case float64:
		return IRFloat(v), nil
	case float32:
		return IRFloat(v), nil
	case bool:
		return IRBool(v), nil
	case []byte:
		return IRString(string(v)), nil
	case string:
		return IRString(v), nil
	case time.Time:
		return IRString(v.UTC().Format(TimestampLayout)), nil
	default:
		return nil, fmt.Errorf("unsupported driver value type: %T", src)
	}
}

// FromGo converts a plain Go value (YAML/JSON decoded, CLI input, literals)
// into an IRValue. IRValues pass through unchanged.
func FromGo(src any) (IRValue, error) {
	switch v := src.(type) {
	case IRValue:
		return v, nil
	case nil:
		return IRNull{}, nil
	case int:
		return IRInt(v), nil
	case int8:
		return IRInt(v), nil
	case int16:
		return IRInt(v), nil
	case int32:
		return IRInt(v), nil
	case int64:
		return IRInt(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", v)
		}
		return IRInt(v), nil
	case uint8:
		return IRInt(v), nil
	case uint16:
		return IRInt(v), nil
	case uint32:
		return IRInt(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of int64 range: %d", v)
		}
		return IRInt(v), nil
	case float32:
		return IRFloat(v), nil
	case float64:
		return IRFloat(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return IRInt(n), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", v, err)
		}
		return IRFloat(f), nil
	case bool:
		return IRBool(v), nil
	case string:
		return IRString(v), nil
	case []byte:
		return IRString(string(v)), nil
	case time.Time:
		return IRString(v.UTC().Format(TimestampLayout)), nil
	case []any:
		arr := make(IRArray, len(v))
		for i, elem := range v {
			iv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = iv
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(v))
		for k, elem := range v {
			iv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = iv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", src)
	}
}

// MustFromGo is FromGo for literals known to convert. It panics otherwise.
func MustFromGo(src any) IRValue {
	v, err := FromGo(src)
	if err != nil {
		panic(err)
	}
	return v
}

// ToDriver converts an IRValue into a database/sql bind parameter.
// Composite values are not bindable and render as their canonical text.
func ToDriver(v IRValue) any {
	switch val := v.(type) {
	case nil, IRNull:
		return nil
	case IRString:
		return string(val)
	case IRInt:
		return int64(val)
	case IRFloat:
		return float64(val)
	case IRBool:
		return bool(val)
	default:
		return v.Text()
	}
}

// ToGo converts an IRValue into plain Go values, the inverse of FromGo.
func ToGo(v IRValue) any {
	switch val := v.(type) {
	case IRArray:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case IRObject:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return ToDriver(v)
	}
}

func formatReal(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	mant, expText, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	exp, _ := strconv.Atoi(expText)
	if exp < -4 || exp >= 15 {
		if !strings.Contains(mant, ".") {
			mant += ".0"
		}
		sign := "+"
		if exp < 0 {
			sign, exp = "-", -exp
		}
		return fmt.Sprintf("%se%s%02d", mant, sign, exp)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
