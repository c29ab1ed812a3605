package table

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedType is returned by ValueOf for Go values with no column type.
var ErrUnsupportedType = errors.New("table: unsupported value type")

// Value is a single typed cell.
//
// The representation avoids reflection on the hot paths (filters, sorting,
// partition hashing): integers and timestamps live in i, floats in f.
type Value struct {
	typ DataType
	i   int64
	f   float64
	s   string
	b   bool
}

// NullValue returns a null Value.
func NullValue() Value { return Value{typ: TypeNull} }

// BoolValue returns a boolean Value.
func BoolValue(v bool) Value { return Value{typ: TypeBool, b: v} }

// Int32Value returns a 32-bit integer Value.
func Int32Value(v int32) Value { return Value{typ: TypeInt32, i: int64(v)} }

// Int64Value returns a 64-bit integer Value.
func Int64Value(v int64) Value { return Value{typ: TypeInt64, i: v} }

// Float32Value returns a single precision Value.
func Float32Value(v float32) Value { return Value{typ: TypeFloat32, f: float64(v)} }

// Float64Value returns a double precision Value.
func Float64Value(v float64) Value { return Value{typ: TypeFloat64, f: v} }

// StringValue returns a string Value.
func StringValue(v string) Value { return Value{typ: TypeString, s: v} }

// TimestampValue returns a timestamp Value. The time is stored as UTC nanoseconds.
func TimestampValue(v time.Time) Value { return Value{typ: TypeTimestamp, i: v.UnixNano()} }

// TimestampNanos returns a timestamp Value from Unix nanoseconds.
func TimestampNanos(ns int64) Value { return Value{typ: TypeTimestamp, i: ns} }

// Type returns the type of the value. Nulls report TypeNull.
func (v Value) Type() DataType { return v.typ }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.typ == TypeNull }

// AsBool returns the boolean if v is TypeBool.
func (v Value) AsBool() (bool, bool) { return v.b, v.typ == TypeBool }

// AsInt64 returns the integer if v is an integer type.
func (v Value) AsInt64() (int64, bool) { return v.i, v.typ.IsInteger() }

// AsFloat64 returns the number as float64 if v is numeric.
func (v Value) AsFloat64() (float64, bool) {
	switch {
	case v.typ.IsFloat():
		return v.f, true
	case v.typ.IsInteger():
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsString returns the string if v is TypeString.
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// AsTime returns the timestamp if v is TypeTimestamp.
func (v Value) AsTime() (time.Time, bool) {
	if v.typ != TypeTimestamp {
		return time.Time{}, false
	}
	return time.Unix(0, v.i).UTC(), true
}

// Any returns the value as a plain Go value (nil, bool, int32, int64, float32,
// float64, string or time.Time).
func (v Value) Any() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt32:
		return int32(v.i)
	case TypeInt64:
		return v.i
	case TypeFloat32:
		return float32(v.f)
	case TypeFloat64:
		return v.f
	case TypeString:
		return v.s
	case TypeTimestamp:
		return time.Unix(0, v.i).UTC()
	default:
		return nil
	}
}

// String renders the value as text. The rendering is stable and is used for
// partition directory names and string casts.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return ""
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt32, TypeInt64:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat32:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case TypeFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return v.s
	case TypeTimestamp:
		return time.Unix(0, v.i).UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Key returns a stable string representation for use in maps.
// Integers of different widths with equal values share a key.
func (v Value) Key() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		if v.b {
			return "b:1"
		}
		return "b:0"
	case TypeInt32, TypeInt64:
		return "i:" + strconv.FormatInt(v.i, 10)
	case TypeFloat32, TypeFloat64:
		return "f:" + strconv.FormatUint(math.Float64bits(v.f), 16)
	case TypeString:
		return "s:" + v.s
	case TypeTimestamp:
		return "t:" + strconv.FormatInt(v.i, 10)
	default:
		return "invalid"
	}
}

// MarshalJSON encodes the plain Go value.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.typ == TypeTimestamp {
		return json.Marshal(time.Unix(0, v.i).UTC().Format(time.RFC3339Nano))
	}
	if v.typ.IsFloat() && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return json.Marshal(v.String())
	}
	return json.Marshal(v.Any())
}

// Equal reports whether a and b hold the same value. Numbers compare by value
// across integer and float types.
func Equal(a, b Value) bool {
	if a.typ.IsNumeric() && b.typ.IsNumeric() {
		return Compare(a, b) == 0
	}
	if a.typ != b.typ {
		return false
	}
	return Compare(a, b) == 0
}

// Compare orders two values. Nulls sort first. Numbers compare by value,
// exactly when both are integers. Values of unrelated types order by type.
func Compare(a, b Value) int {
	if a.typ == TypeNull || b.typ == TypeNull {
		switch {
		case a.typ == b.typ:
			return 0
		case a.typ == TypeNull:
			return -1
		default:
			return 1
		}
	}
	if a.typ.IsInteger() && b.typ.IsInteger() {
		return cmp.Compare(a.i, b.i)
	}
	if a.typ.IsNumeric() && b.typ.IsNumeric() {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return cmp.Compare(af, bf)
	}
	if a.typ != b.typ {
		return cmp.Compare(a.typ, b.typ)
	}
	switch a.typ {
	case TypeBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case TypeString:
		return strings.Compare(a.s, b.s)
	case TypeTimestamp:
		return cmp.Compare(a.i, b.i)
	default:
		return 0
	}
}

// ValueOf converts a Go value into a Value.
//
// Supported inputs are nil, bool, signed and unsigned integers, floats,
// string, []byte, time.Time, json.Number, Value and pointers to any of these.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return v, nil
	case bool:
		return BoolValue(v), nil
	case int8:
		return Int32Value(int32(v)), nil
	case int16:
		return Int32Value(int32(v)), nil
	case int32:
		return Int32Value(v), nil
	case uint8:
		return Int32Value(int32(v)), nil
	case uint16:
		return Int32Value(int32(v)), nil
	case int:
		return Int64Value(int64(v)), nil
	case int64:
		return Int64Value(v), nil
	case uint32:
		return Int64Value(int64(v)), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, v)
		}
		return Int64Value(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return Value{}, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedType, v)
		}
		return Int64Value(int64(v)), nil
	case float32:
		return Float32Value(v), nil
	case float64:
		return Float64Value(v), nil
	case string:
		return StringValue(v), nil
	case []byte:
		return StringValue(string(v)), nil
	case time.Time:
		return TimestampValue(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int64Value(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: json.Number %q", ErrUnsupportedType, v.String())
		}
		return Float64Value(f), nil
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return NullValue(), nil
		}
		return ValueOf(rv.Elem().Interface())
	}
	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, x)
}

// MustValueOf is like ValueOf but panics on unsupported input.
func MustValueOf(x any) Value {
	v, err := ValueOf(x)
	if err != nil {
		panic(err)
	}
	return v
}
