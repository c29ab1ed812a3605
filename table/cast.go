package table

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrCast is the sentinel wrapped by every CastError.
var ErrCast = errors.New("table: cannot cast value")

// CastError reports a value that has no representation in the target type.
type CastError struct {
	Value Value
	To    DataType
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %s %q to %s", e.Value.Type(), e.Value.String(), e.To)
}

// Unwrap returns ErrCast.
func (e *CastError) Unwrap() error { return ErrCast }

// Cast converts v to the target type.
//
// Conversions along the widening lattice always succeed. Other conversions are
// best effort: numeric strings parse into numbers, integral floats become
// integers, booleans become 0/1. Everything else fails with a *CastError.
// Nulls cast to any type.
func (v Value) Cast(to DataType) (Value, error) {
	if v.typ == to || v.typ == TypeNull {
		return v, nil
	}
	switch to {
	case TypeNull:
		return NullValue(), nil
	case TypeString:
		return StringValue(v.String()), nil
	case TypeFloat64:
		return v.castFloat(to, math.MaxFloat64)
	case TypeFloat32:
		return v.castFloat(to, math.MaxFloat32)
	case TypeInt64:
		return v.castInt(to, math.MinInt64, math.MaxInt64)
	case TypeInt32:
		return v.castInt(to, math.MinInt32, math.MaxInt32)
	case TypeBool:
		return v.castBool()
	case TypeTimestamp:
		return v.castTimestamp()
	}
	return Value{}, &CastError{Value: v, To: to}
}

func (v Value) castFloat(to DataType, limit float64) (Value, error) {
	var f float64
	switch {
	case v.typ.IsNumeric():
		f, _ = v.AsFloat64()
	case v.typ == TypeBool:
		if v.b {
			f = 1
		}
	case v.typ == TypeString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return Value{}, &CastError{Value: v, To: to}
		}
		f = parsed
	default:
		return Value{}, &CastError{Value: v, To: to}
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > limit {
		return Value{}, &CastError{Value: v, To: to}
	}
	if to == TypeFloat32 {
		return Float32Value(float32(f)), nil
	}
	return Float64Value(f), nil
}

func (v Value) castInt(to DataType, lo, hi int64) (Value, error) {
	var i int64
	switch {
	case v.typ.IsInteger(), v.typ == TypeTimestamp:
		i = v.i
	case v.typ.IsFloat():
		if v.f != math.Trunc(v.f) || math.IsInf(v.f, 0) || math.IsNaN(v.f) ||
			v.f < math.MinInt64 || v.f > math.MaxInt64 {
			return Value{}, &CastError{Value: v, To: to}
		}
		i = int64(v.f)
	case v.typ == TypeBool:
		if v.b {
			i = 1
		}
	case v.typ == TypeString:
		s := strings.TrimSpace(v.s)
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != math.Trunc(f) {
				return Value{}, &CastError{Value: v, To: to}
			}
			parsed = int64(f)
		}
		i = parsed
	default:
		return Value{}, &CastError{Value: v, To: to}
	}
	if i < lo || i > hi {
		return Value{}, &CastError{Value: v, To: to}
	}
	if to == TypeInt32 {
		return Int32Value(int32(i)), nil
	}
	return Int64Value(i), nil
}

func (v Value) castBool() (Value, error) {
	switch {
	case v.typ.IsInteger() && (v.i == 0 || v.i == 1):
		return BoolValue(v.i == 1), nil
	case v.typ == TypeString:
		b, err := strconv.ParseBool(strings.TrimSpace(v.s))
		if err != nil {
			return Value{}, &CastError{Value: v, To: TypeBool}
		}
		return BoolValue(b), nil
	default:
		return Value{}, &CastError{Value: v, To: TypeBool}
	}
}

func (v Value) castTimestamp() (Value, error) {
	switch {
	case v.typ.IsInteger():
		return TimestampNanos(v.i), nil
	case v.typ == TypeString:
		s := strings.TrimSpace(v.s)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return TimestampValue(t), nil
			}
		}
	}
	return Value{}, &CastError{Value: v, To: TypeTimestamp}
}

// CastColumn casts every value of col to the target type.
func CastColumn(col []Value, to DataType) ([]Value, error) {
	out := make([]Value, len(col))
	for i, v := range col {
		c, err := v.Cast(to)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
