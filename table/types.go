package table

import (
	"fmt"
	"strings"
)

// DataType identifies the logical type of a column.
type DataType uint8

const (
	// TypeNull is the type of a column that only ever held nulls.
	TypeNull DataType = iota
	// TypeBool is a boolean column.
	TypeBool
	// TypeInt32 is a 32-bit signed integer column.
	TypeInt32
	// TypeInt64 is a 64-bit signed integer column.
	TypeInt64
	// TypeFloat32 is a single precision floating point column.
	TypeFloat32
	// TypeFloat64 is a double precision floating point column.
	TypeFloat64
	// TypeString is a UTF-8 string column. It is the universal fallback type.
	TypeString
	// TypeTimestamp is a nanosecond precision UTC timestamp column.
	TypeTimestamp
)

var typeNames = [...]string{
	TypeNull:      "null",
	TypeBool:      "bool",
	TypeInt32:     "int32",
	TypeInt64:     "int64",
	TypeFloat32:   "float32",
	TypeFloat64:   "float64",
	TypeString:    "string",
	TypeTimestamp: "timestamp",
}

// String returns the stable name of the type.
func (t DataType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("DataType(%d)", uint8(t))
}

// IsInteger reports whether t is an integer type.
func (t DataType) IsInteger() bool { return t == TypeInt32 || t == TypeInt64 }

// IsFloat reports whether t is a floating point type.
func (t DataType) IsFloat() bool { return t == TypeFloat32 || t == TypeFloat64 }

// IsNumeric reports whether t is an integer or floating point type.
func (t DataType) IsNumeric() bool { return t.IsInteger() || t.IsFloat() }

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	if int(t) >= len(typeNames) {
		return nil, fmt.Errorf("table: invalid data type %d", uint8(t))
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDataType parses a type name. Besides the canonical names it accepts the
// dtype spellings found in schema documents written by dataframe libraries
// (Int64, Float64, Utf8, Boolean, Datetime, ...).
func ParseDataType(name string) (DataType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(n, '('); i > 0 {
		n = n[:i] // Datetime(time_unit='ns') and friends
	}
	switch n {
	case "null":
		return TypeNull, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "int8", "int16", "int32", "uint8", "uint16", "i32":
		return TypeInt32, nil
	case "int", "int64", "uint32", "uint64", "i64", "integer":
		return TypeInt64, nil
	case "float32", "f32", "float":
		return TypeFloat32, nil
	case "float64", "f64", "double", "decimal", "number":
		return TypeFloat64, nil
	case "string", "utf8", "str", "text", "categorical", "enum":
		return TypeString, nil
	case "timestamp", "datetime", "date", "time":
		return TypeTimestamp, nil
	default:
		return TypeNull, fmt.Errorf("table: unknown data type %q", name)
	}
}

// Widen returns the most general type that can represent every value of a and
// b without loss. It never fails: combinations with no common numeric or
// temporal representation widen to TypeString.
//
//	a == b                 -> a
//	null + x               -> x
//	int32 + int64          -> int64
//	float32 + float64      -> float64
//	integer + float        -> float64
//	anything else          -> string
func Widen(a, b DataType) DataType {
	switch {
	case a == b:
		return a
	case a == TypeNull:
		return b
	case b == TypeNull:
		return a
	case a.IsInteger() && b.IsInteger():
		return TypeInt64
	case a.IsFloat() && b.IsFloat():
		return TypeFloat64
	case a.IsNumeric() && b.IsNumeric():
		return TypeFloat64
	default:
		return TypeString
	}
}

// WidenAll folds Widen over types. An empty input yields TypeNull.
func WidenAll(types ...DataType) DataType {
	out := TypeNull
	for _, t := range types {
		out = Widen(out, t)
	}
	return out
}
