package table

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	s := "ptr"
	var nilPtr *int

	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"Nil", nil, NullValue()},
		{"Bool", true, BoolValue(true)},
		{"Int8", int8(-3), Int32Value(-3)},
		{"Int32", int32(7), Int32Value(7)},
		{"Int", 42, Int64Value(42)},
		{"Uint32", uint32(9), Int64Value(9)},
		{"Float32", float32(1.5), Float32Value(1.5)},
		{"Float64", 2.25, Float64Value(2.25)},
		{"String", "x", StringValue("x")},
		{"Bytes", []byte("raw"), StringValue("raw")},
		{"Time", ts, TimestampValue(ts)},
		{"JSONInt", json.Number("12"), Int64Value(12)},
		{"JSONFloat", json.Number("1.5"), Float64Value(1.5)},
		{"Pointer", &s, StringValue("ptr")},
		{"NilPointer", nilPtr, NullValue()},
		{"Value", Int64Value(3), Int64Value(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValueOf(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Unsupported", func(t *testing.T) {
		_, err := ValueOf(struct{}{})
		assert.ErrorIs(t, err, ErrUnsupportedType)

		_, err = ValueOf(uint64(math.MaxUint64))
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestValueString(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "", NullValue().String())
	assert.Equal(t, "true", BoolValue(true).String())
	assert.Equal(t, "-5", Int32Value(-5).String())
	assert.Equal(t, "0.5", Float64Value(0.5).String())
	assert.Equal(t, "2024-01-02T00:00:00Z", TimestampValue(ts).String())
}

func TestValueKey(t *testing.T) {
	assert.Equal(t, Int32Value(1).Key(), Int64Value(1).Key())
	assert.NotEqual(t, Int64Value(1).Key(), StringValue("1").Key())
	assert.NotEqual(t, NullValue().Key(), StringValue("").Key())
	assert.NotEqual(t, BoolValue(true).Key(), BoolValue(false).Key())
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(NullValue(), Int64Value(0)))
	assert.Equal(t, 1, Compare(Int64Value(0), NullValue()))
	assert.Equal(t, 0, Compare(NullValue(), NullValue()))
	assert.Equal(t, -1, Compare(Int32Value(1), Int64Value(2)))
	assert.Equal(t, 0, Compare(Int64Value(2), Float64Value(2)))
	assert.Equal(t, 1, Compare(Float32Value(2.5), Int64Value(2)))
	assert.Equal(t, -1, Compare(StringValue("a"), StringValue("b")))
	assert.Equal(t, -1, Compare(BoolValue(false), BoolValue(true)))

	assert.True(t, Equal(Int64Value(3), Float64Value(3)))
	assert.False(t, Equal(StringValue("3"), Int64Value(3)))
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal([]Value{NullValue(), Int64Value(1), StringValue("a"), Float64Value(math.Inf(1))})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, 1, "a", "+Inf"]`, string(b))
}
