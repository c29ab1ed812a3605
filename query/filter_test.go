package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/table"
)

func prices(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.FromRecords([]map[string]any{
		{"symbol": "AAPL", "price": 10.5, "day": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"symbol": "MSFT", "price": 20, "day": time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"symbol": "GOOG", "day": time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	return tbl
}

func TestFilterMatches(t *testing.T) {
	tests := []struct {
		name  string
		op    Operator
		value any
		cell  table.Value
		want  bool
	}{
		{"EqualMixedNumeric", OpEqual, 3, table.Float64Value(3), true},
		{"NotEqual", OpNotEqual, "a", table.StringValue("b"), true},
		{"NotEqualNull", OpNotEqual, "a", table.NullValue(), true},
		{"GreaterThan", OpGreaterThan, 1, table.Int64Value(2), true},
		{"GreaterEqual", OpGreaterEqual, 2, table.Int32Value(2), true},
		{"LessThan", OpLessThan, 2.5, table.Int64Value(2), true},
		{"LessEqualFalse", OpLessEqual, 1, table.Int64Value(2), false},
		{"MismatchedTypes", OpGreaterThan, "a", table.Int64Value(2), false},
		{"NullNeverOrdered", OpLessThan, 10, table.NullValue(), false},
		{"Contains", OpContains, "ap", table.StringValue("apple"), true},
		{"ContainsNonString", OpContains, "1", table.Int64Value(1), false},
		{"IsNull", OpIsNull, nil, table.NullValue(), true},
		{"NotNull", OpNotNull, nil, table.NullValue(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter("c", tt.op, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Matches(tt.cell))
		})
	}
}

func TestFilterIn(t *testing.T) {
	f, err := NewFilter("c", OpIn, []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, f.Matches(table.StringValue("b")))
	assert.False(t, f.Matches(table.StringValue("c")))

	_, err = NewFilter("c", OpIn, "a")
	assert.Error(t, err)

	_, err = NewFilter("c", Operator("like"), "a")
	assert.Error(t, err)
}

func TestFilterEvaluate(t *testing.T) {
	tbl := prices(t)

	bm, err := Eq("symbol", "MSFT").Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, bm.ToArray())

	// String operands are cast to the column type.
	f, err := NewFilter("day", OpGreaterEqual, "2024-01-02")
	require.NoError(t, err)
	bm, err = f.Evaluate(tbl)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2}, bm.ToArray())

	_, err = Eq("missing", 1).Evaluate(tbl)
	assert.ErrorIs(t, err, table.ErrColumnNotFound)
}

func TestFilterSetApply(t *testing.T) {
	tbl := prices(t)

	gt, err := NewFilter("price", OpGreaterThan, 5)
	require.NoError(t, err)
	out, err := NewFilterSet(gt, Filter{Column: "symbol", Operator: OpNotEqual, Value: table.StringValue("AAPL")}).Apply(tbl)
	require.NoError(t, err)
	require.Equal(t, 1, out.NumRows())
	assert.Equal(t, "MSFT", out.Record(0)["symbol"])

	all, err := NewFilterSet().Apply(tbl)
	require.NoError(t, err)
	assert.Same(t, tbl, all)
}

func TestParseOperator(t *testing.T) {
	for in, want := range map[string]Operator{
		"=": OpEqual, "!=": OpNotEqual, ">": OpGreaterThan, ">=": OpGreaterEqual,
		"<": OpLessThan, "<=": OpLessEqual, "IN": OpIn, "contains": OpContains,
		"is_null": OpIsNull, "not_null": OpNotNull,
	} {
		got, err := ParseOperator(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOperator("~")
	assert.Error(t, err)
}
