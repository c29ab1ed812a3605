package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/quiverdb/quiver/table"
)

// Operator represents a comparison operator for filtering.
type Operator string

const (
	// OpEqual represents the equality operator.
	OpEqual Operator = "eq"
	// OpNotEqual represents the inequality operator.
	OpNotEqual Operator = "ne"
	// OpGreaterThan represents the greater than operator.
	OpGreaterThan Operator = "gt"
	// OpGreaterEqual represents the greater than or equal operator.
	OpGreaterEqual Operator = "gte"
	// OpLessThan represents the less than operator.
	OpLessThan Operator = "lt"
	// OpLessEqual represents the less than or equal operator.
	OpLessEqual Operator = "lte"
	// OpIn represents the in list operator.
	OpIn Operator = "in"
	// OpContains represents the contains substring operator.
	OpContains Operator = "contains"
	// OpIsNull matches null cells.
	OpIsNull Operator = "is_null"
	// OpNotNull matches non-null cells.
	OpNotNull Operator = "not_null"
)

// ParseOperator accepts operator names and their symbolic spellings.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eq", "=", "==":
		return OpEqual, nil
	case "ne", "!=", "<>":
		return OpNotEqual, nil
	case "gt", ">":
		return OpGreaterThan, nil
	case "gte", ">=":
		return OpGreaterEqual, nil
	case "lt", "<":
		return OpLessThan, nil
	case "lte", "<=":
		return OpLessEqual, nil
	case "in":
		return OpIn, nil
	case "contains":
		return OpContains, nil
	case "is_null":
		return OpIsNull, nil
	case "not_null":
		return OpNotNull, nil
	default:
		return "", fmt.Errorf("query: unknown operator %q", s)
	}
}

// Filter is a single column condition. OpIn uses Values; the others use Value.
type Filter struct {
	Column   string
	Operator Operator
	Value    table.Value
	Values   []table.Value
}

// NewFilter builds a filter from a plain Go value. For OpIn, v must be a slice.
func NewFilter(column string, op Operator, v any) (Filter, error) {
	f := Filter{Column: column, Operator: op}
	switch op {
	case OpIsNull, OpNotNull:
		return f, nil
	case OpIn:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return Filter{}, fmt.Errorf("query: %s needs a slice, got %T", op, v)
		}
		f.Values = make([]table.Value, rv.Len())
		for i := range f.Values {
			val, err := table.ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Filter{}, err
			}
			f.Values[i] = val
		}
		return f, nil
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpContains:
		val, err := table.ValueOf(v)
		if err != nil {
			return Filter{}, err
		}
		f.Value = val
		return f, nil
	default:
		return Filter{}, fmt.Errorf("query: unknown operator %q", op)
	}
}

// Eq is shorthand for an equality filter.
func Eq(column string, v any) Filter {
	return Filter{Column: column, Operator: OpEqual, Value: table.MustValueOf(v)}
}

func (f Filter) String() string {
	if f.Operator == OpIn {
		return fmt.Sprintf("%s in %v", f.Column, f.Values)
	}
	return fmt.Sprintf("%s %s %s", f.Column, f.Operator, f.Value)
}

// coerce casts the filter operands to the column type when possible, so that
// "2024-01-01" compares against a timestamp column as a time.
func (f Filter) coerce(to table.DataType) Filter {
	cast := func(v table.Value) table.Value {
		if v.IsNull() || v.Type() == to || (v.Type().IsNumeric() && to.IsNumeric()) {
			return v
		}
		if c, err := v.Cast(to); err == nil {
			return c
		}
		return v
	}
	if f.Operator == OpContains {
		return f
	}
	out := f
	out.Value = cast(f.Value)
	if f.Values != nil {
		out.Values = make([]table.Value, len(f.Values))
		for i, v := range f.Values {
			out.Values[i] = cast(v)
		}
	}
	return out
}

// Matches checks a single cell against the filter.
func (f Filter) Matches(v table.Value) bool {
	switch f.Operator {
	case OpIsNull:
		return v.IsNull()
	case OpNotNull:
		return !v.IsNull()
	}
	if v.IsNull() {
		return f.Operator == OpNotEqual && !f.Value.IsNull()
	}
	switch f.Operator {
	case OpEqual:
		return table.Equal(v, f.Value)
	case OpNotEqual:
		return !table.Equal(v, f.Value)
	case OpGreaterThan:
		return ordered(v, f.Value) && table.Compare(v, f.Value) > 0
	case OpGreaterEqual:
		return ordered(v, f.Value) && table.Compare(v, f.Value) >= 0
	case OpLessThan:
		return ordered(v, f.Value) && table.Compare(v, f.Value) < 0
	case OpLessEqual:
		return ordered(v, f.Value) && table.Compare(v, f.Value) <= 0
	case OpIn:
		for _, item := range f.Values {
			if table.Equal(v, item) {
				return true
			}
		}
		return false
	case OpContains:
		s, ok := v.AsString()
		sub, ok2 := f.Value.AsString()
		return ok && ok2 && strings.Contains(s, sub)
	default:
		return false
	}
}

// ordered reports whether a and b have a meaningful order.
func ordered(a, b table.Value) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	if a.Type().IsNumeric() && b.Type().IsNumeric() {
		return true
	}
	return a.Type() == b.Type()
}

// Evaluate returns the rows of t that match f.
func (f Filter) Evaluate(t *table.Table) (*roaring.Bitmap, error) {
	col, ok := t.Column(f.Column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", table.ErrColumnNotFound, f.Column)
	}
	field, _ := t.Schema().Field(f.Column)
	g := f.coerce(field.Type)

	bm := roaring.New()
	for i, v := range col {
		if g.Matches(v) {
			bm.Add(uint32(i))
		}
	}
	return bm, nil
}

// FilterSet represents a set of filters that must all match (AND logic).
type FilterSet struct {
	Filters []Filter
}

// NewFilterSet creates a new filter set.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// Evaluate returns the rows of t that match every filter.
func (fs *FilterSet) Evaluate(t *table.Table) (*roaring.Bitmap, error) {
	bm := roaring.New()
	bm.AddRange(0, uint64(t.NumRows()))
	for _, f := range fs.Filters {
		if bm.IsEmpty() {
			break
		}
		m, err := f.Evaluate(t)
		if err != nil {
			return nil, err
		}
		bm.And(m)
	}
	return bm, nil
}

// Apply returns the matching rows of t.
func (fs *FilterSet) Apply(t *table.Table) (*table.Table, error) {
	bm, err := fs.Evaluate(t)
	if err != nil {
		return nil, err
	}
	if bm.GetCardinality() == uint64(t.NumRows()) {
		return t, nil
	}
	rows := bm.ToArray()
	idx := make([]int, len(rows))
	for i, r := range rows {
		idx[i] = int(r)
	}
	return t.Take(idx), nil
}
