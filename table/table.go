// Package table provides the in-memory columnar table used for writes and
// query results.
//
// Tables are immutable once built. Operations that change shape return a new
// Table and may share column storage with the receiver.
package table

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrColumnNotFound is returned when a named column does not exist.
var ErrColumnNotFound = errors.New("table: column not found")

// ErrShape is returned when column lengths or types disagree with the schema.
var ErrShape = errors.New("table: shape mismatch")

// Table is a schema plus one value slice per column.
type Table struct {
	schema Schema
	cols   [][]Value
	rows   int
}

// New builds a table from a schema and its columns. Every column must have
// the same length and every non-null value must match its field type.
func New(schema Schema, cols [][]Value) (*Table, error) {
	if len(cols) != schema.Len() {
		return nil, fmt.Errorf("%w: %d columns for %d fields", ErrShape, len(cols), schema.Len())
	}
	rows := 0
	if len(cols) > 0 {
		rows = len(cols[0])
	}
	for i, col := range cols {
		f := schema.Fields[i]
		if len(col) != rows {
			return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrShape, f.Name, len(col), rows)
		}
		for _, v := range col {
			if !v.IsNull() && v.Type() != f.Type {
				return nil, fmt.Errorf("%w: column %q holds %s, want %s", ErrShape, f.Name, v.Type(), f.Type)
			}
		}
	}
	return &Table{schema: schema, cols: cols, rows: rows}, nil
}

// MustNew is like New but panics on error.
func MustNew(schema Schema, cols [][]Value) *Table {
	t, err := New(schema, cols)
	if err != nil {
		panic(err)
	}
	return t
}

// Empty returns a table with the given schema and no rows.
func Empty(schema Schema) *Table {
	cols := make([][]Value, schema.Len())
	for i := range cols {
		cols[i] = []Value{}
	}
	return &Table{schema: schema, cols: cols}
}

// FromRecords builds a table from row maps. Columns are ordered by name and
// each column takes the widened type of its values; missing keys become nulls.
func FromRecords(records []map[string]any) (*Table, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, rec := range records {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)

	cols := make([][]Value, len(names))
	fields := make([]Field, len(names))
	for c, name := range names {
		col := make([]Value, len(records))
		typ := TypeNull
		nullable := false
		for r, rec := range records {
			v, err := ValueOf(rec[name])
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, r, err)
			}
			if v.IsNull() {
				nullable = true
			}
			typ = Widen(typ, v.Type())
			col[r] = v
		}
		cast, err := CastColumn(col, typ)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		cols[c] = cast
		fields[c] = Field{Name: name, Type: typ, Nullable: nullable}
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return New(schema, cols)
}

// Schema returns the table schema.
func (t *Table) Schema() Schema { return t.schema }

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// Column returns the values of the named column. The slice must not be modified.
func (t *Table) Column(name string) ([]Value, bool) {
	i := t.schema.Index(name)
	if i < 0 {
		return nil, false
	}
	return t.cols[i], true
}

// ColumnAt returns the values of the i-th column.
func (t *Table) ColumnAt(i int) []Value { return t.cols[i] }

// Row returns the i-th row in schema order.
func (t *Table) Row(i int) []Value {
	out := make([]Value, len(t.cols))
	for c, col := range t.cols {
		out[c] = col[i]
	}
	return out
}

// Record returns the i-th row as a map of plain Go values.
func (t *Table) Record(i int) map[string]any {
	out := make(map[string]any, len(t.cols))
	for c, f := range t.schema.Fields {
		out[f.Name] = t.cols[c][i].Any()
	}
	return out
}

// Records returns every row as a map of plain Go values.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, t.rows)
	for i := range out {
		out[i] = t.Record(i)
	}
	return out
}

// Take returns the rows at the given indices, in that order.
func (t *Table) Take(idx []int) *Table {
	cols := make([][]Value, len(t.cols))
	for c, col := range t.cols {
		out := make([]Value, len(idx))
		for i, r := range idx {
			out[i] = col[r]
		}
		cols[c] = out
	}
	return &Table{schema: t.schema, cols: cols, rows: len(idx)}
}

// Slice returns rows [lo, hi). Bounds are clamped to the table.
func (t *Table) Slice(lo, hi int) *Table {
	lo = max(0, min(lo, t.rows))
	hi = max(lo, min(hi, t.rows))
	cols := make([][]Value, len(t.cols))
	for c, col := range t.cols {
		cols[c] = col[lo:hi:hi]
	}
	return &Table{schema: t.schema, cols: cols, rows: hi - lo}
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table { return t.Slice(0, n) }

// Tail returns the last n rows.
func (t *Table) Tail(n int) *Table { return t.Slice(t.rows-n, t.rows) }

// Select returns a table holding only the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	fields := make([]Field, len(names))
	cols := make([][]Value, len(names))
	for i, name := range names {
		c := t.schema.Index(name)
		if c < 0 {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
		}
		fields[i] = t.schema.Fields[c]
		cols[i] = t.cols[c]
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return &Table{schema: schema, cols: cols, rows: t.rows}, nil
}

// WithColumn returns a table with the column set to values. An existing column
// of the same name is replaced in place; otherwise the column is appended.
func (t *Table) WithColumn(f Field, values []Value) (*Table, error) {
	if len(values) != t.rows && len(t.cols) > 0 {
		return nil, fmt.Errorf("%w: column %q has %d rows, want %d", ErrShape, f.Name, len(values), t.rows)
	}
	fields := slices.Clone(t.schema.Fields)
	cols := slices.Clone(t.cols)
	if i := t.schema.Index(f.Name); i >= 0 {
		fields[i] = f
		cols[i] = values
	} else {
		fields = append(fields, f)
		cols = append(cols, values)
	}
	return New(Schema{Fields: fields}, cols)
}

// WithConstant returns a table with a column holding v on every row.
func (t *Table) WithConstant(name string, v Value) (*Table, error) {
	values := make([]Value, t.rows)
	for i := range values {
		values[i] = v
	}
	return t.WithColumn(Field{Name: name, Type: v.Type(), Nullable: v.IsNull()}, values)
}

// Drop returns a table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	fields := make([]Field, 0, len(t.cols))
	cols := make([][]Value, 0, len(t.cols))
	for i, f := range t.schema.Fields {
		if slices.Contains(names, f.Name) {
			continue
		}
		fields = append(fields, f)
		cols = append(cols, t.cols[i])
	}
	return &Table{schema: Schema{Fields: fields}, cols: cols, rows: t.rows}
}

// Cast converts the named columns to the given types.
func (t *Table) Cast(types map[string]DataType) (*Table, error) {
	fields := slices.Clone(t.schema.Fields)
	cols := slices.Clone(t.cols)
	for i, f := range fields {
		to, ok := types[f.Name]
		if !ok || to == f.Type {
			continue
		}
		cast, err := CastColumn(cols[i], to)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		fields[i].Type = to
		cols[i] = cast
	}
	return &Table{schema: Schema{Fields: fields}, cols: cols, rows: t.rows}, nil
}

// Concat stacks tables that share the same column names and types. Column
// order follows the first table.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return Empty(Schema{}), nil
	}
	first := tables[0].schema
	total := 0
	for _, t := range tables {
		if t.schema.Len() != first.Len() {
			return nil, fmt.Errorf("%w: %s vs %s", ErrShape, first, t.schema)
		}
		total += t.rows
	}
	fields := slices.Clone(first.Fields)
	cols := make([][]Value, len(fields))
	for c, f := range fields {
		out := make([]Value, 0, total)
		for _, t := range tables {
			i := t.schema.Index(f.Name)
			if i < 0 || t.schema.Fields[i].Type != f.Type {
				return nil, fmt.Errorf("%w: column %q differs", ErrShape, f.Name)
			}
			if t.schema.Fields[i].Nullable {
				fields[c].Nullable = true
			}
			out = append(out, t.cols[i]...)
		}
		cols[c] = out
	}
	return &Table{schema: Schema{Fields: fields}, cols: cols, rows: total}, nil
}

// SortKey orders rows by one column.
type SortKey struct {
	Column     string
	Descending bool
}

// Sort returns the rows ordered by keys. The sort is stable.
func (t *Table) Sort(keys ...SortKey) (*Table, error) {
	idx := make([]int, len(keys))
	for i, k := range keys {
		c := t.schema.Index(k.Column)
		if c < 0 {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, k.Column)
		}
		idx[i] = c
	}
	order := make([]int, t.rows)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		for i, k := range keys {
			col := t.cols[idx[i]]
			c := Compare(col[order[a]], col[order[b]])
			if c == 0 {
				continue
			}
			if k.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return t.Take(order), nil
}

// SortBy sorts ascending by the named columns.
func (t *Table) SortBy(columns ...string) (*Table, error) {
	keys := make([]SortKey, len(columns))
	for i, c := range columns {
		keys[i] = SortKey{Column: c}
	}
	return t.Sort(keys...)
}
