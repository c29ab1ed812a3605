package table

import "fmt"

// Builder accumulates rows for a fixed schema.
type Builder struct {
	schema Schema
	cols   [][]Value
}

// NewBuilder returns a builder for schema.
func NewBuilder(schema Schema) *Builder {
	return &Builder{schema: schema, cols: make([][]Value, schema.Len())}
}

// Append adds one row of plain Go values in schema order. Values are cast to
// the field types.
func (b *Builder) Append(row ...any) error {
	if len(row) != len(b.cols) {
		return fmt.Errorf("%w: row has %d values, want %d", ErrShape, len(row), len(b.cols))
	}
	vals := make([]Value, len(row))
	for i, x := range row {
		v, err := ValueOf(x)
		if err != nil {
			return err
		}
		if vals[i], err = v.Cast(b.schema.Fields[i].Type); err != nil {
			return fmt.Errorf("column %q: %w", b.schema.Fields[i].Name, err)
		}
	}
	for i, v := range vals {
		b.cols[i] = append(b.cols[i], v)
	}
	return nil
}

// AppendValues adds one row of already typed values.
func (b *Builder) AppendValues(row []Value) {
	for i, v := range row {
		b.cols[i] = append(b.cols[i], v)
	}
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int {
	if len(b.cols) == 0 {
		return 0
	}
	return len(b.cols[0])
}

// Build returns the table and resets the builder.
func (b *Builder) Build() (*Table, error) {
	cols := b.cols
	for i := range cols {
		if cols[i] == nil {
			cols[i] = []Value{}
		}
	}
	b.cols = make([][]Value, b.schema.Len())
	return New(b.schema, cols)
}
