package sqlengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/quiverdb/quiver/table"
)

// Pivot reshapes t so that each distinct value of column becomes a column
// holding value, with one row per distinct index. Rows are ordered by index
// and pivoted columns by their value. When several rows share an index and
// column value the largest value wins.
func Pivot(ctx context.Context, t *table.Table, index, column, value string) (*table.Table, error) {
	for _, c := range []string{index, column, value} {
		if !t.Schema().Has(c) {
			return nil, fmt.Errorf("sqlengine: pivot: %w: %q", table.ErrColumnNotFound, c)
		}
	}
	valueField, _ := t.Schema().Field(value)

	db, err := Open()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Register(ctx, "data", t); err != nil {
		return nil, err
	}

	keys, err := db.Query(ctx, fmt.Sprintf(
		"SELECT DISTINCT %[1]s FROM data WHERE %[1]s IS NOT NULL ORDER BY %[1]s", Quote(column)))
	if err != nil {
		return nil, err
	}
	keyCol := keys.ColumnAt(0)

	exprs := []string{Quote(index)}
	args := make([]any, 0, len(keyCol))
	names := map[string]bool{index: true}
	for _, k := range keyCol {
		name := k.String()
		if names[name] {
			return nil, fmt.Errorf("sqlengine: pivot: column %q collides with another column", name)
		}
		names[name] = true
		exprs = append(exprs, fmt.Sprintf("MAX(CASE WHEN %s = ? THEN %s END) AS %s", Quote(column), Quote(value), Quote(name)))
		args = append(args, toSQL(k))
	}

	out, err := db.Query(ctx, fmt.Sprintf("SELECT %s FROM data GROUP BY %[2]s ORDER BY %[2]s",
		strings.Join(exprs, ", "), Quote(index)), args...)
	if err != nil {
		return nil, err
	}

	// Aggregates lose the declared type of value.
	types := make(map[string]table.DataType, len(keyCol))
	for _, f := range out.Schema().Fields[1:] {
		types[f.Name] = valueField.Type
	}
	return castPivot(out, types)
}

func castPivot(t *table.Table, types map[string]table.DataType) (*table.Table, error) {
	for name, to := range types {
		col, _ := t.Column(name)
		if to == table.TypeTimestamp {
			conv := make([]table.Value, len(col))
			for i, v := range col {
				if n, ok := v.AsInt64(); ok {
					conv[i] = table.TimestampNanos(n)
				}
			}
			var err error
			if t, err = t.WithColumn(table.Field{Name: name, Type: to, Nullable: true}, conv); err != nil {
				return nil, err
			}
			delete(types, name)
		}
	}
	return t.Cast(types)
}
