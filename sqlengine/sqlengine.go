// Package sqlengine runs SQL over materialized tables using an in-memory
// SQLite database.
//
// Tables are copied into SQLite with Register and results come back as
// tables. Column types are restored from the declared column types, and for
// computed columns inferred from the returned values.
package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"

	"github.com/quiverdb/quiver/table"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("sqlengine: closed")

// DB is an in-memory SQL database. It is safe for concurrent use.
type DB struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// Open creates an empty in-memory database.
func Open() (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("sqlengine: open: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return &DB{db: db}, nil
}

// Close releases the database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// Quote returns name as a quoted SQL identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var declTypes = map[table.DataType]string{
	table.TypeNull:      "TEXT",
	table.TypeBool:      "BOOLEAN",
	table.TypeInt32:     "INT32",
	table.TypeInt64:     "INT64",
	table.TypeFloat32:   "FLOAT32",
	table.TypeFloat64:   "DOUBLE",
	table.TypeString:    "TEXT",
	table.TypeTimestamp: "TIMESTAMP",
}

func fromDeclType(name string) (table.DataType, bool) {
	switch strings.ToUpper(name) {
	case "BOOLEAN", "BOOL":
		return table.TypeBool, true
	case "INT32":
		return table.TypeInt32, true
	case "INT64", "INTEGER", "BIGINT", "INT":
		return table.TypeInt64, true
	case "FLOAT32":
		return table.TypeFloat32, true
	case "DOUBLE", "REAL", "FLOAT":
		return table.TypeFloat64, true
	case "TEXT", "VARCHAR":
		return table.TypeString, true
	case "TIMESTAMP", "DATETIME":
		return table.TypeTimestamp, true
	}
	return table.TypeNull, false
}

// Register copies t into a table called name, replacing any previous one.
func (d *DB) Register(ctx context.Context, name string, t *table.Table) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	defs := make([]string, t.NumCols())
	marks := make([]string, t.NumCols())
	for i, f := range t.Schema().Fields {
		defs[i] = Quote(f.Name) + " " + declTypes[f.Type]
		marks[i] = "?"
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlengine: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+Quote(name)); err != nil {
		return fmt.Errorf("sqlengine: drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", Quote(name), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("sqlengine: create %s: %w", name, err)
	}
	if t.NumCols() > 0 && t.NumRows() > 0 {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", Quote(name), strings.Join(marks, ", ")))
		if err != nil {
			return fmt.Errorf("sqlengine: prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, t.NumCols())
		for r := 0; r < t.NumRows(); r++ {
			for c := range args {
				args[c] = toSQL(t.ColumnAt(c)[r])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("sqlengine: insert into %s: %w", name, err)
			}
		}
	}
	return tx.Commit()
}

func toSQL(v table.Value) any {
	switch v.Type() {
	case table.TypeNull:
		return nil
	case table.TypeBool:
		b, _ := v.AsBool()
		if b {
			return int64(1)
		}
		return int64(0)
	case table.TypeInt32, table.TypeInt64, table.TypeTimestamp:
		i, _ := v.AsInt64()
		if v.Type() == table.TypeTimestamp {
			ts, _ := v.AsTime()
			i = ts.UnixNano()
		}
		return i
	case table.TypeFloat32, table.TypeFloat64:
		f, _ := v.AsFloat64()
		return f
	default:
		s, _ := v.AsString()
		return s
	}
}

// Query runs a statement and returns its rows as a table.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*table.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: query: %w", err)
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([][]table.Value, len(cts))
	for i := range cols {
		cols[i] = []table.Value{}
	}
	declared := make([]table.DataType, len(cts))
	known := make([]bool, len(cts))
	for i, ct := range cts {
		declared[i], known[i] = fromDeclType(ct.DatabaseTypeName())
	}

	raw := make([]any, len(cts))
	ptrs := make([]any, len(cts))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlengine: scan: %w", err)
		}
		for i, x := range raw {
			v, err := fromSQL(x)
			if err != nil {
				return nil, err
			}
			cols[i] = append(cols[i], v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlengine: rows: %w", err)
	}

	fields := make([]table.Field, len(cts))
	for i, ct := range cts {
		f := table.Field{Name: ct.Name(), Type: declared[i]}
		if !known[i] {
			types := make([]table.DataType, 0, len(cols[i]))
			for _, v := range cols[i] {
				types = append(types, v.Type())
			}
			f.Type = table.WidenAll(types...)
		}
		for j, v := range cols[i] {
			if v.IsNull() {
				f.Nullable = true
				continue
			}
			if f.Type == table.TypeTimestamp && v.Type().IsInteger() {
				n, _ := v.AsInt64()
				cols[i][j] = table.TimestampNanos(n)
				continue
			}
			if cols[i][j], err = v.Cast(f.Type); err != nil {
				return nil, fmt.Errorf("sqlengine: column %q: %w", f.Name, err)
			}
		}
		fields[i] = f
	}
	schema, err := table.NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: %w", err)
	}
	return table.New(schema, cols)
}

func fromSQL(x any) (table.Value, error) {
	switch v := x.(type) {
	case time.Time:
		return table.TimestampValue(v), nil
	case []byte:
		return table.StringValue(string(v)), nil
	default:
		return table.ValueOf(v)
	}
}

// Exec runs a statement without rows.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	_, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlengine: exec: %w", err)
	}
	return nil
}

// QueryTable registers t as "data" in a fresh database and runs query.
func QueryTable(ctx context.Context, t *table.Table, query string, args ...any) (*table.Table, error) {
	db, err := Open()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Register(ctx, "data", t); err != nil {
		return nil, err
	}
	return db.Query(ctx, query, args...)
}
