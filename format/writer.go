package format

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/table"
)

// rowBatch bounds the rows converted per WriteRows call.
const rowBatch = 1024

// Write encodes t as a parquet file to w.
func Write(w io.Writer, t *table.Table, c Compression) error {
	schema := t.Schema()
	raw, err := encodeSchema(schema)
	if err != nil {
		return err
	}
	ps := parquetSchema(schema)

	// Group fields are ordered by name, so resolve each column's leaf index.
	colIndex := make([]int, schema.Len())
	for i, f := range schema.Fields {
		leaf, ok := ps.Lookup(f.Name)
		if !ok {
			return fmt.Errorf("format: column %q missing from physical schema", f.Name)
		}
		colIndex[i] = leaf.ColumnIndex
	}
	order := make([]int, schema.Len()) // table column at each leaf position
	for i, idx := range colIndex {
		order[idx] = i
	}

	pw := parquet.NewWriter(w, ps,
		parquet.Compression(c.codec()),
		parquet.KeyValueMetadata(SchemaKey, raw),
	)

	rows := make([]parquet.Row, 0, min(rowBatch, t.NumRows()))
	for r := 0; r < t.NumRows(); r++ {
		row := make(parquet.Row, len(order))
		for leaf, col := range order {
			v := t.ColumnAt(col)[r]
			row[leaf] = toParquet(v).Level(0, defLevel(v), leaf)
		}
		rows = append(rows, row)
		if len(rows) == cap(rows) {
			if _, err := pw.WriteRows(rows); err != nil {
				return err
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := pw.WriteRows(rows); err != nil {
			return err
		}
	}
	return pw.Close()
}

// WriteFile writes t to path through a temp file and rename, so the path
// never exposes a partial file. It returns the size of the written file.
func WriteFile(fsys fs.FileSystem, path string, t *table.Table, c Compression) (int64, error) {
	var cw countingWriter
	err := fs.WriteAtomic(fsys, path, 0o644, func(w io.Writer) error {
		cw.w = w
		return Write(&cw, t, c)
	})
	if err != nil {
		return 0, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func defLevel(v table.Value) int {
	if v.IsNull() {
		return 0
	}
	return 1
}

func toParquet(v table.Value) parquet.Value {
	switch v.Type() {
	case table.TypeBool:
		b, _ := v.AsBool()
		return parquet.BooleanValue(b)
	case table.TypeInt32:
		i, _ := v.AsInt64()
		return parquet.Int32Value(int32(i))
	case table.TypeInt64:
		i, _ := v.AsInt64()
		return parquet.Int64Value(i)
	case table.TypeFloat32:
		f, _ := v.AsFloat64()
		return parquet.FloatValue(float32(f))
	case table.TypeFloat64:
		f, _ := v.AsFloat64()
		return parquet.DoubleValue(f)
	case table.TypeString:
		s, _ := v.AsString()
		return parquet.ByteArrayValue([]byte(s))
	case table.TypeTimestamp:
		ts, _ := v.AsTime()
		return parquet.Int64Value(ts.UnixNano())
	default:
		return parquet.NullValue()
	}
}

// Size returns the on-disk size of path.
func Size(fsys fs.FileSystem, path string) (int64, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeType != 0 {
		return 0, fmt.Errorf("format: %s is not a regular file", path)
	}
	return info.Size(), nil
}
