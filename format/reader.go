package format

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/quiverdb/quiver/internal/cache"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/mmap"
	"github.com/quiverdb/quiver/table"
)

// readBatch is the number of rows decoded per ReadRows call.
const readBatch = 256

// FooterCacheEntries bounds the number of decoded footers a Reader keeps.
const FooterCacheEntries = 4096

type footerKey struct {
	path    string
	size    int64
	modTime time.Time
}

// Reader opens data files.
type Reader struct {
	fs      fs.FileSystem
	mmap    bool
	footers *cache.LRU[footerKey, Footer]
}

// NewReader returns a reader over fsys. When useMmap is set and fsys is the
// local file system, files are memory-mapped instead of read through the file
// handle.
func NewReader(fsys fs.FileSystem, useMmap bool) *Reader {
	if fsys == nil {
		fsys = fs.Default
	}
	_, local := fsys.(fs.LocalFS)
	return &Reader{
		fs:      fsys,
		mmap:    useMmap && local,
		footers: cache.NewLRU[footerKey, Footer](FooterCacheEntries),
	}
}

// FooterCacheStats reports footer cache hits and misses.
func (r *Reader) FooterCacheStats() (hits, misses int64) {
	return r.footers.Stats()
}

type openFile struct {
	pf    *parquet.File
	size  int64
	close func() error
}

func (r *Reader) open(path string) (*openFile, error) {
	var (
		ra     io.ReaderAt
		size   int64
		closer func() error
	)
	if r.mmap {
		m, err := mmap.Open(path, mmap.Sequential)
		if err != nil {
			return nil, err
		}
		ra, size, closer = m, m.Size(), m.Close
	} else {
		f, err := r.fs.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		ra, size, closer = f, info.Size(), f.Close
	}

	pf, err := parquet.OpenFile(ra, size,
		parquet.SkipPageIndex(true),
		parquet.SkipBloomFilters(true),
	)
	if err != nil {
		_ = closer()
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &openFile{pf: pf, size: size, close: closer}, nil
}

// CorruptError names an undecodable data file.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("data file %s corrupt: %v", e.Path, e.Err)
}

// Unwrap returns ErrCorrupt and the decode error.
func (e *CorruptError) Unwrap() []error { return []error{ErrCorrupt, e.Err} }

func footerOf(path string, of *openFile) (Footer, error) {
	ft := Footer{NumRows: of.pf.NumRows(), Size: of.size}
	if raw, ok := of.pf.Lookup(SchemaKey); ok {
		s, err := decodeSchema(raw)
		if err != nil {
			return Footer{}, &CorruptError{Path: path, Err: fmt.Errorf("embedded schema: %w", err)}
		}
		ft.Schema, ft.Embedded = s, true
		return ft, nil
	}
	s, err := physicalSchema(of.pf.Schema())
	if err != nil {
		return Footer{}, &CorruptError{Path: path, Err: err}
	}
	ft.Schema = s
	return ft, nil
}

// ReadFooter returns the schema and row count of path. Only the footer is
// read, and repeated calls for an unchanged file are served from memory.
func (r *Reader) ReadFooter(path string) (Footer, error) {
	info, err := r.fs.Stat(path)
	if err != nil {
		return Footer{}, err
	}
	key := footerKey{path: path, size: info.Size(), modTime: info.ModTime()}
	if ft, ok := r.footers.Get(key); ok {
		return ft.clone(), nil
	}

	of, err := r.open(path)
	if err != nil {
		return Footer{}, err
	}
	defer of.close()
	ft, err := footerOf(path, of)
	if err != nil {
		return Footer{}, err
	}
	r.footers.Set(key, ft)
	return ft.clone(), nil
}

func (ft Footer) clone() Footer {
	ft.Schema.Fields = slices.Clone(ft.Schema.Fields)
	return ft
}

// ReadTable decodes path into a table. A nil columns slice reads every column;
// otherwise only the named columns that exist in the file are decoded, in
// file order.
func (r *Reader) ReadTable(ctx context.Context, path string, columns []string) (*table.Table, Footer, error) {
	of, err := r.open(path)
	if err != nil {
		return nil, Footer{}, err
	}
	defer of.close()

	ft, err := footerOf(path, of)
	if err != nil {
		return nil, Footer{}, err
	}

	fields := ft.Schema.Fields
	if columns != nil {
		want := make(map[string]struct{}, len(columns))
		for _, c := range columns {
			want[c] = struct{}{}
		}
		fields = fields[:0:0]
		for _, f := range ft.Schema.Fields {
			if _, ok := want[f.Name]; ok {
				fields = append(fields, f)
			}
		}
	}

	ps := of.pf.Schema()
	byLeaf := make(map[int]int, len(fields))
	scale := make([]int64, len(fields))
	for i, f := range fields {
		leaf, ok := ps.Lookup(f.Name)
		if !ok {
			return nil, Footer{}, &CorruptError{Path: path, Err: fmt.Errorf("column %q missing", f.Name)}
		}
		byLeaf[leaf.ColumnIndex] = i
		scale[i] = timestampScale(leaf.Node.Type())
	}

	cols := make([][]table.Value, len(fields))
	for i := range cols {
		cols[i] = make([]table.Value, 0, ft.NumRows)
	}

	buf := make([]parquet.Row, readBatch)
	for _, rg := range of.pf.RowGroups() {
		if err := ctx.Err(); err != nil {
			return nil, Footer{}, err
		}
		if err := readRowGroup(rg, buf, fields, byLeaf, scale, cols); err != nil {
			return nil, Footer{}, &CorruptError{Path: path, Err: err}
		}
	}

	schema, err := table.NewSchema(fields...)
	if err != nil {
		return nil, Footer{}, err
	}
	t, err := table.New(schema, cols)
	if err != nil {
		return nil, Footer{}, &CorruptError{Path: path, Err: err}
	}
	return t, ft, nil
}

func readRowGroup(rg parquet.RowGroup, buf []parquet.Row, fields []table.Field, byLeaf map[int]int, scale []int64, cols [][]table.Value) error {
	rows := rg.Rows()
	defer rows.Close()
	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			seen := 0
			for _, v := range row {
				i, ok := byLeaf[v.Column()]
				if !ok {
					continue
				}
				cols[i] = append(cols[i], fromParquet(v, fields[i].Type, scale[i]))
				seen++
			}
			if seen != len(fields) {
				return fmt.Errorf("row has %d of %d columns", seen, len(fields))
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func fromParquet(v parquet.Value, t table.DataType, scale int64) table.Value {
	if v.IsNull() {
		return table.NullValue()
	}
	switch t {
	case table.TypeBool:
		return table.BoolValue(v.Boolean())
	case table.TypeInt32:
		return table.Int32Value(v.Int32())
	case table.TypeInt64:
		return table.Int64Value(v.Int64())
	case table.TypeFloat32:
		return table.Float32Value(v.Float())
	case table.TypeFloat64:
		return table.Float64Value(v.Double())
	case table.TypeTimestamp:
		return table.TimestampNanos(v.Int64() * scale)
	case table.TypeString:
		switch v.Kind() {
		case parquet.ByteArray, parquet.FixedLenByteArray:
			return table.StringValue(string(v.ByteArray()))
		default:
			return table.StringValue(v.String())
		}
	default:
		return table.NullValue()
	}
}

// timestampScale converts a foreign timestamp unit to nanoseconds.
func timestampScale(t parquet.Type) int64 {
	lt := t.LogicalType()
	if lt == nil || lt.Timestamp == nil {
		return 1
	}
	switch {
	case lt.Timestamp.Unit.Millis != nil:
		return 1_000_000
	case lt.Timestamp.Unit.Micros != nil:
		return 1_000
	default:
		return 1
	}
}
