package format

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mixed(t *testing.T) *table.Table {
	t.Helper()
	ts := time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC)
	schema := table.MustSchema(
		table.Field{Name: "sym", Type: table.TypeString},
		table.Field{Name: "px", Type: table.TypeFloat64, Nullable: true},
		table.Field{Name: "qty", Type: table.TypeInt64},
		table.Field{Name: "lot", Type: table.TypeInt32},
		table.Field{Name: "ratio", Type: table.TypeFloat32},
		table.Field{Name: "live", Type: table.TypeBool},
		table.Field{Name: "at", Type: table.TypeTimestamp},
		table.Field{Name: "empty", Type: table.TypeNull, Nullable: true},
	)
	b := table.NewBuilder(schema)
	require.NoError(t, b.Append("AAPL", 1.5, 10, 1, float32(0.25), true, ts, nil))
	require.NoError(t, b.Append("MSFT", nil, -3, 2, float32(1), false, ts.Add(time.Hour), nil))
	tbl, err := b.Build()
	require.NoError(t, err)
	return tbl
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionSnappy, CompressionZstd, CompressionGzip, CompressionLZ4, CompressionNone} {
		t.Run(string(c), func(t *testing.T) {
			in := mixed(t)
			path := filepath.Join(t.TempDir(), "p", "g1-x"+Ext)

			size, err := WriteFile(fs.Default, path, in, c)
			require.NoError(t, err)
			assert.Positive(t, size)

			r := NewReader(nil, false)
			out, ft, err := r.ReadTable(context.Background(), path, nil)
			require.NoError(t, err)

			assert.True(t, ft.Embedded)
			assert.Equal(t, int64(2), ft.NumRows)
			assert.Equal(t, size, ft.Size)
			assert.True(t, in.Schema().Equal(out.Schema()), "column order and types survive: %s", out.Schema())
			assert.Equal(t, in.Records(), out.Records())
		})
	}
}

func TestReadFooterOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f"+Ext)
	_, err := WriteFile(fs.Default, path, mixed(t), DefaultCompression)
	require.NoError(t, err)

	ft, err := NewReader(nil, false).ReadFooter(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sym", "px", "qty", "lot", "ratio", "live", "at", "empty"}, ft.Schema.Names())
	assert.Equal(t, int64(2), ft.NumRows)
}

func TestReadFooterCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f"+Ext)
	_, err := WriteFile(fs.Default, path, mixed(t), DefaultCompression)
	require.NoError(t, err)

	r := NewReader(nil, false)
	first, err := r.ReadFooter(path)
	require.NoError(t, err)
	first.Schema.Fields[0].Name = "mutated"

	second, err := r.ReadFooter(path)
	require.NoError(t, err)
	assert.Equal(t, "sym", second.Schema.Fields[0].Name)

	hits, misses := r.FooterCacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// A rewritten file has a new size and is decoded again.
	in, err := table.FromRecords([]map[string]any{{"only": 1}})
	require.NoError(t, err)
	_, err = WriteFile(fs.Default, path, in, DefaultCompression)
	require.NoError(t, err)
	third, err := r.ReadFooter(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, third.Schema.Names())
}

func TestReadProjection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f"+Ext)
	_, err := WriteFile(fs.Default, path, mixed(t), DefaultCompression)
	require.NoError(t, err)

	out, _, err := NewReader(nil, false).ReadTable(context.Background(), path, []string{"qty", "missing", "sym"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sym", "qty"}, out.Schema().Names())
	assert.Equal(t, int64(-3), out.Record(1)["qty"])
}

func TestReadMmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f"+Ext)
	in := mixed(t)
	_, err := WriteFile(fs.LocalFS{}, path, in, DefaultCompression)
	require.NoError(t, err)

	r := NewReader(fs.LocalFS{}, true)
	require.True(t, r.mmap)
	out, _, err := r.ReadTable(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, in.Records(), out.Records())

	assert.False(t, NewReader(fs.NewFaultyFS(nil), true).mmap)
}

func TestEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f"+Ext)
	in := table.Empty(table.MustSchema(table.Field{Name: "a", Type: table.TypeInt64}))
	_, err := WriteFile(fs.Default, path, in, DefaultCompression)
	require.NoError(t, err)

	out, ft, err := NewReader(nil, false).ReadTable(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ft.NumRows)
	assert.Equal(t, 0, out.NumRows())
	assert.Equal(t, []string{"a"}, out.Schema().Names())
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+Ext)
	require.NoError(t, os.WriteFile(path, []byte("definitely not parquet"), 0o644))

	_, err := NewReader(nil, false).ReadFooter(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	var ce *CorruptError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, path, ce.Path)
}

func TestMissingFile(t *testing.T) {
	_, err := NewReader(nil, false).ReadFooter(filepath.Join(t.TempDir(), "gone"+Ext))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFileFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f"+Ext)
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(Ext, fs.Fault{FailAfterBytes: 16})

	_, err := WriteFile(ffs, path, mixed(t), DefaultCompression)
	assert.ErrorIs(t, err, fs.ErrInjected)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCompression, c)

	c, err = ParseCompression(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	_, err = ParseCompression("brotli9")
	assert.ErrorIs(t, err, ErrUnknownCompression)
}
