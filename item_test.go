package quiver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/manifest"
	"github.com/quiverdb/quiver/query"
	"github.com/quiverdb/quiver/table"
)

func TestDataFileName(t *testing.T) {
	name := dataFileName(12)
	gen, ok := parseDataFileName(name)
	require.True(t, ok, name)
	assert.Equal(t, uint64(12), gen)
	assert.NotEqual(t, name, dataFileName(12))

	for _, bad := range []string{"g0-x.parquet", "gx-y.parquet", "g1.parquet", "g1-x.parquet.tmp", "MANIFEST-000001.json"} {
		_, ok := parseDataFileName(bad)
		assert.False(t, ok, bad)
	}
}

func TestScenarioWriteThenAppend(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "m")
	s, err := lib.CreateSubject("s", WithPartitionKey("partition"))
	require.NoError(t, err)
	a, err := s.CreateItem("A")
	require.NoError(t, err)

	require.NoError(t, a.Write(ctx, records(t,
		map[string]any{"partition": "all", "v": 1},
		map[string]any{"partition": "all", "v": 2},
	)))
	assert.Equal(t, 2, readItem(t, a).NumRows())

	require.NoError(t, a.Append(ctx, records(t, map[string]any{"partition": "all", "v": 3})))
	assert.Equal(t, 3, readItem(t, a).NumRows())
	assert.Len(t, dataFiles(t, a, "partition=all"), 2)
}

func TestWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("prices", WithPartitionKey("sym"), WithDefaultSort("v"))
	require.NoError(t, err)
	it, err := s.CreateItem("daily")
	require.NoError(t, err)

	in := records(t,
		map[string]any{"sym": "a", "v": 3, "px": 1.5},
		map[string]any{"sym": "b", "v": 1, "px": 2.5},
		map[string]any{"sym": "a", "v": 2, "px": nil},
	)
	require.NoError(t, it.Write(ctx, in))

	out := readItem(t, it)
	assert.Equal(t, in.Schema().Names(), out.Schema().Names())
	assert.Equal(t, []int64{1, 2, 3}, int64Column(t, out, "v"))
	assert.Equal(t, "b", out.Record(0)["sym"])
	assert.Nil(t, out.Record(1)["px"])

	parts, err := it.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sym=a", "sym=b"}, parts)

	gen, err := it.Generation()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	m, err := it.Manifest()
	require.NoError(t, err)
	assert.Equal(t, []string{"sym"}, m.PartitionKey)
	assert.Equal(t, int64(3), m.Rows)
	assert.Equal(t, 2, m.Files)
}

func TestWriteReplacesContent(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s", WithPartitionKey("sym"))
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)

	require.NoError(t, it.Write(ctx, records(t,
		map[string]any{"sym": "a", "v": 1},
		map[string]any{"sym": "b", "v": 2},
	)))
	require.NoError(t, it.Write(ctx, records(t, map[string]any{"sym": "c", "v": 9})))

	out := readItem(t, it)
	assert.Equal(t, []int64{9}, int64Column(t, out, "v"))

	_, err = os.Stat(filepath.Join(it.Path(), "sym=a"))
	assert.ErrorIs(t, err, os.ErrNotExist, "emptied partitions are removed")

	versions, err := manifest.NewStore(nil, it.Path()).ListVersions()
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, versions)

	files := dataFiles(t, it, "sym=c")
	require.Len(t, files, 1)
	gen, _ := parseDataFileName(files[0])
	assert.Equal(t, uint64(2), gen)
}

func TestDefaultPartition(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"partition"}, s.PartitionKey())

	it, err := s.CreateItem("x")
	require.NoError(t, err)
	require.NoError(t, it.Write(ctx, records(t,
		map[string]any{"v": 1, "w": "p"},
		map[string]any{"v": 2, "w": "q"},
		map[string]any{"v": 3, "w": "r"},
	)))

	parts, err := it.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"partition=all"}, parts)

	out := readItem(t, it)
	assert.Equal(t, 3, out.NumRows())
	col, ok := out.Column("partition")
	require.True(t, ok)
	for _, v := range col {
		assert.Equal(t, table.StringValue("all"), v)
	}
}

func TestMissingPartitionKey(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s", WithPartitionKey("sym", "day"))
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)

	err = it.Write(ctx, records(t, map[string]any{"sym": "a", "v": 1}))
	require.ErrorIs(t, err, ErrPartitionKeyMissing)
	var pk *PartitionKeyMissingError
	require.ErrorAs(t, err, &pk)
	assert.Equal(t, "day", pk.Column)

	err = it.Append(ctx, records(t, map[string]any{"v": 1}))
	assert.ErrorIs(t, err, ErrPartitionKeyMissing)

	ok, err := it.Exists()
	require.NoError(t, err)
	assert.False(t, ok)
	files, err := it.Files(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	dirs, err := it.partitionDirs()
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s", WithPartitionKey("sym"))
	require.NoError(t, err)

	t.Run("Disjoint", func(t *testing.T) {
		it, err := s.CreateItem("disjoint")
		require.NoError(t, err)
		require.NoError(t, it.Write(ctx, records(t,
			map[string]any{"sym": "a", "v": 1},
			map[string]any{"sym": "a", "v": 2},
		)))
		require.NoError(t, it.Append(ctx, records(t,
			map[string]any{"sym": "b", "v": 3},
			map[string]any{"sym": "c", "v": 4},
		)))

		out := readItem(t, it)
		assert.Equal(t, 4, out.NumRows())
		parts, err := it.Partitions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sym=a", "sym=b", "sym=c"}, parts)
	})

	t.Run("Monotonic", func(t *testing.T) {
		it, err := s.CreateItem("monotonic")
		require.NoError(t, err)

		rows := 0
		for i := range 3 {
			require.NoError(t, it.Append(ctx, records(t, map[string]any{"sym": "a", "v": i})))
			out := readItem(t, it)
			assert.Greater(t, out.NumRows(), rows)
			rows = out.NumRows()
		}
		assert.Equal(t, 3, rows)
		assert.Len(t, dataFiles(t, it, "sym=a"), 3)

		gen, err := it.Generation()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), gen, "appends stay in the committed generation")
	})

	t.Run("Unwritten", func(t *testing.T) {
		it, err := s.CreateItem("fresh")
		require.NoError(t, err)
		ok, err := it.Exists()
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, it.Append(ctx, records(t, map[string]any{"sym": "z", "v": 1})))
		ok, err = it.Exists()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, readItem(t, it).NumRows())
	})
}

func TestConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s", WithPartitionKey("sym"))
	require.NoError(t, err)

	const writers = 8
	appendAll := func(t *testing.T, it *Item) {
		batches := make([]*table.Table, writers)
		for i := range batches {
			batches[i] = records(t, map[string]any{"sym": "a", "v": i})
		}
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = it.Append(ctx, batches[i])
			}()
		}
		wg.Wait()
		for i, err := range errs {
			require.NoError(t, err, "appender %d", i)
		}
	}

	t.Run("Unwritten", func(t *testing.T) {
		for trial := range 10 {
			it, err := s.CreateItem(fmt.Sprintf("fresh%d", trial))
			require.NoError(t, err)

			appendAll(t, it)

			assert.Equal(t, writers, readItem(t, it).NumRows())
			assert.Len(t, dataFiles(t, it, "sym=a"), writers)
			gen, err := it.Generation()
			require.NoError(t, err)
			assert.Equal(t, uint64(1), gen)
		}
	})

	t.Run("Written", func(t *testing.T) {
		it, err := s.CreateItem("written")
		require.NoError(t, err)
		require.NoError(t, it.Write(ctx, records(t, map[string]any{"sym": "a", "v": -1})))

		appendAll(t, it)

		assert.Equal(t, writers+1, readItem(t, it).NumRows())
		assert.Len(t, dataFiles(t, it, "sym=a"), writers+1)
	})

	t.Run("SeparateHandles", func(t *testing.T) {
		first, err := s.CreateItem("shared")
		require.NoError(t, err)
		second, err := s.Item("shared")
		require.NoError(t, err)

		batch := records(t, map[string]any{"sym": "a", "v": 1})
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, it := range []*Item{first, second} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = it.Append(ctx, batch)
			}()
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Equal(t, 2, readItem(t, first).NumRows())
	})
}

func TestAppendInitSweepsLeftovers(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s", WithPartitionKey("sym"))
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)

	// A data file from a write that never committed.
	dir := filepath.Join(it.Path(), "sym=a")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, dataFileName(1)), []byte("stale"), 0o644))

	require.NoError(t, it.Append(ctx, records(t, map[string]any{"sym": "a", "v": 1})))
	assert.Equal(t, []int64{1}, int64Column(t, readItem(t, it), "v"))
	assert.Len(t, dataFiles(t, it, "sym=a"), 1)
}

func TestCommitCleanupFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	ffs := fs.NewFaultyFS(nil)
	lib := openTestLibrary(t, "lib", WithFileSystem(ffs), WithLogger(NewLogger(slog.NewTextHandler(&buf, nil))))
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)
	require.NoError(t, it.Write(ctx, records(t, map[string]any{"v": 1})))

	ffs.AddRule(manifest.CurrentFileName, fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	ffs.AddRule(manifest.FileName(2), fs.Fault{FailAfterBytes: -1, FailOnRemove: true})
	defer ffs.ClearRules()

	err = it.Write(ctx, records(t, map[string]any{"v": 2}))
	require.ErrorIs(t, err, ErrWriteAborted)
	assert.Contains(t, buf.String(), "cleanup failed")
	assert.Contains(t, buf.String(), manifest.FileName(2))
}

func TestEmptyTableUpdatesMetadataOnly(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)

	empty := table.Empty(table.MustSchema(table.Field{Name: "v", Type: table.TypeInt64}))
	require.NoError(t, it.Write(ctx, empty, WithMetadata(map[string]any{"exchange": "X"})))

	ok, err := it.Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	doc, err := it.Metadata()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"exchange": "X"}, doc)

	require.NoError(t, it.Append(ctx, empty, WithMetadata(map[string]any{"exchange": "Y"})))
	doc, err = it.Metadata()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"exchange": "Y"}, doc, "metadata is replaced, not merged")
}

func TestWriteAbortKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	lib := openTestLibrary(t, "lib", WithFileSystem(ffs))
	s, err := lib.CreateSubject("s", WithPartitionKey("sym"))
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)

	require.NoError(t, it.Write(ctx, records(t,
		map[string]any{"sym": "a", "v": 1},
		map[string]any{"sym": "b", "v": 2},
	)))
	next := records(t,
		map[string]any{"sym": "a", "v": 10},
		map[string]any{"sym": "c", "v": 30},
	)

	t.Run("DataFile", func(t *testing.T) {
		ffs.AddRule("g2-", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
		defer ffs.ClearRules()

		err := it.Write(ctx, next)
		require.ErrorIs(t, err, ErrWriteAborted)
		assert.ErrorIs(t, err, fs.ErrInjected)
		var wa *WriteAbortedError
		require.ErrorAs(t, err, &wa)
		assert.Equal(t, "x", wa.Item)

		assert.ElementsMatch(t, []int64{1, 2}, int64Column(t, readItem(t, it), "v"))
		assert.Len(t, dataFiles(t, it, "sym=a"), 1)
	})

	t.Run("Current", func(t *testing.T) {
		ffs.AddRule(manifest.CurrentFileName, fs.Fault{FailAfterBytes: -1, FailOnRename: true})
		defer ffs.ClearRules()

		err := it.Write(ctx, next)
		require.ErrorIs(t, err, ErrWriteAborted)

		gen, err := it.Generation()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), gen)
		assert.ElementsMatch(t, []int64{1, 2}, int64Column(t, readItem(t, it), "v"))

		versions, err := manifest.NewStore(nil, it.Path()).ListVersions()
		require.NoError(t, err)
		assert.Equal(t, []uint64{1}, versions)
		assert.Len(t, dataFiles(t, it, "sym=a"), 1)
	})

	require.NoError(t, it.Write(ctx, next))
	assert.ElementsMatch(t, []int64{10, 30}, int64Column(t, readItem(t, it), "v"))
}

func TestAppendAbortRemovesNewFiles(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	lib := openTestLibrary(t, "lib", WithFileSystem(ffs))
	s, err := lib.CreateSubject("s", WithPartitionKey("sym"))
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)
	require.NoError(t, it.Write(ctx, records(t, map[string]any{"sym": "a", "v": 1})))

	ffs.AddRule("sym=b", fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	err = it.Append(ctx, records(t,
		map[string]any{"sym": "a", "v": 2},
		map[string]any{"sym": "b", "v": 3},
	))
	require.ErrorIs(t, err, ErrWriteAborted)
	ffs.ClearRules()

	assert.Equal(t, []int64{1}, int64Column(t, readItem(t, it), "v"))
	assert.Len(t, dataFiles(t, it, "sym=a"), 1)
}

func TestQueryIsLazy(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)
	require.NoError(t, it.Write(ctx, records(t, map[string]any{"v": 1})))

	p, err := it.Query()
	require.NoError(t, err)
	assert.Len(t, p.Files(), 1)

	// The captured file disappears; the plan re-lists the item.
	require.NoError(t, it.Write(ctx, records(t, map[string]any{"v": 2}, map[string]any{"v": 3})))
	out, err := it.Materialize(ctx, p)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, int64Column(t, out, "v"))

	out, err = it.Materialize(ctx, p.Where("v", query.OpGreaterThan, 2).Select("v"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, int64Column(t, out, "v"))
}

func TestWithSortOnAndAccessors(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)

	require.NoError(t, it.Write(ctx, records(t,
		map[string]any{"v": 3},
		map[string]any{"v": 1},
		map[string]any{"v": 2},
	), WithSortOn("v")))

	head, err := it.Head(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, int64Column(t, head, "v"))

	tail, err := it.Tail(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, int64Column(t, tail, "v"))

	last, err := it.Last(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, table.Int64Value(3), last)

	col, err := it.Column(ctx, "v")
	require.NoError(t, err)
	assert.Len(t, col, 3)

	empty, err := s.CreateItem("empty")
	require.NoError(t, err)
	_, err = empty.Last(ctx, "v")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsolidate(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)
	it, err := s.CreateItem("x")
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, it.Append(ctx, records(t, map[string]any{"v": i})))
	}
	require.NoError(t, it.SaveMetadata(map[string]any{"k": "v"}))
	assert.Len(t, dataFiles(t, it, "partition=all"), 3)

	require.NoError(t, it.Consolidate(ctx))
	assert.Len(t, dataFiles(t, it, "partition=all"), 1)
	assert.ElementsMatch(t, []int64{0, 1, 2}, int64Column(t, readItem(t, it), "v"))

	doc, err := it.Metadata()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, doc)
}

func TestItemNames(t *testing.T) {
	lib := openTestLibrary(t, "lib")
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)

	for _, name := range []string{"../x", "_x", ".x", ""} {
		_, err := s.CreateItem(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err = s.Item("missing")
	require.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "item", nf.Kind)
}
