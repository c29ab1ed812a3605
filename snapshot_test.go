package quiver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/internal/fs"
)

func TestCleanSnapshotName(t *testing.T) {
	assert.Equal(t, "before2024.1", cleanSnapshotName("before 2024.1"))
	assert.Equal(t, "x", cleanSnapshotName("../x"))
	assert.Equal(t, "ab", cleanSnapshotName("_a/b"))
	assert.Equal(t, "", cleanSnapshotName("../"))
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	lib := openTestLibrary(t, "m")
	s, err := lib.CreateSubject("s", WithPartitionKey("sym"))
	require.NoError(t, err)
	it, err := s.CreateItem("A")
	require.NoError(t, err)
	require.NoError(t, it.Write(ctx, records(t,
		map[string]any{"sym": "a", "v": 1},
		map[string]any{"sym": "b", "v": 2},
	), WithMetadata(map[string]any{"version": "old"})))

	name, err := s.CreateSnapshot(ctx, "before")
	require.NoError(t, err)
	assert.Equal(t, "before", name)

	_, err = s.CreateSnapshot(ctx, "before")
	assert.ErrorIs(t, err, ErrExists)

	require.NoError(t, it.Write(ctx, records(t, map[string]any{"sym": "c", "v": 3}),
		WithMetadata(map[string]any{"version": "new"})))

	snap, err := s.SnapshotItem("before", "A")
	require.NoError(t, err)
	assert.True(t, snap.ReadOnly())
	assert.ElementsMatch(t, []int64{1, 2}, int64Column(t, readItem(t, snap), "v"))
	doc, err := snap.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "old", doc["version"])

	assert.ErrorIs(t, snap.Write(ctx, records(t, map[string]any{"sym": "a", "v": 1})), ErrReadOnly)
	assert.ErrorIs(t, snap.Append(ctx, records(t, map[string]any{"sym": "a", "v": 1})), ErrReadOnly)
	assert.ErrorIs(t, snap.SaveMetadata(nil), ErrReadOnly)

	assert.Equal(t, []int64{3}, int64Column(t, readItem(t, it), "v"))

	items, err := s.ListItems(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, items, "snapshots are not items")

	_, err = s.SnapshotItem("before", "B")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SnapshotItem("missing", "A")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := s.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, []string{"before"}, names)

	require.NoError(t, s.DeleteSnapshot("before"))
	assert.ErrorIs(t, s.DeleteSnapshot("before"), ErrNotFound)
}

func TestSnapshotDefaultNameAndCopyFallback(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC) }
	ffs := fs.NewFaultyFS(nil)
	lib := openTestLibrary(t, "m", WithFileSystem(ffs), WithClock(clock))
	s, err := lib.CreateSubject("s")
	require.NoError(t, err)
	it, err := s.CreateItem("A")
	require.NoError(t, err)
	require.NoError(t, it.Write(ctx, records(t, map[string]any{"v": 1})))

	ffs.AddRule(snapshotsDir, fs.Fault{FailAfterBytes: -1, FailOnLink: true})
	name, err := s.CreateSnapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "20240102T030405.000006", name)

	snap, err := s.SnapshotItem(name, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, readItem(t, snap).NumRows())

	_, err = s.CreateSnapshot(ctx, "second")
	require.NoError(t, err)
	require.NoError(t, s.DeleteSnapshots())
	names, err := s.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, names)
}
