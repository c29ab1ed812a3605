package sidecar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, MetadataFile)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(nil, nil, WithClock(func() time.Time { return now }))

	doc := map[string]any{
		"source": "vendor",
		"rows":   float64(12),
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"ok": true},
	}
	require.NoError(t, s.Save(path, doc))

	got, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	h, err := s.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, codec.Default.Name(), h.Codec)
	assert.True(t, now.Equal(h.UpdatedAt))
}

func TestSaveOverwritesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetadataFile)
	s := New(nil, nil)

	require.NoError(t, s.Save(path, map[string]any{"a": "1", "b": "2"}))
	require.NoError(t, s.Save(path, map[string]any{"c": "3"}))

	got, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"c": "3"}, got)

	require.NoError(t, s.Save(path, nil))
	got, err = s.Load(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadNotFound(t *testing.T) {
	s := New(nil, nil)
	_, err := s.Load(filepath.Join(t.TempDir(), MetadataFile))
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(filepath.Join(t.TempDir(), MetadataFile))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := New(nil, nil)

	tests := []struct {
		name    string
		content string
	}{
		{"Garbage", "{not json"},
		{"Truncated", `{"version":1,"codec":"json","data":{"a":`},
		{"UnknownCodec", `{"version":1,"codec":"msgpack","data":{}}`},
		{"FutureVersion", `{"version":99,"codec":"json","data":{}}`},
		{"MissingData", `{"version":1,"codec":"json"}`},
		{"WrongShape", `{"version":1,"codec":"json","data":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := s.Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)

			var ce *CorruptError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, path, ce.Path)
		})
	}
}

func TestLoadBareDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetadataFile)
	bare := `{"exchange": "NASDAQ", "lots": 3, "_updated": "2024-01-02 03:04:05.123456"}`
	require.NoError(t, os.WriteFile(path, []byte(bare), 0o644))

	s := New(nil, nil)
	doc, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"exchange": "NASDAQ", "lots": float64(3)}, doc)

	h, err := s.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Version)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC), h.UpdatedAt)

	require.NoError(t, s.Save(path, doc))
	h, err = s.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, Version, h.Version)
}

func TestCodecSelectedByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), SchemaFile)

	type settings struct {
		Key []string `json:"key"`
	}
	require.NoError(t, New(nil, codec.JSON).SaveValue(path, settings{Key: []string{"date"}}))

	var got settings
	h, err := New(nil, codec.GoJSON).LoadValue(path, &got)
	require.NoError(t, err)
	assert.Equal(t, "json", h.Codec)
	assert.Equal(t, []string{"date"}, got.Key)
}

func TestFailedSaveKeepsPreviousDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetadataFile)
	ffs := fs.NewFaultyFS(nil)
	s := New(ffs, nil)

	require.NoError(t, s.Save(path, map[string]any{"v": "old"}))

	ffs.AddRule(MetadataFile, fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	assert.Error(t, s.Save(path, map[string]any{"v": "new"}))

	got, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "old", got["v"])
}

func TestDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetadataFile)
	s := New(nil, nil)

	require.NoError(t, s.Delete(path))
	require.NoError(t, s.Save(path, map[string]any{}))
	require.NoError(t, s.Delete(path))

	_, err := s.Load(path)
	assert.ErrorIs(t, err, ErrNotFound)
}
