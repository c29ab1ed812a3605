package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/format"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/resource"
	"github.com/quiverdb/quiver/table"
)

func writeFile(t *testing.T, dir, name string, records []map[string]any) string {
	t.Helper()
	tbl, err := table.FromRecords(records)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	_, err = format.WriteFile(fs.Default, path, tbl, format.DefaultCompression)
	require.NoError(t, err)
	return path
}

func newExecutor() *Executor {
	return NewExecutor(fs.Default, WithResourceController(resource.NewController(resource.Config{
		MaxScanWorkers:   2,
		MemoryLimitBytes: 1 << 20,
	})))
}

func TestExecuteScanAndOps(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.parquet", []map[string]any{
		{"id": 1, "v": "x"},
		{"id": 3, "v": "z"},
	})
	b := writeFile(t, dir, "b.parquet", []map[string]any{
		{"id": 2, "v": "y"},
	})

	e := newExecutor()
	ctx := context.Background()

	all, err := Scan([]string{a, b}).WithEngine(e).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, all.NumRows())

	out, err := Scan([]string{a, b}).WithEngine(e).
		Where("id", OpGreaterThan, 1).
		SortBy("id").
		Select("v").
		Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v"}, out.Schema().Names())
	assert.Equal(t, []map[string]any{{"v": "y"}, {"v": "z"}}, out.Records())

	last, err := Scan([]string{a, b}).WithEngine(e).SortBy("id").Tail(1).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last.Record(0)["id"])

	first, err := Scan([]string{a, b}).WithEngine(e).SortBy("id").Limit(2).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.NumRows())
	assert.Equal(t, int64(0), e.rc.MemoryUsage(), "reservations are released")
}

func TestExecuteEmpty(t *testing.T) {
	out, err := Scan(nil).WithEngine(newExecutor()).SortBy("id").Select("id").Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, out.NumRows())
	assert.Equal(t, []string{"id"}, out.Schema().Names())
}

func TestExecuteNativeUnion(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.parquet", []map[string]any{{"id": 1, "price": 1.5}})
	b := writeFile(t, dir, "b.parquet", []map[string]any{{"id": 2, "extra": "e"}})
	e := newExecutor()

	out, err := Scan([]string{a, b}).WithEngine(e).Collect(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id", "price", "extra"}, out.Schema().Names())
	assert.Equal(t, 2, out.NumRows())

	price, _ := out.Column("price")
	assert.True(t, price[1].IsNull())
}

func TestExecuteConflictAtMaterialization(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.parquet", []map[string]any{{"price": 1}})
	b := writeFile(t, dir, "b.parquet", []map[string]any{{"price": "high"}})

	// Building the plan never fails.
	p := Scan([]string{a, b}).WithEngine(newExecutor()).Select("price")

	_, err := p.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaConflict)

	var sce *SchemaConflictError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, "price", sce.Column)
}

func TestExecuteSchemaHint(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.parquet", []map[string]any{{"price": 1, "note": "n"}})
	b := writeFile(t, dir, "b.parquet", []map[string]any{{"price": 2.5}})
	schema := table.MustSchema(
		table.Field{Name: "price", Type: table.TypeFloat64},
		table.Field{Name: "qty", Type: table.TypeInt64},
	)

	out, err := Scan([]string{a, b}).WithEngine(newExecutor()).WithSchema(schema).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "qty", "note"}, out.Schema().Names())

	price, _ := out.Column("price")
	assert.ElementsMatch(t, []table.Value{table.Float64Value(1), table.Float64Value(2.5)}, price)
	qty, _ := out.Column("qty")
	assert.True(t, qty[0].IsNull() && qty[1].IsNull())

	bad := table.MustSchema(table.Field{Name: "note", Type: table.TypeInt64})
	_, err = Scan([]string{a}).WithEngine(newExecutor()).WithSchema(bad).Collect(context.Background())
	assert.ErrorIs(t, err, ErrSchemaConflict)
	assert.ErrorIs(t, err, table.ErrCast)
}

func TestExecuteResolvesAgain(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.parquet", []map[string]any{{"id": 1}})
	gone := filepath.Join(dir, "gone.parquet")

	calls := 0
	p := ScanResolved([]string{gone}, func(context.Context) ([]string, error) {
		calls++
		return []string{a}, nil
	}).WithEngine(newExecutor())

	out, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.NumRows())
	assert.Equal(t, 1, calls)

	_, err = Scan([]string{gone}).WithEngine(newExecutor()).Collect(context.Background())
	assert.Error(t, err)
}

func TestExecuteUnionWithTags(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.parquet", []map[string]any{{"id": 1}, {"id": 2}})
	b := writeFile(t, dir, "b.parquet", []map[string]any{{"id": 3}})
	e := newExecutor()

	p := Union(
		Scan([]string{a}).Tag("_item", table.StringValue("A")),
		Scan([]string{b}).Tag("_item", table.StringValue("B")),
	).WithEngine(e)
	assert.Equal(t, []string{a, b}, p.Files())

	out, err := p.Where("_item", OpEqual, "A").Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())

	tags, err := p.Select("_item").Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, tags.NumRows(), "tag-only projection keeps row counts")
}
