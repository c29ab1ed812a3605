package quiver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/quiverdb/quiver/format"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/manifest"
	"github.com/quiverdb/quiver/internal/partition"
	"github.com/quiverdb/quiver/query"
	"github.com/quiverdb/quiver/table"
)

const dataFileExt = ".parquet"

// dataFileName returns a collision-free file name for generation gen.
func dataFileName(gen uint64) string {
	return "g" + strconv.FormatUint(gen, 10) + "-" + xid.New().String() + dataFileExt
}

// parseDataFileName returns the generation of a data file name.
func parseDataFileName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, "g")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, dataFileExt)
	if !ok {
		return 0, false
	}
	num, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseUint(num, 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	return gen, true
}

type writeOptions struct {
	metadata    map[string]any
	hasMetadata bool
	sortOn      []string
}

// WriteOption configures Write and Append.
type WriteOption func(*writeOptions)

// WithMetadata replaces the item metadata document after the data is
// committed.
func WithMetadata(doc map[string]any) WriteOption {
	return func(o *writeOptions) {
		o.metadata = maps.Clone(doc)
		o.hasMetadata = true
	}
}

// WithSortOn sorts the rows before they are written.
func WithSortOn(columns ...string) WriteOption {
	return func(o *writeOptions) {
		o.sortOn = slices.Clone(columns)
	}
}

// Item is a partitioned dataset. Each partition directory holds immutable
// data files; the committed generation is published through CURRENT.
type Item struct {
	subject   *Subject
	env       *env
	name      string
	path      string
	manifests *manifest.Store
	readOnly  bool
	logger    *Logger
}

func (s *Subject) newItem(name, path string, readOnly bool) *Item {
	return &Item{
		subject:   s,
		env:       s.env,
		name:      name,
		path:      path,
		manifests: manifest.NewStore(s.env.fs, path),
		readOnly:  readOnly,
		logger:    s.logger.WithItem(name),
	}
}

// Name returns the item name.
func (it *Item) Name() string { return it.name }

// Path returns the item directory.
func (it *Item) Path() string { return it.path }

// Subject returns the subject the item belongs to.
func (it *Item) Subject() *Subject { return it.subject }

// ReadOnly reports whether the item was opened from a snapshot.
func (it *Item) ReadOnly() bool { return it.readOnly }

func (it *Item) key() []string { return it.subject.settings.PartitionKey }

func (it *Item) checkWritable() error {
	if it.readOnly {
		return fmt.Errorf("%w: item %q", ErrReadOnly, it.name)
	}
	return nil
}

// Generation returns the committed generation, or 0 for an unwritten item.
func (it *Item) Generation() (uint64, error) {
	gen, err := it.manifests.Current()
	if errors.Is(err, manifest.ErrNotFound) {
		return 0, nil
	}
	return gen, translateError(err)
}

// Exists reports whether the item has committed data.
func (it *Item) Exists() (bool, error) {
	gen, err := it.Generation()
	return gen > 0, err
}

// Manifest returns the manifest of the committed generation.
func (it *Item) Manifest() (*manifest.Manifest, error) {
	m, err := it.manifests.Load()
	if errors.Is(err, manifest.ErrNotFound) {
		return nil, notFound("manifest of item", it.name)
	}
	return m, translateError(err)
}

// partitionDirs lists the partition directory names of the item, sorted.
func (it *Item) partitionDirs() ([]string, error) {
	entries, err := it.env.fs.ReadDir(it.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	key := it.key()
	var out []string
	for _, e := range entries {
		if e.IsDir() && partition.IsDir(e.Name(), key) {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// liveFiles lists the data files of the committed generation. Only CURRENT
// and directory listings are read.
func (it *Item) liveFiles(ctx context.Context) ([]string, error) {
	gen, err := it.Generation()
	if err != nil || gen == 0 {
		return nil, err
	}
	dirs, err := it.partitionDirs()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := it.env.fs.ReadDir(filepath.Join(it.path, dir))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if g, ok := parseDataFileName(e.Name()); ok && g == gen && !e.IsDir() {
				files = append(files, filepath.Join(it.path, dir, e.Name()))
			}
		}
	}
	return files, nil
}

// Files returns the live data files.
func (it *Item) Files(ctx context.Context) ([]string, error) {
	return it.liveFiles(ctx)
}

// Partitions returns the names of the partition directories that hold live
// files.
func (it *Item) Partitions(ctx context.Context) ([]string, error) {
	files, err := it.liveFiles(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		dir := filepath.Base(filepath.Dir(f))
		if len(out) == 0 || out[len(out)-1] != dir {
			out = append(out, dir)
		}
	}
	return out, nil
}

// Size returns the bytes used by the item directory.
func (it *Item) Size() (int64, error) {
	return dirSize(it.env.fs, it.path, nil)
}

// Metadata returns the item metadata document.
func (it *Item) Metadata() (map[string]any, error) {
	return it.env.loadMetadata("item", it.name, it.path)
}

// SaveMetadata replaces the item metadata document.
func (it *Item) SaveMetadata(doc map[string]any) error {
	if err := it.checkWritable(); err != nil {
		return err
	}
	return it.env.saveMetadata(it.path, doc)
}

func (it *Item) finishMetadata(o writeOptions) error {
	if o.hasMetadata {
		return it.env.saveMetadata(it.path, o.metadata)
	}
	return it.env.ensureMetadata(it.path)
}

// prepare resolves the partitions of t and applies the requested sort. A
// missing key column fails here, before anything is written.
func (it *Item) prepare(t *table.Table, o writeOptions) (*table.Table, []partition.Group, error) {
	key := it.key()
	t, err := partition.Prepare(t, key)
	if err != nil {
		return nil, nil, translateError(err)
	}
	if len(o.sortOn) > 0 {
		if t, err = t.SortBy(o.sortOn...); err != nil {
			return nil, nil, err
		}
	}
	t, groups, err := partition.Resolve(t, key)
	return t, groups, translateError(err)
}

// writeFiles writes one file per group for generation gen. Files are written
// concurrently; the paths that made it to disk are returned even on error.
func (it *Item) writeFiles(ctx context.Context, t *table.Table, groups []partition.Group, gen uint64) ([]string, int64, error) {
	paths := make([]string, len(groups))
	sizes := make([]int64, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(it.env.rc.ScanWorkers())
	for i, grp := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(it.path, grp.Dir, dataFileName(gen))
			n, err := format.WriteFile(it.env.fs, path, t.Take(grp.Rows), it.env.compression)
			if err != nil {
				return err
			}
			paths[i] = path
			sizes[i] = n
			return nil
		})
	}
	err := g.Wait()

	var written []string
	var total int64
	for i, p := range paths {
		if p != "" {
			written = append(written, p)
			total += sizes[i]
		}
	}
	return written, total, err
}

func (it *Item) removeFiles(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := it.env.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			it.logger.LogCleanup(ctx, p, err)
		}
	}
}

// sweep removes data files of every generation but keep, leftover temp files
// and partition directories left empty.
func (it *Item) sweep(ctx context.Context, keep uint64) {
	dirs, err := it.partitionDirs()
	if err != nil {
		it.logger.LogCleanup(ctx, it.path, err)
		return
	}
	for _, dir := range dirs {
		path := filepath.Join(it.path, dir)
		entries, err := it.env.fs.ReadDir(path)
		if err != nil {
			it.logger.LogCleanup(ctx, path, err)
			continue
		}
		left := len(entries)
		for _, e := range entries {
			name := e.Name()
			gen, isData := parseDataFileName(name)
			if strings.HasSuffix(name, fs.TempSuffix) || (isData && gen != keep) {
				if err := it.env.fs.Remove(filepath.Join(path, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
					it.logger.LogCleanup(ctx, filepath.Join(path, name), err)
					continue
				}
				left--
			}
		}
		if left == 0 {
			if err := it.env.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				it.logger.LogCleanup(ctx, path, err)
			}
		}
	}
}

func groupDirs(groups []partition.Group) []string {
	dirs := make([]string, len(groups))
	for i, g := range groups {
		dirs[i] = g.Dir
	}
	slices.Sort(dirs)
	return dirs
}

// commit publishes generation gen. A failed commit whose CURRENT swap still
// landed counts as committed.
func (it *Item) commit(m *manifest.Manifest) error {
	err := it.manifests.Commit(m)
	if err == nil {
		return nil
	}
	if cur, cerr := it.manifests.Current(); cerr == nil && cur == m.Generation {
		return nil
	}
	if derr := it.manifests.DeleteVersion(m.Generation); derr != nil {
		it.logger.LogCleanup(context.Background(), filepath.Join(it.path, manifest.FileName(m.Generation)), derr)
	}
	return err
}

// initLocks serializes the first publication of each item directory within
// the process.
var initLocks sync.Map

// initialize publishes an empty generation 1 for an unwritten item and
// returns the committed generation. Only the appender that finds no CURRENT
// under the lock sweeps leftovers; files are written only after CURRENT
// exists, so the sweep never sees another appender's data.
func (it *Item) initialize(ctx context.Context) (uint64, error) {
	mu, _ := initLocks.LoadOrStore(it.path, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	cur, err := it.Generation()
	if err != nil || cur != 0 {
		return cur, err
	}
	it.sweep(ctx, 0)
	created, err := it.manifests.Init(&manifest.Manifest{
		Generation:   1,
		CreatedAt:    it.env.opts.now().UTC(),
		PartitionKey: it.key(),
	})
	if err != nil {
		return 0, err
	}
	if !created {
		return it.Generation()
	}
	return 1, nil
}

// Write replaces the content of the item with t. The new files are written
// as a new generation and become visible in one step when CURRENT is
// replaced; files of older generations are deleted afterwards. On failure the
// previous content stays visible and a *WriteAbortedError is returned.
//
// An empty table leaves the data untouched and only updates metadata.
func (it *Item) Write(ctx context.Context, t *table.Table, opts ...WriteOption) (err error) {
	if err := it.checkWritable(); err != nil {
		return err
	}
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := it.env.fs.MkdirAll(it.path, 0o755); err != nil {
		return err
	}
	if t == nil || t.NumRows() == 0 {
		return it.finishMetadata(o)
	}

	start := time.Now()
	var (
		next  uint64
		files []string
		bytes int64
	)
	rows := int64(t.NumRows())
	defer func() {
		it.env.metrics.RecordWrite(len(files), rows, time.Since(start), err)
		it.logger.LogWrite(ctx, "write", next, len(files), rows, bytes, time.Since(start), err)
	}()

	t, groups, err := it.prepare(t, o)
	if err != nil {
		return err
	}
	cur, err := it.Generation()
	if err != nil {
		return err
	}
	next = cur + 1
	it.sweep(ctx, cur)

	files, bytes, err = it.writeFiles(ctx, t, groups, next)
	if err != nil {
		it.removeFiles(ctx, files)
		files = nil
		return &WriteAbortedError{Item: it.name, cause: err}
	}
	m := &manifest.Manifest{
		Generation:   next,
		CreatedAt:    it.env.opts.now().UTC(),
		PartitionKey: it.key(),
		Partitions:   groupDirs(groups),
		Files:        len(files),
		Rows:         int64(t.NumRows()),
	}
	if err = it.commit(m); err != nil {
		it.removeFiles(ctx, files)
		files = nil
		return &WriteAbortedError{Item: it.name, cause: err}
	}

	it.sweep(ctx, next)
	if perr := it.manifests.Prune(next); perr != nil {
		it.logger.LogCleanup(ctx, it.path, perr)
	}
	return it.finishMetadata(o)
}

// Append adds t to the item without touching existing files. Each touched
// partition gets one new file in the committed generation. Appending to an
// unwritten item first publishes an empty generation 1, once, before any
// data file is written. Concurrent appends are safe.
func (it *Item) Append(ctx context.Context, t *table.Table, opts ...WriteOption) (err error) {
	if err := it.checkWritable(); err != nil {
		return err
	}
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := it.env.fs.MkdirAll(it.path, 0o755); err != nil {
		return err
	}
	if t == nil || t.NumRows() == 0 {
		return it.finishMetadata(o)
	}

	start := time.Now()
	var (
		gen   uint64
		files []string
		bytes int64
	)
	rows := int64(t.NumRows())
	defer func() {
		it.env.metrics.RecordAppend(len(files), rows, time.Since(start), err)
		it.logger.LogWrite(ctx, "append", gen, len(files), rows, bytes, time.Since(start), err)
	}()

	t, groups, err := it.prepare(t, o)
	if err != nil {
		return err
	}
	cur, err := it.Generation()
	if err != nil {
		return err
	}
	if cur == 0 {
		if cur, err = it.initialize(ctx); err != nil {
			return &WriteAbortedError{Item: it.name, cause: err}
		}
	}
	gen = cur

	files, bytes, err = it.writeFiles(ctx, t, groups, gen)
	if err != nil {
		it.removeFiles(ctx, files)
		files = nil
		return &WriteAbortedError{Item: it.name, cause: err}
	}
	return it.finishMetadata(o)
}

// plan returns the unsorted leaf plan over the live files.
func (it *Item) plan(ctx context.Context) (*query.Plan, error) {
	files, err := it.liveFiles(ctx)
	if err != nil {
		return nil, err
	}
	return query.ScanResolved(files, it.liveFiles).WithEngine(it.env.engine), nil
}

// Query returns a lazy plan over every live file of the item, sorted by the
// subject's default sort columns when set. Building it lists directories and
// reads CURRENT only.
func (it *Item) Query() (*query.Plan, error) {
	p, err := it.plan(context.Background())
	if err != nil {
		return nil, err
	}
	if sortOn := it.subject.settings.SortOn; len(sortOn) > 0 {
		p = p.SortBy(sortOn...)
	}
	return p, nil
}

// Materialize evaluates a plan, casting to the subject's canonical schema
// when one is stored.
func (it *Item) Materialize(ctx context.Context, p *query.Plan) (*table.Table, error) {
	return it.subject.Materialize(ctx, p)
}

// Read materializes the whole item.
func (it *Item) Read(ctx context.Context) (*table.Table, error) {
	p, err := it.Query()
	if err != nil {
		return nil, err
	}
	return it.Materialize(ctx, p)
}

// Head returns the first n rows.
func (it *Item) Head(ctx context.Context, n int) (*table.Table, error) {
	p, err := it.Query()
	if err != nil {
		return nil, err
	}
	return it.Materialize(ctx, p.Limit(n))
}

// Tail returns the last n rows.
func (it *Item) Tail(ctx context.Context, n int) (*table.Table, error) {
	p, err := it.Query()
	if err != nil {
		return nil, err
	}
	return it.Materialize(ctx, p.Tail(n))
}

// Column returns every value of one column.
func (it *Item) Column(ctx context.Context, column string) ([]table.Value, error) {
	p, err := it.Query()
	if err != nil {
		return nil, err
	}
	t, err := it.Materialize(ctx, p.Select(column))
	if err != nil {
		return nil, err
	}
	vals, ok := t.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", table.ErrColumnNotFound, column)
	}
	return vals, nil
}

// Last returns the value of column in the last row.
func (it *Item) Last(ctx context.Context, column string) (table.Value, error) {
	p, err := it.Query()
	if err != nil {
		return table.Value{}, err
	}
	t, err := it.Materialize(ctx, p.Select(column).Tail(1))
	if err != nil {
		return table.Value{}, err
	}
	vals, ok := t.Column(column)
	if !ok {
		return table.Value{}, fmt.Errorf("%w: %q", table.ErrColumnNotFound, column)
	}
	if len(vals) == 0 {
		return table.Value{}, notFound("rows of item", it.name)
	}
	return vals[0], nil
}

// Consolidate rewrites the item so that every partition holds one file.
// Metadata is kept.
func (it *Item) Consolidate(ctx context.Context) error {
	if err := it.checkWritable(); err != nil {
		return err
	}
	t, err := it.Read(ctx)
	if err != nil {
		return err
	}
	return it.Write(ctx, t)
}
