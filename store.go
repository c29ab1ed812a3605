package quiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quiverdb/quiver/format"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/resource"
	"github.com/quiverdb/quiver/internal/sidecar"
	"github.com/quiverdb/quiver/query"
	"github.com/quiverdb/quiver/table"
)

// snapshotsDir holds the snapshots of a subject.
const snapshotsDir = "_snapshots"

// env is shared by a library and everything opened from it.
type env struct {
	root        string
	fs          fs.FileSystem
	meta        *sidecar.Store
	rc          *resource.Controller
	reader      *format.Reader
	engine      query.Engine
	compression format.Compression
	opts        options
	logger      *Logger
	metrics     MetricsCollector
}

func newEnv(o options) *env {
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   o.resource.MemoryLimitBytes,
		MaxScanWorkers:     o.resource.MaxScanWorkers,
		IOLimitBytesPerSec: o.resource.IOLimitBytesPerSec,
	})
	e := &env{
		root:        o.root,
		fs:          o.fsys,
		meta:        sidecar.New(o.fsys, o.codec, sidecar.WithClock(o.now)),
		rc:          rc,
		reader:      format.NewReader(o.fsys, o.mmap),
		engine:      o.engine,
		compression: o.compression,
		opts:        o,
		logger:      o.logger,
		metrics:     o.metricsCollector,
	}
	if e.engine == nil {
		e.engine = query.NewExecutor(o.fsys, query.WithResourceController(rc), query.WithMmap(o.mmap))
	}
	return e
}

// loadMetadata returns the metadata document in dir.
func (e *env) loadMetadata(kind, name, dir string) (map[string]any, error) {
	doc, err := e.meta.Load(filepath.Join(dir, sidecar.MetadataFile))
	if errors.Is(err, sidecar.ErrNotFound) {
		return nil, notFound(kind+" metadata", name)
	}
	return doc, translateError(err)
}

func (e *env) saveMetadata(dir string, doc map[string]any) error {
	return translateError(e.meta.Save(filepath.Join(dir, sidecar.MetadataFile), doc))
}

// ensureMetadata writes an empty document when none exists yet.
func (e *env) ensureMetadata(dir string) error {
	ok, err := e.meta.Exists(filepath.Join(dir, sidecar.MetadataFile))
	if err != nil || ok {
		return err
	}
	return e.saveMetadata(dir, map[string]any{})
}

// materialize runs p on the engine with metrics and error translation.
func (e *env) materialize(ctx context.Context, p *query.Plan) (*table.Table, error) {
	start := time.Now()
	files := len(p.Files())
	t, err := p.WithEngine(e.engine).Collect(ctx)
	err = translateError(err)
	rows := 0
	if t != nil {
		rows = t.NumRows()
	}
	e.metrics.RecordQuery(files, rows, time.Since(start), err)
	e.logger.LogQuery(ctx, files, rows, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// validateName rejects names that are not a single, visible directory
// component. Leading '_' and '.' are reserved for internal entries.
func validateName(kind, name string) error {
	switch {
	case name == "":
		return invalidName(kind, name, "is empty")
	case name == "." || name == "..":
		return invalidName(kind, name, "is reserved")
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return invalidName(kind, name, "contains a path separator")
	case strings.HasPrefix(name, "_") || strings.HasPrefix(name, "."):
		return invalidName(kind, name, "starts with a reserved character")
	}
	return nil
}

// subdirs lists the visible child directories of dir, sorted. A missing dir
// has no children.
func subdirs(fsys fs.FileSystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// walkFiles calls fn for every regular file below dir. skip prunes
// directories by name.
func walkFiles(fsys fs.FileSystem, dir string, skip func(name string) bool, fn func(path string, info os.FileInfo) error) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if skip != nil && skip(e.Name()) {
				continue
			}
			if err := walkFiles(fsys, path, skip, fn); err != nil {
				return err
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := fn(path, info); err != nil {
			return err
		}
	}
	return nil
}

// dirSize sums the sizes of the files below dir.
func dirSize(fsys fs.FileSystem, dir string, skip func(string) bool) (int64, error) {
	var total int64
	err := walkFiles(fsys, dir, skip, func(_ string, info os.FileInfo) error {
		total += info.Size()
		return nil
	})
	return total, err
}

func skipSnapshots(name string) bool { return name == snapshotsDir }
