package query

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdb/quiver/format"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/resource"
	"github.com/quiverdb/quiver/table"
)

// Engine materializes plans.
type Engine interface {
	Execute(ctx context.Context, p *Plan) (*table.Table, error)
}

// DefaultEngine reads from the local file system with default limits.
var DefaultEngine Engine = NewExecutor(fs.Default)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithResourceController bounds scan parallelism and decode memory.
func WithResourceController(rc *resource.Controller) ExecutorOption {
	return func(e *Executor) { e.rc = rc }
}

// WithMmap reads local files through read-only memory mappings.
func WithMmap(enabled bool) ExecutorOption {
	return func(e *Executor) { e.mmap = enabled }
}

// Executor is the in-process engine. Files of a leaf plan are decoded in
// parallel; everything after the scan runs on the combined table.
type Executor struct {
	fsys   fs.FileSystem
	rc     *resource.Controller
	mmap   bool
	reader *format.Reader
}

// NewExecutor returns an engine reading through fsys.
func NewExecutor(fsys fs.FileSystem, opts ...ExecutorOption) *Executor {
	e := &Executor{fsys: fsys}
	for _, opt := range opts {
		opt(e)
	}
	if e.rc == nil {
		e.rc = resource.NewController(resource.Config{})
	}
	e.reader = format.NewReader(fsys, e.mmap)
	return e
}

// Execute materializes p.
func (e *Executor) Execute(ctx context.Context, p *Plan) (*table.Table, error) {
	if err := firstErr(p); err != nil {
		return nil, err
	}
	return e.run(ctx, p, nil, nil)
}

func firstErr(p *Plan) error {
	if p.err != nil {
		return p.err
	}
	for _, c := range p.children {
		if err := firstErr(c); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, p *Plan, hint *table.Schema, need []string) (*table.Table, error) {
	if p.schema != nil {
		hint = p.schema
	}
	proj := p.projection(need)

	var (
		t   *table.Table
		err error
	)
	if p.children != nil {
		parts := make([]*table.Table, len(p.children))
		for i, c := range p.children {
			if parts[i], err = e.run(ctx, c, hint, proj); err != nil {
				return nil, err
			}
		}
		t, err = unionTables(parts, nil)
	} else {
		t, err = e.scan(ctx, p.files, hint, proj)
		if errors.Is(err, os.ErrNotExist) && p.resolve != nil {
			var files []string
			if files, err = p.resolve(ctx); err != nil {
				return nil, err
			}
			t, err = e.scan(ctx, files, hint, proj)
		}
	}
	if err != nil {
		return nil, err
	}

	for _, tg := range p.tags {
		if t, err = t.WithConstant(tg.name, tg.value); err != nil {
			return nil, err
		}
	}
	return applyOps(t, p.ops)
}

func (e *Executor) scan(ctx context.Context, files []string, hint *table.Schema, proj []string) (*table.Table, error) {
	parts := make([]*table.Table, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.rc.ScanWorkers())
	for i, path := range files {
		g.Go(func() error {
			t, err := e.readFile(ctx, path, proj)
			if err != nil {
				return err
			}
			if hint != nil {
				if t, err = conform(t, *hint, proj); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}
			parts[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return unionTables(parts, hint)
}

// readFile decodes one file while holding a memory reservation sized by the
// file.
func (e *Executor) readFile(ctx context.Context, path string, proj []string) (*table.Table, error) {
	size, err := format.Size(e.fsys, path)
	if err != nil {
		return nil, err
	}
	held, err := e.rc.AcquireMemory(ctx, size)
	if err != nil {
		return nil, err
	}
	defer e.rc.ReleaseMemory(held)

	cols := proj
	if cols != nil && len(cols) == 0 {
		cols = nil
	}
	t, ft, err := e.reader.ReadTable(ctx, path, cols)
	if err != nil {
		return nil, err
	}
	if t.NumCols() == 0 && ft.NumRows > 0 {
		// None of the projected columns exist; keep the row count.
		t, _, err = e.reader.ReadTable(ctx, path, nil)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// conform casts t to s. Missing columns are null-filled, columns outside s
// are kept after the schema columns.
func conform(t *table.Table, s table.Schema, proj []string) (*table.Table, error) {
	want := func(name string) bool {
		if proj == nil {
			return true
		}
		for _, c := range proj {
			if c == name {
				return true
			}
		}
		return false
	}

	var (
		fields []table.Field
		cols   [][]table.Value
	)
	for _, f := range s.Fields {
		if !want(f.Name) {
			continue
		}
		col, ok := t.Column(f.Name)
		if !ok {
			f.Nullable = true
			fields = append(fields, f)
			cols = append(cols, make([]table.Value, t.NumRows()))
			continue
		}
		have, _ := t.Schema().Field(f.Name)
		cast, err := table.CastColumn(col, f.Type)
		if err != nil {
			return nil, &SchemaConflictError{Column: f.Name, Types: []table.DataType{have.Type, f.Type}, Err: err}
		}
		f.Nullable = f.Nullable || have.Nullable
		fields = append(fields, f)
		cols = append(cols, cast)
	}
	for i, f := range t.Schema().Fields {
		if !s.Has(f.Name) {
			fields = append(fields, f)
			cols = append(cols, t.ColumnAt(i))
		}
	}

	schema, err := table.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return table.New(schema, cols)
}

// unionTables stacks tables under the native union rules: columns are
// matched by name in first-seen order, missing columns are null-filled and a
// column must have one non-null type across all tables.
func unionTables(parts []*table.Table, hint *table.Schema) (*table.Table, error) {
	var (
		fields []table.Field
		index  = map[string]int{}
		rows   int
	)
	for _, t := range parts {
		rows += t.NumRows()
		for _, f := range t.Schema().Fields {
			i, ok := index[f.Name]
			if !ok {
				index[f.Name] = len(fields)
				fields = append(fields, f)
				continue
			}
			cur := &fields[i]
			switch {
			case f.Type == cur.Type, f.Type == table.TypeNull:
			case cur.Type == table.TypeNull:
				cur.Type = f.Type
			default:
				return nil, &SchemaConflictError{Column: f.Name, Types: []table.DataType{cur.Type, f.Type}}
			}
			cur.Nullable = cur.Nullable || f.Nullable
		}
	}
	if len(parts) == 0 && hint != nil {
		return table.Empty(*hint), nil
	}

	cols := make([][]table.Value, len(fields))
	for i, f := range fields {
		col := make([]table.Value, 0, rows)
		for _, t := range parts {
			if v, ok := t.Column(f.Name); ok {
				col = append(col, v...)
				continue
			}
			fields[i].Nullable = true
			col = append(col, make([]table.Value, t.NumRows())...)
		}
		cols[i] = col
	}
	schema, err := table.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return table.New(schema, cols)
}

func applyOps(t *table.Table, ops []op) (*table.Table, error) {
	var err error
	for _, o := range ops {
		switch o.kind {
		case opSelect:
			if t.NumRows() == 0 {
				t = selectEmpty(t, o.columns)
				continue
			}
			t, err = t.Select(o.columns...)
		case opFilter:
			if t.NumRows() > 0 {
				t, err = NewFilterSet(o.filters...).Apply(t)
			}
		case opSort:
			if t.NumRows() > 0 {
				t, err = t.Sort(o.keys...)
			}
		case opLimit:
			t = t.Head(o.n)
		case opTail:
			t = t.Tail(o.n)
		}
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// selectEmpty projects a table without rows; unknown columns become null
// columns so an empty item still yields the requested shape.
func selectEmpty(t *table.Table, columns []string) *table.Table {
	fields := make([]table.Field, 0, len(columns))
	seen := map[string]bool{}
	for _, c := range columns {
		if seen[c] {
			continue
		}
		seen[c] = true
		f, ok := t.Schema().Field(c)
		if !ok {
			f = table.Field{Name: c, Type: table.TypeNull, Nullable: true}
		}
		fields = append(fields, f)
	}
	return table.Empty(table.Schema{Fields: fields})
}
