package quiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/quiverdb/quiver/internal/partition"
	"github.com/quiverdb/quiver/internal/sidecar"
	"github.com/quiverdb/quiver/query"
	"github.com/quiverdb/quiver/reconcile"
	"github.com/quiverdb/quiver/sqlengine"
	"github.com/quiverdb/quiver/table"
)

// ItemColumn tags every row of FullSubject with the item it came from.
const ItemColumn = "_item"

type subjectSettings struct {
	PartitionKey []string `json:"partition_key"`
	SortOn       []string `json:"sort_on,omitempty"`
}

// SubjectOption configures a subject on creation.
type SubjectOption func(*subjectSettings)

// WithPartitionKey sets the partition key columns. The default key is the
// single column "partition", synthesized as "all" when a table lacks it.
func WithPartitionKey(columns ...string) SubjectOption {
	return func(s *subjectSettings) {
		s.PartitionKey = slices.Clone(columns)
	}
}

// WithDefaultSort sets the columns item queries are sorted by.
func WithDefaultSort(columns ...string) SubjectOption {
	return func(s *subjectSettings) {
		s.SortOn = slices.Clone(columns)
	}
}

// Subject is a named collection of items sharing one partition key.
type Subject struct {
	lib      *Library
	env      *env
	name     string
	path     string
	settings subjectSettings
	logger   *Logger
}

func (l *Library) newSubject(name string) *Subject {
	return &Subject{
		lib:    l,
		env:    l.env,
		name:   name,
		path:   filepath.Join(l.path, name),
		logger: l.env.logger.WithLibrary(l.name).WithSubject(name),
	}
}

func (s *Subject) settingsPath() string { return filepath.Join(s.path, sidecar.SubjectFile) }
func (s *Subject) schemaPath() string   { return filepath.Join(s.path, sidecar.SchemaFile) }

func (s *Subject) loadSettings() error {
	if _, err := s.env.fs.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound("subject", s.name)
		}
		return err
	}
	var set subjectSettings
	_, err := s.env.meta.LoadValue(s.settingsPath(), &set)
	switch {
	case errors.Is(err, sidecar.ErrNotFound):
		set = subjectSettings{}
	case err != nil:
		return translateError(err)
	}
	set.PartitionKey = partition.Normalize(set.PartitionKey)
	s.settings = set
	return nil
}

func (s *Subject) create(want subjectSettings) error {
	err := s.loadSettings()
	switch {
	case err == nil:
		if want.PartitionKey != nil && !slices.Equal(partition.Normalize(want.PartitionKey), s.settings.PartitionKey) {
			return fmt.Errorf("%w: subject %q is partitioned by %v", ErrExists, s.name, s.settings.PartitionKey)
		}
		if want.SortOn != nil && !slices.Equal(want.SortOn, s.settings.SortOn) {
			return s.SetSortOn(want.SortOn...)
		}
		return nil
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if err := s.env.fs.MkdirAll(filepath.Join(s.path, snapshotsDir), 0o755); err != nil {
		return err
	}
	want.PartitionKey = partition.Normalize(want.PartitionKey)
	if err := s.env.meta.SaveValue(s.settingsPath(), want); err != nil {
		return translateError(err)
	}
	s.settings = want
	return s.env.ensureMetadata(s.path)
}

// Name returns the subject name.
func (s *Subject) Name() string { return s.name }

// Path returns the subject directory.
func (s *Subject) Path() string { return s.path }

// Library returns the library the subject belongs to.
func (s *Subject) Library() *Library { return s.lib }

// PartitionKey returns the partition key shared by all items.
func (s *Subject) PartitionKey() []string { return slices.Clone(s.settings.PartitionKey) }

// SortOn returns the default sort columns of item queries.
func (s *Subject) SortOn() []string { return slices.Clone(s.settings.SortOn) }

// SetSortOn changes the default sort columns of item queries.
func (s *Subject) SetSortOn(columns ...string) error {
	set := s.settings
	set.SortOn = slices.Clone(columns)
	if err := s.env.meta.SaveValue(s.settingsPath(), set); err != nil {
		return translateError(err)
	}
	s.settings = set
	return nil
}

// Metadata returns the subject metadata document.
func (s *Subject) Metadata() (map[string]any, error) {
	return s.env.loadMetadata("subject", s.name, s.path)
}

// SaveMetadata replaces the subject metadata document.
func (s *Subject) SaveMetadata(doc map[string]any) error {
	return s.env.saveMetadata(s.path, doc)
}

// Item opens an existing item.
func (s *Subject) Item(name string) (*Item, error) {
	if err := validateName("item", name); err != nil {
		return nil, err
	}
	it := s.newItem(name, filepath.Join(s.path, name), false)
	if _, err := s.env.fs.Stat(it.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound("item", name)
		}
		return nil, err
	}
	return it, nil
}

// CreateItem opens the item called name, creating its directory on first
// use. A new item is unwritten until its first write or append.
func (s *Subject) CreateItem(name string) (*Item, error) {
	if err := validateName("item", name); err != nil {
		return nil, err
	}
	it := s.newItem(name, filepath.Join(s.path, name), false)
	if err := s.env.fs.MkdirAll(it.path, 0o755); err != nil {
		return nil, err
	}
	if err := s.env.ensureMetadata(it.path); err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteItem removes an item and its files.
func (s *Subject) DeleteItem(name string) error {
	it, err := s.Item(name)
	if err != nil {
		return err
	}
	return s.env.fs.RemoveAll(it.path)
}

// ListItems returns the item names, sorted. With a non-empty match only the
// items whose metadata holds every key of match with an equal value are
// returned.
func (s *Subject) ListItems(match map[string]any) ([]string, error) {
	names, err := subdirs(s.env.fs, s.path)
	if err != nil || len(match) == 0 {
		return names, err
	}
	// Compare in the decoded form so 1 matches a stored 1.0.
	var want map[string]any
	b, err := s.env.meta.Codec().Marshal(match)
	if err != nil {
		return nil, err
	}
	if err := s.env.meta.Codec().Unmarshal(b, &want); err != nil {
		return nil, err
	}

	var out []string
	for _, name := range names {
		doc, err := s.env.loadMetadata("item", name, filepath.Join(s.path, name))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ok := true
		for k, v := range want {
			if got, has := doc[k]; !has || !reflect.DeepEqual(got, v) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Inventory returns one row per item with its metadata. The item name is in
// column "item" unless the metadata already uses that key. Nested values are
// rendered as JSON strings.
func (s *Subject) Inventory() (*table.Table, error) {
	names, err := s.ListItems(nil)
	if err != nil {
		return nil, err
	}
	records := make([]map[string]any, 0, len(names))
	for _, name := range names {
		doc, err := s.env.loadMetadata("item", name, filepath.Join(s.path, name))
		if errors.Is(err, ErrNotFound) {
			doc = map[string]any{}
		} else if err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(doc)+1)
		for k, v := range doc {
			if _, err := table.ValueOf(v); err != nil {
				b, merr := s.env.meta.Codec().Marshal(v)
				if merr != nil {
					return nil, merr
				}
				v = string(b)
			}
			rec[k] = v
		}
		if _, ok := rec["item"]; !ok {
			rec["item"] = name
		}
		records = append(records, rec)
	}
	return table.FromRecords(records)
}

// FullSubject returns the union of every item's lazy plan. Each row is
// tagged with its item name in ItemColumn. When a canonical schema is stored
// every file is cast to it; otherwise the native union rules apply. Schema
// conflicts surface when the plan is materialized.
func (s *Subject) FullSubject() (*query.Plan, error) {
	names, err := s.ListItems(nil)
	if err != nil {
		return nil, err
	}
	plans := make([]*query.Plan, 0, len(names))
	for _, name := range names {
		it := s.newItem(name, filepath.Join(s.path, name), false)
		p, err := it.plan(context.Background())
		if err != nil {
			return nil, err
		}
		plans = append(plans, p.Tag(ItemColumn, table.StringValue(name)))
	}
	u := query.Union(plans...).WithEngine(s.env.engine)

	schema, ok, err := s.Schema()
	if err != nil {
		return nil, err
	}
	if ok {
		u = u.WithSchema(schema)
	}
	return u, nil
}

// Materialize evaluates a plan built from this subject.
func (s *Subject) Materialize(ctx context.Context, p *query.Plan) (*table.Table, error) {
	if _, has := p.Schema(); !has {
		schema, ok, err := s.Schema()
		if err != nil {
			return nil, err
		}
		if ok {
			p = p.WithSchema(schema)
		}
	}
	return s.env.materialize(ctx, p)
}

// Files returns the live data files of every item.
func (s *Subject) Files(ctx context.Context) ([]string, error) {
	names, err := s.ListItems(nil)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, name := range names {
		it := s.newItem(name, filepath.Join(s.path, name), false)
		f, err := it.liveFiles(ctx)
		if err != nil {
			return nil, err
		}
		files = append(files, f...)
	}
	return files, nil
}

// SuggestSchema samples the data files of all items and returns the widened
// schema. Zero fields of opts fall back to the library defaults.
func (s *Subject) SuggestSchema(ctx context.Context, opts reconcile.SampleOptions) (table.Schema, error) {
	start := time.Now()
	def := s.env.opts.sample
	if opts.Fraction == 0 {
		opts.Fraction = def.Fraction
	}
	if opts.MaxFiles == 0 {
		opts.MaxFiles = def.MaxFiles
	}
	if opts.Rand == nil {
		opts.Rand = def.Rand
	}
	if opts.Workers == 0 {
		opts.Workers = s.env.rc.ScanWorkers()
	}

	files, err := s.Files(ctx)
	if err != nil {
		return table.Schema{}, err
	}
	schema, err := reconcile.SuggestSchema(ctx, s.env.reader, files, opts)
	err = translateError(err)
	s.env.metrics.RecordSchema(len(files), time.Since(start), err)
	s.logger.LogSchema(ctx, len(files), schema.Len(), err)
	if err == nil {
		s.warnDrift(ctx, schema)
	}
	return schema, err
}

// warnDrift logs when the sampled files no longer match the stored schema.
func (s *Subject) warnDrift(ctx context.Context, sampled table.Schema) {
	stored, ok, err := s.Schema()
	if err != nil || !ok {
		return
	}
	changed, missing := reconcile.Diff(stored, sampled)
	if len(changed) > 0 || len(missing) > 0 {
		s.logger.WarnContext(ctx, "schema drift", "changed", changed, "new_columns", missing)
	}
}

// WriteSchema stores the canonical schema. Existing files are not rewritten;
// the schema is applied when files are read.
func (s *Subject) WriteSchema(schema table.Schema) error {
	return translateError(s.env.meta.SaveValue(s.schemaPath(), schema))
}

// Schema returns the canonical schema, if one is stored.
func (s *Subject) Schema() (table.Schema, bool, error) {
	var schema table.Schema
	_, err := s.env.meta.LoadValue(s.schemaPath(), &schema)
	if errors.Is(err, sidecar.ErrNotFound) {
		return table.Schema{}, false, nil
	}
	if err != nil {
		return table.Schema{}, false, translateError(err)
	}
	return schema, true, nil
}

// DeleteSchema removes the canonical schema.
func (s *Subject) DeleteSchema() error {
	return s.env.meta.Delete(s.schemaPath())
}

// SetSchemaFromItem stores the schema of the first data file of item as the
// canonical schema.
func (s *Subject) SetSchemaFromItem(ctx context.Context, item string) (table.Schema, error) {
	it, err := s.Item(item)
	if err != nil {
		return table.Schema{}, err
	}
	files, err := it.liveFiles(ctx)
	if err != nil {
		return table.Schema{}, err
	}
	if len(files) == 0 {
		return table.Schema{}, notFound("data file of item", item)
	}
	ft, err := s.env.reader.ReadFooter(files[0])
	if err != nil {
		return table.Schema{}, translateError(err)
	}
	return ft.Schema, s.WriteSchema(ft.Schema)
}

// Pivot materializes index, column and value of the full subject and pivots
// it so that each distinct column value becomes a column.
func (s *Subject) Pivot(ctx context.Context, index, column, value string) (*table.Table, error) {
	p, err := s.FullSubject()
	if err != nil {
		return nil, err
	}
	t, err := s.Materialize(ctx, p.Select(index, column, value))
	if err != nil {
		return nil, err
	}
	return sqlengine.Pivot(ctx, t, index, column, value)
}

// Size returns the bytes used by the subject, snapshots excluded.
func (s *Subject) Size() (int64, error) {
	return dirSize(s.env.fs, s.path, skipSnapshots)
}
