package query

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/quiverdb/quiver/table"
)

// Resolver lists the live files of a leaf plan. It is called again when a
// captured file disappears before it is read.
type Resolver func(ctx context.Context) ([]string, error)

type opKind uint8

const (
	opSelect opKind = iota
	opFilter
	opSort
	opLimit
	opTail
)

type op struct {
	kind    opKind
	columns []string
	filters []Filter
	keys    []table.SortKey
	n       int
}

// columnsUsed returns the columns an operation reads.
func (o op) columnsUsed() []string {
	switch o.kind {
	case opSelect:
		return o.columns
	case opFilter:
		out := make([]string, len(o.filters))
		for i, f := range o.filters {
			out[i] = f.Column
		}
		return out
	case opSort:
		out := make([]string, len(o.keys))
		for i, k := range o.keys {
			out[i] = k.Column
		}
		return out
	}
	return nil
}

type tag struct {
	name  string
	value table.Value
}

// Plan is a lazy, immutable description of a query over data files.
// Building a plan performs no I/O; every method returns a new plan.
//
// A plan is either a leaf over a list of files or a union of child plans.
// Operations run in the order they were added, after files are scanned,
// cast to the schema hint and tagged.
type Plan struct {
	files    []string
	resolve  Resolver
	children []*Plan
	schema   *table.Schema
	tags     []tag
	ops      []op
	engine   Engine
	err      error
}

// Scan returns a leaf plan over files.
func Scan(files []string) *Plan {
	return &Plan{files: slices.Clone(files)}
}

// ScanResolved returns a leaf plan over files that can re-list its files
// through resolve.
func ScanResolved(files []string, resolve Resolver) *Plan {
	return &Plan{files: slices.Clone(files), resolve: resolve}
}

// Union combines plans. Rows keep plan order; columns missing from a child
// are null-filled.
func Union(plans ...*Plan) *Plan {
	p := &Plan{children: make([]*Plan, 0, len(plans))}
	for _, c := range plans {
		if c == nil {
			continue
		}
		if c.engine != nil && p.engine == nil {
			p.engine = c.engine
		}
		p.children = append(p.children, c)
	}
	return p
}

func (p *Plan) clone() *Plan {
	c := *p
	c.files = slices.Clone(p.files)
	c.children = slices.Clone(p.children)
	c.tags = slices.Clone(p.tags)
	c.ops = slices.Clone(p.ops)
	return &c
}

func (p *Plan) withOp(o op) *Plan {
	c := p.clone()
	c.ops = append(c.ops, o)
	return c
}

// Select keeps the named columns, in order.
func (p *Plan) Select(columns ...string) *Plan {
	return p.withOp(op{kind: opSelect, columns: slices.Clone(columns)})
}

// Filter keeps rows matching every filter.
func (p *Plan) Filter(filters ...Filter) *Plan {
	if len(filters) == 0 {
		return p
	}
	return p.withOp(op{kind: opFilter, filters: slices.Clone(filters)})
}

// Where adds a single filter built from a plain Go value. An invalid filter
// is reported by Collect.
func (p *Plan) Where(column string, operator Operator, v any) *Plan {
	f, err := NewFilter(column, operator, v)
	if err != nil {
		c := p.clone()
		if c.err == nil {
			c.err = err
		}
		return c
	}
	return p.Filter(f)
}

// SortBy sorts ascending by columns.
func (p *Plan) SortBy(columns ...string) *Plan {
	if len(columns) == 0 {
		return p
	}
	keys := make([]table.SortKey, len(columns))
	for i, c := range columns {
		keys[i] = table.SortKey{Column: c}
	}
	return p.Sort(keys...)
}

// Sort sorts by keys.
func (p *Plan) Sort(keys ...table.SortKey) *Plan {
	return p.withOp(op{kind: opSort, keys: slices.Clone(keys)})
}

// Limit keeps the first n rows.
func (p *Plan) Limit(n int) *Plan {
	return p.withOp(op{kind: opLimit, n: n})
}

// Tail keeps the last n rows.
func (p *Plan) Tail(n int) *Plan {
	return p.withOp(op{kind: opTail, n: n})
}

// WithSchema sets the schema every scanned file is cast to. Columns missing
// from a file are null-filled; columns absent from the schema are kept.
func (p *Plan) WithSchema(s table.Schema) *Plan {
	c := p.clone()
	c.schema = &s
	return c
}

// Schema returns the schema hint, if any.
func (p *Plan) Schema() (table.Schema, bool) {
	if p.schema == nil {
		return table.Schema{}, false
	}
	return *p.schema, true
}

// Tag adds a constant column to every row produced by the plan.
func (p *Plan) Tag(name string, v table.Value) *Plan {
	c := p.clone()
	c.tags = append(c.tags, tag{name: name, value: v})
	return c
}

// WithEngine sets the engine used by Collect.
func (p *Plan) WithEngine(e Engine) *Plan {
	c := p.clone()
	c.engine = e
	return c
}

// Err returns the first error recorded while building the plan.
func (p *Plan) Err() error { return p.err }

// Files returns every file captured by the plan and its children.
func (p *Plan) Files() []string {
	out := slices.Clone(p.files)
	for _, c := range p.children {
		out = append(out, c.Files()...)
	}
	return out
}

// Collect materializes the plan with its engine, or the default engine.
func (p *Plan) Collect(ctx context.Context) (*table.Table, error) {
	e := p.engine
	if e == nil {
		e = DefaultEngine
	}
	return e.Execute(ctx, p)
}

func (p *Plan) String() string {
	var b strings.Builder
	p.describe(&b, 0)
	return b.String()
}

func (p *Plan) describe(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	if p.children != nil {
		fmt.Fprintf(b, "%sunion(%d)", indent, len(p.children))
	} else {
		fmt.Fprintf(b, "%sscan(%d files)", indent, len(p.files))
	}
	if p.schema != nil {
		fmt.Fprintf(b, " schema=%s", *p.schema)
	}
	for _, t := range p.tags {
		fmt.Fprintf(b, " tag %s=%s", t.name, t.value)
	}
	for _, o := range p.ops {
		switch o.kind {
		case opSelect:
			fmt.Fprintf(b, " | select %s", strings.Join(o.columns, ","))
		case opFilter:
			for _, f := range o.filters {
				fmt.Fprintf(b, " | filter %s", f)
			}
		case opSort:
			fmt.Fprintf(b, " | sort %v", o.keys)
		case opLimit:
			fmt.Fprintf(b, " | limit %d", o.n)
		case opTail:
			fmt.Fprintf(b, " | tail %d", o.n)
		}
	}
	b.WriteByte('\n')
	for _, c := range p.children {
		c.describe(b, depth+1)
	}
}

// projection returns the file columns a plan needs given the columns its
// parent needs. nil means every column.
func (p *Plan) projection(parent []string) []string {
	used := map[string]struct{}{}
	var out []string
	add := func(cols []string) {
		for _, c := range cols {
			if _, ok := used[c]; !ok {
				used[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	for _, o := range p.ops {
		add(o.columnsUsed())
		if o.kind == opSelect {
			return p.dropTags(out)
		}
	}
	if parent == nil {
		return nil
	}
	add(parent)
	return p.dropTags(out)
}

func (p *Plan) dropTags(cols []string) []string {
	if len(p.tags) == 0 {
		return cols
	}
	out := cols[:0:0]
	for _, c := range cols {
		if !slices.ContainsFunc(p.tags, func(t tag) bool { return t.name == c }) {
			out = append(out, c)
		}
	}
	return out
}
