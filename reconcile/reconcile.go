// Package reconcile infers a unified schema from a population of data files.
//
// Only file footers are read. Types are combined with the widening lattice
// of table.Widen, so inference never fails because of the types it sees.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdb/quiver/format"
	"github.com/quiverdb/quiver/table"
)

// FooterReader reads the schema stored in a data file footer.
type FooterReader interface {
	ReadFooter(path string) (format.Footer, error)
}

// DefaultFraction is the sampling rate used when SampleOptions.Fraction is
// unset.
const DefaultFraction = 0.1

// SampleOptions controls which files are inspected.
type SampleOptions struct {
	// Fraction of files to sample, in (0, 1]. Zero means DefaultFraction.
	Fraction float64
	// MaxFiles caps the sample. Zero means no cap.
	MaxFiles int
	// Rand drives the sample. Nil uses an unseeded source.
	Rand *rand.Rand
	// Workers bounds parallel footer reads. Zero means GOMAXPROCS.
	Workers int
}

// Sample picks files according to opts. At least one file is picked when
// files is not empty. The input order is kept.
func Sample(files []string, opts SampleOptions) []string {
	if len(files) == 0 {
		return nil
	}
	frac := opts.Fraction
	if frac <= 0 {
		frac = DefaultFraction
	}
	n := int(math.Ceil(frac * float64(len(files))))
	n = max(1, min(n, len(files)))
	if opts.MaxFiles > 0 {
		n = min(n, opts.MaxFiles)
	}
	if n == len(files) {
		return slices.Clone(files)
	}

	perm := permutation(opts.Rand, len(files))
	idx := perm[:n]
	slices.Sort(idx)
	out := make([]string, n)
	for i, j := range idx {
		out[i] = files[j]
	}
	return out
}

func permutation(r *rand.Rand, n int) []int {
	if r == nil {
		return rand.Perm(n)
	}
	return r.Perm(n)
}

// SuggestSchema samples files, reads their footers in parallel and unifies
// the schemas. An unreadable file is an error.
func SuggestSchema(ctx context.Context, r FooterReader, files []string, opts SampleOptions) (table.Schema, error) {
	sample := Sample(files, opts)
	schemas := make([]table.Schema, len(sample))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range sample {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ft, err := r.ReadFooter(path)
			if err != nil {
				return fmt.Errorf("reconcile: %s: %w", path, err)
			}
			schemas[i] = ft.Schema
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return table.Schema{}, err
	}
	return Unify(schemas...), nil
}

// Unify widens schemas into one. Columns keep first-seen order. A column
// missing from any schema, or nullable in any, is nullable in the result.
func Unify(schemas ...table.Schema) table.Schema {
	var (
		fields []table.Field
		index  = map[string]int{}
		seen   []int
	)
	for _, s := range schemas {
		for _, f := range s.Fields {
			i, ok := index[f.Name]
			if !ok {
				index[f.Name] = len(fields)
				fields = append(fields, f)
				seen = append(seen, 1)
				continue
			}
			fields[i].Type = table.Widen(fields[i].Type, f.Type)
			fields[i].Nullable = fields[i].Nullable || f.Nullable
			seen[i]++
		}
	}
	for i := range fields {
		if seen[i] < len(schemas) {
			fields[i].Nullable = true
		}
	}
	return table.Schema{Fields: fields}
}

// Diff reports the columns of s whose type differs from want, and the
// columns of want that s lacks.
func Diff(s, want table.Schema) (changed, missing []string) {
	for _, f := range want.Fields {
		have, ok := s.Field(f.Name)
		switch {
		case !ok:
			missing = append(missing, f.Name)
		case have.Type != f.Type:
			changed = append(changed, f.Name)
		}
	}
	return changed, missing
}
