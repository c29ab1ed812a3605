// Package partition maps table rows to partition directories.
package partition

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/quiverdb/quiver/table"
)

const (
	// DefaultColumn is the partition key used when a subject does not set one.
	DefaultColumn = "partition"
	// DefaultValue is the constant written into a synthesized DefaultColumn.
	DefaultValue = "all"
	// NullToken is the directory rendering of a null partition value.
	NullToken = "__null__"

	escapedNullToken = "%5F%5Fnull%5F%5F"
)

// ErrKeyMissing is returned when the table lacks a partition key column.
var ErrKeyMissing = errors.New("partition key column missing")

// KeyMissingError names the missing column.
type KeyMissingError struct {
	Column string
}

func (e *KeyMissingError) Error() string {
	return fmt.Sprintf("partition key column %q missing from table", e.Column)
}

// Unwrap returns ErrKeyMissing.
func (e *KeyMissingError) Unwrap() error { return ErrKeyMissing }

// Group is the set of rows that share one partition tuple.
type Group struct {
	Values []table.Value
	Dir    string
	Rows   []int
}

// Normalize returns key, or the default key when key is empty.
func Normalize(key []string) []string {
	if len(key) == 0 {
		return []string{DefaultColumn}
	}
	return slices.Clone(key)
}

// IsDefault reports whether key is the default partition key.
func IsDefault(key []string) bool {
	return len(key) == 0 || (len(key) == 1 && key[0] == DefaultColumn)
}

// Prepare validates that t carries every key column. For the default key a
// missing column is synthesized with DefaultValue on every row; any other
// missing column fails with *KeyMissingError.
func Prepare(t *table.Table, key []string) (*table.Table, error) {
	key = Normalize(key)
	if IsDefault(key) && !t.Schema().Has(DefaultColumn) {
		return t.WithConstant(DefaultColumn, table.StringValue(DefaultValue))
	}
	for _, col := range key {
		if !t.Schema().Has(col) {
			return nil, &KeyMissingError{Column: col}
		}
	}
	return t, nil
}

// Resolve prepares t and groups its rows by the key tuple. Groups are returned
// in order of first appearance.
func Resolve(t *table.Table, key []string) (*table.Table, []Group, error) {
	key = Normalize(key)
	t, err := Prepare(t, key)
	if err != nil {
		return nil, nil, err
	}
	cols := make([][]table.Value, len(key))
	for i, name := range key {
		cols[i], _ = t.Column(name)
	}

	index := make(map[string]int)
	var groups []Group
	var sb strings.Builder
	for r := 0; r < t.NumRows(); r++ {
		sb.Reset()
		for _, col := range cols {
			sb.WriteString(col[r].Key())
			sb.WriteByte(0)
		}
		id := sb.String()
		g, ok := index[id]
		if !ok {
			vals := make([]table.Value, len(cols))
			for i, col := range cols {
				vals[i] = col[r]
			}
			g = len(groups)
			index[id] = g
			groups = append(groups, Group{Values: vals, Dir: DirName(key, vals)})
		}
		groups[g].Rows = append(groups[g].Rows, r)
	}
	return t, groups, nil
}

// DirName renders a partition directory name: col=value[,col=value...].
func DirName(key []string, vals []table.Value) string {
	var sb strings.Builder
	for i, col := range key {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(url.QueryEscape(col))
		sb.WriteByte('=')
		sb.WriteString(escapeValue(vals[i]))
	}
	return sb.String()
}

func escapeValue(v table.Value) string {
	if v.IsNull() {
		return NullToken
	}
	s := v.String()
	if s == NullToken {
		return escapedNullToken
	}
	return url.QueryEscape(s)
}

// Pair is one column=value segment of a directory name.
type Pair struct {
	Column string
	Value  string
	Null   bool
}

// ParseDir inverts DirName. Values come back as their string rendering.
func ParseDir(name string) ([]Pair, error) {
	if name == "" {
		return nil, fmt.Errorf("partition: empty directory name")
	}
	parts := strings.Split(name, ",")
	out := make([]Pair, 0, len(parts))
	for _, part := range parts {
		col, val, ok := strings.Cut(part, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("partition: malformed directory %q", name)
		}
		c, err := url.QueryUnescape(col)
		if err != nil {
			return nil, fmt.Errorf("partition: malformed directory %q: %w", name, err)
		}
		if val == NullToken {
			out = append(out, Pair{Column: c, Null: true})
			continue
		}
		v, err := url.QueryUnescape(val)
		if err != nil {
			return nil, fmt.Errorf("partition: malformed directory %q: %w", name, err)
		}
		out = append(out, Pair{Column: c, Value: v})
	}
	return out, nil
}

// IsDir reports whether name looks like a partition directory for key.
func IsDir(name string, key []string) bool {
	pairs, err := ParseDir(name)
	if err != nil || len(pairs) != len(key) {
		return false
	}
	for i, p := range pairs {
		if p.Column != key[i] {
			return false
		}
	}
	return true
}
