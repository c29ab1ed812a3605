package table

import (
	"fmt"
	"strings"
)

// Field describes one column.
type Field struct {
	Name     string   `json:"name"`
	Type     DataType `json:"type"`
	Nullable bool     `json:"nullable,omitempty"`
}

func (f Field) String() string {
	if f.Nullable {
		return f.Name + ":" + f.Type.String() + "?"
	}
	return f.Name + ":" + f.Type.String()
}

// Schema is an ordered list of fields with unique names.
type Schema struct {
	Fields []Field `json:"fields"`
}

// NewSchema returns a schema from fields. Duplicate names are rejected.
func NewSchema(fields ...Field) (Schema, error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("table: empty column name")
		}
		if _, dup := seen[f.Name]; dup {
			return Schema{}, fmt.Errorf("table: duplicate column %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return Schema{Fields: append([]Field(nil), fields...)}, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(fields ...Field) Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s Schema) Len() int { return len(s.Fields) }

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	if i := s.Index(name); i >= 0 {
		return s.Fields[i], true
	}
	return Field{}, false
}

// Has reports whether the schema contains the named column.
func (s Schema) Has(name string) bool { return s.Index(name) >= 0 }

// Types returns a column name to type mapping.
func (s Schema) Types() map[string]DataType {
	out := make(map[string]DataType, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Name] = f.Type
	}
	return out
}

// Equal reports whether both schemas have the same fields in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
