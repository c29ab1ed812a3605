package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quiverdb/quiver/table"
)

// ErrSchemaConflict is returned when files cannot be combined because a
// column has irreconcilable types.
var ErrSchemaConflict = errors.New("query: schema conflict")

// SchemaConflictError names the column and the types that collided.
type SchemaConflictError struct {
	Column string
	Types  []table.DataType
	Err    error
}

func (e *SchemaConflictError) Error() string {
	names := make([]string, len(e.Types))
	for i, t := range e.Types {
		names[i] = t.String()
	}
	msg := fmt.Sprintf("query: schema conflict on column %q (%s)", e.Column, strings.Join(names, " vs "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSchemaConflict}
	}
	return []error{ErrSchemaConflict, e.Err}
}
