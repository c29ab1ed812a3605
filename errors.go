package quiver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/quiverdb/quiver/format"
	"github.com/quiverdb/quiver/internal/manifest"
	"github.com/quiverdb/quiver/internal/partition"
	"github.com/quiverdb/quiver/internal/sidecar"
	"github.com/quiverdb/quiver/query"
	"github.com/quiverdb/quiver/table"
)

var (
	// ErrNotFound is returned when a library, subject, item, snapshot or
	// metadata record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when a sidecar, manifest or data file exists but
	// cannot be decoded.
	ErrCorrupt = errors.New("corrupt")

	// ErrPartitionKeyMissing is returned when a table lacks a configured
	// partition key column.
	ErrPartitionKeyMissing = errors.New("partition key missing")

	// ErrSchemaConflict is returned at materialization when column types
	// across files cannot be reconciled.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrWriteAborted is returned when a write failed before it was
	// published. The previous content is unchanged.
	ErrWriteAborted = errors.New("write aborted")

	// ErrInvalidName is returned for names that cannot be used as a
	// directory component.
	ErrInvalidName = errors.New("invalid name")

	// ErrExists is returned when creating something that is already there
	// with different settings.
	ErrExists = errors.New("already exists")

	// ErrReadOnly is returned when writing to an item opened from a snapshot.
	ErrReadOnly = errors.New("read only")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CorruptError names the unreadable file.
type CorruptError struct {
	Path  string
	cause error
}

func (e *CorruptError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s is corrupt", e.Path)
	}
	return fmt.Sprintf("%s is corrupt: %v", e.Path, e.cause)
}

func (e *CorruptError) Unwrap() []error { return []error{ErrCorrupt, e.cause} }

// PartitionKeyMissingError names the partition key column absent from the
// incoming table.
type PartitionKeyMissingError struct {
	Column string
	cause  error
}

func (e *PartitionKeyMissingError) Error() string {
	return fmt.Sprintf("partition key column %q missing", e.Column)
}

func (e *PartitionKeyMissingError) Unwrap() []error {
	return []error{ErrPartitionKeyMissing, e.cause}
}

// SchemaConflictError names the column whose types collided.
type SchemaConflictError struct {
	Column string
	Types  []table.DataType
	cause  error
}

func (e *SchemaConflictError) Error() string {
	names := make([]string, len(e.Types))
	for i, t := range e.Types {
		names[i] = t.String()
	}
	return fmt.Sprintf("schema conflict on column %q: %s", e.Column, strings.Join(names, " vs "))
}

func (e *SchemaConflictError) Unwrap() []error { return []error{ErrSchemaConflict, e.cause} }

// WriteAbortedError reports a write that was rolled back.
type WriteAbortedError struct {
	Item  string
	cause error
}

func (e *WriteAbortedError) Error() string {
	return fmt.Sprintf("write to %s aborted: %v", e.Item, e.cause)
}

func (e *WriteAbortedError) Unwrap() []error { return []error{ErrWriteAborted, e.cause} }

func notFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

func invalidName(kind, name, why string) error {
	return fmt.Errorf("%w: %s %q %s", ErrInvalidName, kind, name, why)
}

// translateError maps errors of the internal packages onto the public
// taxonomy. Unknown errors pass through unchanged.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var sce *sidecar.CorruptError
	if errors.As(err, &sce) {
		return &CorruptError{Path: sce.Path, cause: err}
	}
	var fce *format.CorruptError
	if errors.As(err, &fce) {
		return &CorruptError{Path: fce.Path, cause: err}
	}
	if errors.Is(err, manifest.ErrCorrupt) || errors.Is(err, manifest.ErrIncompatibleVersion) {
		return &CorruptError{Path: manifest.CurrentFileName, cause: err}
	}

	var km *partition.KeyMissingError
	if errors.As(err, &km) {
		return &PartitionKeyMissingError{Column: km.Column, cause: err}
	}
	var qc *query.SchemaConflictError
	if errors.As(err, &qc) {
		return &SchemaConflictError{Column: qc.Column, Types: qc.Types, cause: err}
	}

	if errors.Is(err, sidecar.ErrNotFound) || errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
