package manifest

import "errors"

var (
	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when no generation has been committed.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt is returned when CURRENT or a manifest cannot be decoded.
	ErrCorrupt = errors.New("manifest corrupt")
)
