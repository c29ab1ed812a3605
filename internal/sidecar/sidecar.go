package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/internal/fs"
)

// File names used by the store layout.
const (
	MetadataFile = "quiver_metadata.json"
	SubjectFile  = "quiver_subject.json"
	SchemaFile   = "quiver_schema.json"

	// Version is the envelope format version.
	Version = 1

	// legacyUpdatedKey stamps bare documents written without an envelope.
	legacyUpdatedKey = "_updated"
)

var legacyTimeLayouts = []string{"2006-01-02 15:04:05.000000", time.RFC3339Nano}

var (
	// ErrNotFound is returned when the sidecar does not exist.
	ErrNotFound = errors.New("sidecar not found")

	// ErrCorrupt is returned when the sidecar exists but cannot be decoded.
	ErrCorrupt = errors.New("sidecar corrupt")
)

// CorruptError names the unreadable sidecar.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("sidecar %s corrupt: %v", e.Path, e.Err)
}

// Unwrap returns ErrCorrupt and the decode error.
func (e *CorruptError) Unwrap() []error { return []error{ErrCorrupt, e.Err} }

// Header describes a stored envelope.
type Header struct {
	Version   int       `json:"version"`
	Codec     string    `json:"codec"`
	UpdatedAt time.Time `json:"updated_at"`
}

type envelope struct {
	Header
	Data json.RawMessage `json:"data"`
}

// Store reads and writes sidecars.
type Store struct {
	fs    fs.FileSystem
	codec codec.Codec
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store. A nil fsys selects fs.Default and a nil codec selects
// codec.Default.
func New(fsys fs.FileSystem, c codec.Codec, opts ...Option) *Store {
	if fsys == nil {
		fsys = fs.Default
	}
	if c == nil {
		c = codec.Default
	}
	s := &Store{fs: fsys, codec: c, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Codec returns the codec used for new writes.
func (s *Store) Codec() codec.Codec { return s.codec }

// Save replaces the metadata document at path.
func (s *Store) Save(path string, doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	return s.SaveValue(path, doc)
}

// Load returns the metadata document at path.
func (s *Store) Load(path string) (map[string]any, error) {
	var doc map[string]any
	h, err := s.LoadValue(path, &doc)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if h.Version == 0 {
		delete(doc, legacyUpdatedKey)
	}
	return doc, nil
}

// SaveValue encodes v into an envelope and writes it atomically.
func (s *Store) SaveValue(path string, v any) error {
	data, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	env := envelope{
		Header: Header{Version: Version, Codec: s.codec.Name(), UpdatedAt: s.now().UTC()},
		Data:   data,
	}
	b, err := s.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fs.WriteFileAtomic(s.fs, path, b, 0o644)
}

// LoadValue decodes the envelope at path into v and returns its header.
// The payload is decoded with the codec named in the envelope. A bare JSON
// object without a "version" key is read as the payload itself; its header
// has Version 0 and UpdatedAt taken from an "_updated" stamp when present.
func (s *Store) LoadValue(path string, v any) (Header, error) {
	b, err := fs.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Header{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Header{}, err
	}
	var probe map[string]json.RawMessage
	if err := codec.Default.Unmarshal(b, &probe); err == nil {
		if _, enveloped := probe["version"]; !enveloped {
			return loadBare(path, b, probe, v)
		}
	}
	var env envelope
	if err := codec.Default.Unmarshal(b, &env); err != nil {
		return Header{}, &CorruptError{Path: path, Err: err}
	}
	if env.Version == 0 || env.Version > Version {
		return Header{}, &CorruptError{Path: path, Err: fmt.Errorf("unsupported version %d", env.Version)}
	}
	c, ok := codec.ByName(env.Codec)
	if !ok {
		return Header{}, &CorruptError{Path: path, Err: fmt.Errorf("unknown codec %q", env.Codec)}
	}
	if len(env.Data) == 0 {
		return Header{}, &CorruptError{Path: path, Err: errors.New("missing data")}
	}
	if err := c.Unmarshal(env.Data, v); err != nil {
		return Header{}, &CorruptError{Path: path, Err: err}
	}
	return env.Header, nil
}

func loadBare(path string, b []byte, probe map[string]json.RawMessage, v any) (Header, error) {
	if err := codec.GoJSON.Unmarshal(b, v); err != nil {
		return Header{}, &CorruptError{Path: path, Err: err}
	}
	h := Header{Codec: codec.GoJSON.Name()}
	var stamp string
	if raw, ok := probe[legacyUpdatedKey]; ok && json.Unmarshal(raw, &stamp) == nil {
		for _, layout := range legacyTimeLayouts {
			if t, err := time.Parse(layout, stamp); err == nil {
				h.UpdatedAt = t
				break
			}
		}
	}
	return h, nil
}

// Stat returns the envelope header without decoding the payload.
func (s *Store) Stat(path string) (Header, error) {
	var raw json.RawMessage
	return s.LoadValue(path, &raw)
}

// Exists reports whether a sidecar is present at path.
func (s *Store) Exists(path string) (bool, error) {
	return fs.Exists(s.fs, path)
}

// Delete removes the sidecar. A missing file is not an error.
func (s *Store) Delete(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
