package quiver

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Library is the root namespace of a set of subjects. It owns the directory
// <root>/<name>.
type Library struct {
	env  *env
	name string
	path string
}

// OpenLibrary opens the library called name, creating its directory on first
// use.
func OpenLibrary(name string, opts ...Option) (*Library, error) {
	if err := validateName("library", name); err != nil {
		return nil, err
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	e := newEnv(o)
	path := filepath.Join(e.root, name)
	if err := e.fs.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	if err := e.ensureMetadata(path); err != nil {
		return nil, err
	}
	return &Library{env: e, name: name, path: path}, nil
}

// ListLibraries returns the names of the libraries under the root.
func ListLibraries(opts ...Option) ([]string, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return subdirs(o.fsys, o.root)
}

// DeleteLibrary removes a library and everything in it.
func DeleteLibrary(name string, opts ...Option) error {
	if err := validateName("library", name); err != nil {
		return err
	}
	o, err := applyOptions(opts)
	if err != nil {
		return err
	}
	path := filepath.Join(o.root, name)
	if _, err := o.fsys.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound("library", name)
		}
		return err
	}
	return o.fsys.RemoveAll(path)
}

// Name returns the library name.
func (l *Library) Name() string { return l.name }

// Path returns the library directory.
func (l *Library) Path() string { return l.path }

// Logger returns the logger of the library.
func (l *Library) Logger() *Logger { return l.env.logger }

// Metadata returns the library metadata document.
func (l *Library) Metadata() (map[string]any, error) {
	return l.env.loadMetadata("library", l.name, l.path)
}

// SaveMetadata replaces the library metadata document.
func (l *Library) SaveMetadata(doc map[string]any) error {
	return l.env.saveMetadata(l.path, doc)
}

// ListSubjects returns the subject names, sorted.
func (l *Library) ListSubjects() ([]string, error) {
	return subdirs(l.env.fs, l.path)
}

// Subject opens an existing subject.
func (l *Library) Subject(name string) (*Subject, error) {
	if err := validateName("subject", name); err != nil {
		return nil, err
	}
	s := l.newSubject(name)
	if err := s.loadSettings(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSubject opens the subject called name, creating it on first use.
// The partition key of an existing subject cannot change; asking for a
// different one fails with ErrExists.
func (l *Library) CreateSubject(name string, opts ...SubjectOption) (*Subject, error) {
	if err := validateName("subject", name); err != nil {
		return nil, err
	}
	var set subjectSettings
	for _, opt := range opts {
		opt(&set)
	}
	s := l.newSubject(name)
	if err := s.create(set); err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSubject removes a subject with its items and snapshots.
func (l *Library) DeleteSubject(name string) error {
	s, err := l.Subject(name)
	if err != nil {
		return err
	}
	return l.env.fs.RemoveAll(s.path)
}

// Item is a shortcut for Subject(subject) followed by Item(item).
func (l *Library) Item(subject, item string) (*Item, error) {
	s, err := l.Subject(subject)
	if err != nil {
		return nil, err
	}
	return s.Item(item)
}

// Size returns the bytes used by the library on disk.
func (l *Library) Size() (int64, error) {
	return dirSize(l.env.fs, l.path, nil)
}

// Backup streams the library as a compressed tar archive.
func (l *Library) Backup(ctx context.Context, w io.Writer, c BackupCompression) error {
	return backup(ctx, l.env, l.path, w, c)
}
