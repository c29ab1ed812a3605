package quiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/resource"
)

// snapshotTimeFormat names snapshots created without an explicit name.
const snapshotTimeFormat = "20060102T150405.000000"

// cleanSnapshotName keeps letters, digits, '.' and '_' and strips leading
// dots and underscores.
func cleanSnapshotName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			return r
		}
		return -1
	}, name)
	return strings.TrimLeft(name, "._")
}

func (s *Subject) snapshotPath(name string) string {
	return filepath.Join(s.path, snapshotsDir, name)
}

// CreateSnapshot saves a point-in-time copy of the subject under
// _snapshots/<name> and returns the name used. Data files are immutable and
// are hard-linked; sidecars and manifests are copied. An empty name selects a
// timestamp.
func (s *Subject) CreateSnapshot(ctx context.Context, name string) (snap string, err error) {
	if name == "" {
		name = s.env.opts.now().UTC().Format(snapshotTimeFormat)
	}
	snap = cleanSnapshotName(name)
	if snap == "" {
		return "", invalidName("snapshot", name, "has no usable characters")
	}
	dst := s.snapshotPath(snap)
	if ok, err := fs.Exists(s.env.fs, dst); err != nil {
		return "", err
	} else if ok {
		return "", fmt.Errorf("%w: snapshot %q", ErrExists, snap)
	}

	var files int
	var bytes int64
	defer func() {
		s.logger.LogSnapshot(ctx, snap, files, bytes, err)
	}()

	tmp := filepath.Join(s.path, snapshotsDir, "."+snap+"."+xid.New().String())
	wrap := func(w io.Writer) io.Writer {
		return resource.NewRateLimitedWriter(ctx, w, s.env.rc)
	}
	err = walkFiles(s.env.fs, s.path, skipSnapshots, func(path string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasSuffix(path, fs.TempSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.path, path)
		if err != nil {
			return err
		}
		target := filepath.Join(tmp, rel)
		if err := s.env.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if _, isData := parseDataFileName(info.Name()); !isData || s.env.fs.Link(path, target) != nil {
			if err := fs.CopyFile(s.env.fs, path, target, wrap); err != nil {
				return err
			}
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err == nil {
		err = s.env.fs.Rename(tmp, dst)
	}
	if err != nil {
		_ = s.env.fs.RemoveAll(tmp)
		return "", err
	}
	return snap, nil
}

// ListSnapshots returns the snapshot names, sorted.
func (s *Subject) ListSnapshots() ([]string, error) {
	return subdirs(s.env.fs, filepath.Join(s.path, snapshotsDir))
}

// DeleteSnapshot removes one snapshot.
func (s *Subject) DeleteSnapshot(name string) error {
	path, err := s.existingSnapshot(name)
	if err != nil {
		return err
	}
	return s.env.fs.RemoveAll(path)
}

// DeleteSnapshots removes every snapshot of the subject.
func (s *Subject) DeleteSnapshots() error {
	dir := filepath.Join(s.path, snapshotsDir)
	if err := s.env.fs.RemoveAll(dir); err != nil {
		return err
	}
	return s.env.fs.MkdirAll(dir, 0o755)
}

// SnapshotItem opens an item as it was when snapshot was taken. The item is
// read-only.
func (s *Subject) SnapshotItem(snapshot, item string) (*Item, error) {
	path, err := s.existingSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	if err := validateName("item", item); err != nil {
		return nil, err
	}
	dir := filepath.Join(path, item)
	if _, err := s.env.fs.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound("item", snapshot+"/"+item)
		}
		return nil, err
	}
	return s.newItem(item, dir, true), nil
}

func (s *Subject) existingSnapshot(name string) (string, error) {
	if cleanSnapshotName(name) != name || name == "" {
		return "", invalidName("snapshot", name, "is not a snapshot name")
	}
	path := s.snapshotPath(name)
	if _, err := s.env.fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", notFound("snapshot", name)
		}
		return "", err
	}
	return path, nil
}
