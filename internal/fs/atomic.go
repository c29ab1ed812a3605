package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/xid"
)

// TempSuffix marks files that are still being written.
const TempSuffix = ".tmp"

// WriteFileAtomic writes data to a temp file in the same directory, syncs it
// and renames it over name. Readers see either the old or the new content.
func WriteFileAtomic(fsys FileSystem, name string, data []byte, perm os.FileMode) error {
	return WriteAtomic(fsys, name, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic is WriteFileAtomic with a streaming writer.
func WriteAtomic(fsys FileSystem, name string, perm os.FileMode, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(name)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := TempName(name)
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = fsys.Remove(tmp)
		}
	}()

	if err = write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = fsys.Rename(tmp, name); err != nil {
		return err
	}
	return SyncDir(fsys, dir)
}

// TempName returns a unique temp path next to name.
func TempName(name string) string {
	return name + "." + xid.New().String() + TempSuffix
}

// SyncDir fsyncs a directory so a completed rename survives a crash.
// File systems that cannot open directories are tolerated.
func SyncDir(fsys FileSystem, dir string) error {
	d, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}

// CopyFile copies src to dst through an atomic write.
func CopyFile(fsys FileSystem, src, dst string, wrap func(io.Writer) io.Writer) error {
	in, err := fsys.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer in.Close()
	return WriteAtomic(fsys, dst, 0o644, func(w io.Writer) error {
		if wrap != nil {
			w = wrap(w)
		}
		_, err := io.Copy(w, in)
		return err
	})
}
