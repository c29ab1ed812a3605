package quiver

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/xid"

	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/internal/resource"
)

// BackupCompression selects the stream compression of a library backup.
type BackupCompression string

const (
	BackupZstd BackupCompression = "zstd"
	BackupLZ4  BackupCompression = "lz4"
	BackupNone BackupCompression = "none"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ParseBackupCompression parses a compression name. The empty name selects
// zstd.
func ParseBackupCompression(name string) (BackupCompression, error) {
	switch c := BackupCompression(strings.ToLower(name)); c {
	case "":
		return BackupZstd, nil
	case BackupZstd, BackupLZ4, BackupNone:
		return c, nil
	}
	return "", fmt.Errorf("unknown backup compression %q", name)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressor(w io.Writer, c BackupCompression) (io.WriteCloser, error) {
	switch c {
	case BackupZstd, "":
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case BackupLZ4:
		return lz4.NewWriter(w), nil
	case BackupNone:
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("unknown backup compression %q", c)
}

// backup streams every file below dir into w as a compressed tar archive.
// Entry names are relative to dir. Temp files are skipped.
func backup(ctx context.Context, e *env, dir string, w io.Writer, c BackupCompression) (err error) {
	var files int
	var written int64
	defer func() {
		e.logger.LogBackup(ctx, "backup", files, written, err)
	}()

	cw, err := compressor(resource.NewRateLimitedWriter(ctx, w, e.rc), c)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	err = walkFiles(e.fs, dir, nil, func(p string, info os.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasSuffix(p, fs.TempSuffix) || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("file header: %w", err)
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", rel, err)
		}
		f, err := e.fs.OpenFile(p, os.O_RDONLY, 0)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(tw, f)
		if err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		files++
		written += n
		return nil
	})
	err = errors.Join(err, tw.Close(), cw.Close())
	return err
}

// RestoreLibrary extracts a backup written by Library.Backup into a new
// library called name. The compression is detected from the stream. An
// existing library is never overwritten.
func RestoreLibrary(ctx context.Context, r io.Reader, name string, opts ...Option) (lib *Library, err error) {
	if err := validateName("library", name); err != nil {
		return nil, err
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	e := newEnv(o)

	var files int
	var read int64
	defer func() {
		e.logger.WithLibrary(name).LogBackup(ctx, "restore", files, read, err)
	}()

	dst := filepath.Join(o.root, name)
	if ok, err := fs.Exists(o.fsys, dst); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: library %q", ErrExists, name)
	}

	br := bufio.NewReader(resource.NewRateLimitedReader(ctx, r, e.rc))
	src, closeSrc, err := decompressor(br)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	tmp := filepath.Join(o.root, "."+name+"."+xid.New().String())
	defer func() {
		if err != nil {
			_ = o.fsys.RemoveAll(tmp)
		}
	}()

	tr := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &CorruptError{Path: name, cause: fmt.Errorf("read archive: %w", err)}
		}
		target, err := entryPath(tmp, hdr.Name)
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := o.fsys.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			var n int64
			err := fs.WriteAtomic(o.fsys, target, 0o644, func(w io.Writer) error {
				var cerr error
				n, cerr = io.Copy(w, tr)
				return cerr
			})
			if err != nil {
				return nil, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			files++
			read += n
		}
	}

	if err := o.fsys.MkdirAll(tmp, 0o755); err != nil {
		return nil, err
	}
	if err := o.fsys.Rename(tmp, dst); err != nil {
		return nil, err
	}
	return OpenLibrary(name, opts...)
}

func decompressor(br *bufio.Reader) (io.Reader, func(), error) {
	magic, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	switch {
	case bytes.Equal(magic, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case bytes.Equal(magic, lz4Magic):
		return lz4.NewReader(br), func() {}, nil
	}
	return br, func() {}, nil
}

// entryPath resolves an archive entry below dir and rejects entries that
// would escape it.
func entryPath(dir, name string) (string, error) {
	slash := filepath.ToSlash(name)
	if slash == "" || path.IsAbs(slash) || slices.Contains(strings.Split(slash, "/"), "..") {
		return "", &CorruptError{Path: name, cause: errors.New("archive entry escapes the library")}
	}
	return filepath.Join(dir, filepath.FromSlash(path.Clean(slash))), nil
}
