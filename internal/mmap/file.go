package mmap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Advice tells the kernel how a mapped file will be read.
type Advice int

const (
	Normal Advice = iota
	// Sequential suits full scans of a data file.
	Sequential
	// Random suits footer lookups and projected column reads.
	Random
	WillNeed
)

var (
	ErrClosed        = errors.New("mmap: file is closed")
	ErrTooLarge      = errors.New("mmap: file too large to map")
	ErrInvalidOffset = errors.New("mmap: negative offset")
)

// File is a read-only mapped data file. Reads are safe for concurrent use;
// Close is idempotent.
type File struct {
	name    string
	data    []byte
	closed  atomic.Bool
	release func([]byte) error
}

// Open maps the file at path and applies advice. Advice is a hint; a kernel
// that rejects it does not fail the open.
func Open(path string, advice Advice) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if int64(int(size)) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, path, size)
	}
	m := &File{name: path}
	if size == 0 {
		return m, nil
	}
	if m.data, m.release, err = mapFile(f, int(size)); err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	_ = advise(m.data, advice)
	return m, nil
}

// Name returns the path the file was opened with.
func (m *File) Name() string { return m.name }

// Size returns the mapped length.
func (m *File) Size() int64 { return int64(len(m.data)) }

// ReadAt implements io.ReaderAt over the mapping.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file.
func (m *File) Close() error {
	if m.closed.Swap(true) || m.data == nil {
		return nil
	}
	return m.release(m.data)
}
