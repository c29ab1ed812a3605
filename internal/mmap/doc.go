// Package mmap maps Parquet data files read-only so the reader can decode
// footers and pages without copying them through a file handle.
//
//	f, err := mmap.Open(path, mmap.Sequential)
//	if err != nil { ... }
//	defer f.Close()
//	pf, err := parquet.OpenFile(f, f.Size())
package mmap
