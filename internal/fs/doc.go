// Package fs provides the filesystem seam used by every on-disk component.
//
//   - [FileSystem]: open, remove, rename, link, stat, mkdir, readdir
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test wrapper that injects I/O errors by path pattern
//
// [WriteFileAtomic] implements the temp-file + fsync + rename protocol used for
// sidecars, manifests and the CURRENT pointer.
//
// Tests inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("CURRENT", fs.Fault{FailOnRename: true})
//
// Operations take no context.Context: local filesystem calls are short and not
// interruptible at the syscall level.
package fs
