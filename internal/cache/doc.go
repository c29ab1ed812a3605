// Package cache provides a small LRU cache for decoded file metadata.
//
// Data files are immutable once published, so entries keyed by path, size
// and modification time never go stale; a rewritten file gets a new key.
package cache
