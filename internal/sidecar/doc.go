// Package sidecar persists the small JSON documents that sit next to data
// files: library, subject and item metadata, subject settings and canonical
// schemas.
//
// Every sidecar is wrapped in an envelope that records the format version, the
// codec that wrote it and the time of the write:
//
//	{"version": 1, "codec": "go-json", "updated_at": "...", "data": {...}}
//
// A bare JSON object with no "version" key, the shape older tools write by
// hand with an optional "_updated" stamp, is accepted as the payload itself.
// Load drops the stamp; the next Save rewrites the file as an envelope.
//
// Saves go through [fs.WriteFileAtomic], so a reader never observes a torn
// document and concurrent saves resolve as last-writer-wins.
package sidecar
