// Package manifest publishes item generations.
//
// # Atomic Protocol
//
// Commit follows a two-phase protocol:
//
//  1. Write MANIFEST-NNNNNN.json (N is the generation) via temp file + rename
//  2. Atomically replace the CURRENT pointer file with the new manifest name
//
// Readers resolve the visible generation from CURRENT alone, so a crash or a
// failure before step 2 leaves the previous generation in place. Data files
// that carry a generation other than the current one are invisible and may be
// garbage-collected by the writer.
//
// Init publishes a first generation only when no CURRENT exists. CURRENT is
// created by hard-linking a finished temp file, so of several racing callers
// exactly one succeeds.
//
// # Thread Safety
//
// Store methods that mutate state are protected by a mutex. Cross-process
// writers are not coordinated.
package manifest
