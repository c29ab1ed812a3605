// Package resource bounds the resources used by scans, writes and copies.
//
//   - Memory: a weighted semaphore caps the file bytes materialized at once
//   - Concurrency: ScanWorkers bounds parallel file scans and partition writes
//   - IO: a token bucket throttles snapshot copies and backups
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   1 << 30,
//	    IOLimitBytesPerSec: 100 << 20,
//	})
//
//	n, err := rc.AcquireMemory(ctx, fileSize)
//	if err != nil {
//	    return err
//	}
//	defer rc.ReleaseMemory(n)
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
