package quiver

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// PrometheusCollector is the Prometheus implementation.
type MetricsCollector interface {
	// RecordWrite is called after each write.
	// files and rows count what was committed; err is nil if successful.
	RecordWrite(files int, rows int64, duration time.Duration, err error)

	// RecordAppend is called after each append.
	RecordAppend(files int, rows int64, duration time.Duration, err error)

	// RecordQuery is called after each materialization.
	// files is the number of files the plan captured.
	RecordQuery(files, rows int, duration time.Duration, err error)

	// RecordSchema is called after each schema inference.
	RecordSchema(files int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWrite(int, int64, time.Duration, error)  {}
func (NoopMetricsCollector) RecordAppend(int, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordQuery(int, int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordSchema(int, time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	WriteCount      atomic.Int64
	WriteErrors     atomic.Int64
	WriteRows       atomic.Int64
	WriteFiles      atomic.Int64
	WriteTotalNanos atomic.Int64
	AppendCount     atomic.Int64
	AppendErrors    atomic.Int64
	AppendRows      atomic.Int64
	AppendFiles     atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryRows       atomic.Int64
	QueryTotalNanos atomic.Int64
	SchemaCount     atomic.Int64
	SchemaErrors    atomic.Int64
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(files int, rows int64, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
		return
	}
	b.WriteRows.Add(rows)
	b.WriteFiles.Add(int64(files))
}

// RecordAppend implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAppend(files int, rows int64, duration time.Duration, err error) {
	b.AppendCount.Add(1)
	if err != nil {
		b.AppendErrors.Add(1)
		return
	}
	b.AppendRows.Add(rows)
	b.AppendFiles.Add(int64(files))
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(files, rows int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
		return
	}
	b.QueryRows.Add(int64(rows))
}

// RecordSchema implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSchema(files int, duration time.Duration, err error) {
	b.SchemaCount.Add(1)
	if err != nil {
		b.SchemaErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		WriteCount:    b.WriteCount.Load(),
		WriteErrors:   b.WriteErrors.Load(),
		WriteRows:     b.WriteRows.Load(),
		WriteFiles:    b.WriteFiles.Load(),
		WriteAvgNanos: avg(b.WriteTotalNanos.Load(), b.WriteCount.Load()),
		AppendCount:   b.AppendCount.Load(),
		AppendErrors:  b.AppendErrors.Load(),
		AppendRows:    b.AppendRows.Load(),
		AppendFiles:   b.AppendFiles.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryRows:     b.QueryRows.Load(),
		QueryAvgNanos: avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		SchemaCount:   b.SchemaCount.Load(),
		SchemaErrors:  b.SchemaErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	WriteCount    int64
	WriteErrors   int64
	WriteRows     int64
	WriteFiles    int64
	WriteAvgNanos int64
	AppendCount   int64
	AppendErrors  int64
	AppendRows    int64
	AppendFiles   int64
	QueryCount    int64
	QueryErrors   int64
	QueryRows     int64
	QueryAvgNanos int64
	SchemaCount   int64
	SchemaErrors  int64
}
