package quiver

import (
	"log/slog"
	"time"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/format"
	"github.com/quiverdb/quiver/internal/fs"
	"github.com/quiverdb/quiver/query"
	"github.com/quiverdb/quiver/reconcile"
)

type options struct {
	root             string
	codec            codec.Codec
	compression      format.Compression
	mmap             bool
	resource         ResourceLimits
	sample           reconcile.SampleOptions
	fsys             fs.FileSystem
	engine           query.Engine
	metricsCollector MetricsCollector
	logger           *Logger
	now              func() time.Time
	err              error
}

// Option configures how libraries are opened.
type Option func(*options)

// WithRoot sets the directory holding all libraries.
func WithRoot(root string) Option {
	return func(o *options) {
		o.root = root
	}
}

// WithConfig applies a Config. Options given after it override its values.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if err := cfg.Validate(); err != nil {
			o.err = err
			return
		}
		if cfg.Root != "" {
			o.root = cfg.Root
		}
		if c, ok := codec.ByName(cfg.Codec); ok && cfg.Codec != "" {
			o.codec = c
		}
		if cfg.Compression != "" {
			o.compression, _ = format.ParseCompression(cfg.Compression)
		}
		o.mmap = cfg.Mmap
		o.resource = cfg.Resource
		o.sample.Fraction = cfg.Sample.Fraction
		o.sample.MaxFiles = cfg.Sample.MaxFiles
		o.logger = cfg.Logger()
	}
}

// WithCodec configures the codec used for new metadata sidecars.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the compression of new data files.
func WithCompression(c format.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMmap reads data files through memory mappings.
func WithMmap(enabled bool) Option {
	return func(o *options) {
		o.mmap = enabled
	}
}

// WithResource sets memory, parallelism and IO limits.
func WithResource(limits ResourceLimits) Option {
	return func(o *options) {
		o.resource = limits
	}
}

// WithSampleOptions sets the defaults of Subject.SuggestSchema.
func WithSampleOptions(s reconcile.SampleOptions) Option {
	return func(o *options) {
		o.sample = s
	}
}

// WithFileSystem routes all file access through fsys. Tests use it to
// inject faults.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fsys = fsys
	}
}

// WithEngine replaces the query engine.
func WithEngine(e query.Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &quiver.BasicMetricsCollector{}
//	lib, _ := quiver.OpenLibrary("prices", quiver.WithMetricsCollector(metrics))
//	// ... use lib ...
//	stats := metrics.GetStats()
//	fmt.Printf("Writes: %d, Avg latency: %dns\n", stats.WriteCount, stats.WriteAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithClock overrides the time source used for metadata stamps and
// snapshot names.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(optFns []Option) (options, error) {
	o := options{
		codec:            codec.Default,
		compression:      format.DefaultCompression,
		fsys:             fs.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
	}
	cfg, err := ConfigFromEnv()
	if err != nil {
		return options{}, err
	}
	WithConfig(cfg)(&o)
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.err != nil {
		return options{}, o.err
	}
	return o, nil
}
