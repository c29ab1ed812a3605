package quiver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/format"
)

// Environment variables read when options do not say otherwise.
const (
	// EnvPath overrides the default storage root.
	EnvPath = "QUIVER_PATH"
	// EnvConfig names a YAML config file loaded before options are applied.
	EnvConfig = "QUIVER_CONFIG"
)

// Config is the file form of the options.
type Config struct {
	Root        string         `yaml:"root"`
	Codec       string         `yaml:"codec"`
	Compression string         `yaml:"compression"`
	Mmap        bool           `yaml:"mmap"`
	Log         LogConfig      `yaml:"log"`
	Resource    ResourceLimits `yaml:"resource"`
	Sample      SampleConfig   `yaml:"sample"`
}

// LogConfig selects the logger. Format is one of text, json or none.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ResourceLimits bounds memory, scan parallelism and snapshot/backup IO.
// Zero values mean unlimited, or GOMAXPROCS for MaxScanWorkers.
type ResourceLimits struct {
	MemoryLimitBytes   int64 `yaml:"memory_limit_bytes"`
	MaxScanWorkers     int   `yaml:"max_scan_workers"`
	IOLimitBytesPerSec int64 `yaml:"io_limit_bytes_per_sec"`
}

// SampleConfig holds the defaults of Subject.SuggestSchema.
type SampleConfig struct {
	Fraction float64 `yaml:"fraction"`
	MaxFiles int     `yaml:"max_files"`
}

// DefaultRoot returns $QUIVER_PATH, or ~/quiver.
func DefaultRoot() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "quiver"
	}
	return filepath.Join(home, "quiver")
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Root:        DefaultRoot(),
		Codec:       codec.Default.Name(),
		Compression: string(format.DefaultCompression),
		Log:         LogConfig{Level: "info", Format: "none"},
		Sample:      SampleConfig{Fraction: 0.1},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig. Unknown keys
// are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("quiver: read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("quiver: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigFromEnv loads $QUIVER_CONFIG when set and DefaultConfig otherwise.
// $QUIVER_PATH always wins over the root in the file.
func ConfigFromEnv() (Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return DefaultConfig(), nil
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, err
	}
	if p := os.Getenv(EnvPath); p != "" {
		cfg.Root = p
	}
	return cfg, nil
}

// Validate checks the names in the config.
func (c Config) Validate() error {
	if c.Codec != "" {
		if _, ok := codec.ByName(c.Codec); !ok {
			return fmt.Errorf("quiver: unknown codec %q (have %s)", c.Codec, strings.Join(codec.Names(), ", "))
		}
	}
	if c.Compression != "" {
		if _, err := format.ParseCompression(c.Compression); err != nil {
			return fmt.Errorf("quiver: %w", err)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "none", "text", "json":
	default:
		return fmt.Errorf("quiver: unknown log format %q", c.Log.Format)
	}
	if c.Sample.Fraction < 0 || c.Sample.Fraction > 1 {
		return fmt.Errorf("quiver: sample fraction %v outside [0, 1]", c.Sample.Fraction)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("quiver: log level: %w", err)
	}
	return l, nil
}

// Logger builds the logger described by the config.
func (c Config) Logger() *Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	switch strings.ToLower(c.Log.Format) {
	case "json":
		return NewJSONLogger(level)
	case "text":
		return NewTextLogger(level)
	default:
		return NoopLogger()
	}
}
