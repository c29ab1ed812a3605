package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/quiverdb/quiver/table"
)

const (
	// Ext is the data file extension.
	Ext = ".parquet"

	// SchemaKey is the footer key that carries the embedded table schema.
	SchemaKey = "quiver.schema"

	rootName = "quiver"
)

var (
	// ErrCorrupt is returned when a data file cannot be decoded.
	ErrCorrupt = errors.New("data file corrupt")

	// ErrUnknownCompression is returned for unsupported compression names.
	ErrUnknownCompression = errors.New("unknown compression")
)

// Compression names a page compression codec.
type Compression string

const (
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
	CompressionGzip   Compression = "gzip"
	CompressionLZ4    Compression = "lz4"
	CompressionNone   Compression = "none"
)

// DefaultCompression is used when none is configured.
const DefaultCompression = CompressionSnappy

// ParseCompression validates a compression name. Empty selects the default.
func ParseCompression(name string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(name))); c {
	case "":
		return DefaultCompression, nil
	case CompressionSnappy, CompressionZstd, CompressionGzip, CompressionLZ4, CompressionNone:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

func (c Compression) codec() compress.Codec {
	switch c {
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionNone:
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}

// Footer is the metadata of one data file.
type Footer struct {
	Schema  table.Schema
	NumRows int64
	Size    int64
	// Embedded reports whether the schema came from SchemaKey rather than
	// from the physical parquet types.
	Embedded bool
}

func leafNode(t table.DataType) parquet.Node {
	switch t {
	case table.TypeBool:
		return parquet.Leaf(parquet.BooleanType)
	case table.TypeInt32:
		return parquet.Leaf(parquet.Int32Type)
	case table.TypeInt64:
		return parquet.Leaf(parquet.Int64Type)
	case table.TypeFloat32:
		return parquet.Leaf(parquet.FloatType)
	case table.TypeFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case table.TypeTimestamp:
		return parquet.Timestamp(parquet.Nanosecond)
	default:
		// Strings, and all-null columns which have no better physical type.
		return parquet.String()
	}
}

// parquetSchema builds the physical schema for s.
func parquetSchema(s table.Schema) *parquet.Schema {
	group := make(parquet.Group, s.Len())
	for _, f := range s.Fields {
		group[f.Name] = parquet.Optional(leafNode(f.Type))
	}
	return parquet.NewSchema(rootName, group)
}

func encodeSchema(s table.Schema) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSchema(raw string) (table.Schema, error) {
	var s table.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return table.Schema{}, err
	}
	return table.NewSchema(s.Fields...)
}

// physicalSchema maps the top-level leaves of a foreign file to table types.
func physicalSchema(s *parquet.Schema) (table.Schema, error) {
	var fields []table.Field
	for _, f := range s.Fields() {
		if !f.Leaf() {
			return table.Schema{}, fmt.Errorf("nested column %q is not supported", f.Name())
		}
		fields = append(fields, table.Field{
			Name:     f.Name(),
			Type:     physicalType(f.Type()),
			Nullable: f.Optional(),
		})
	}
	return table.NewSchema(fields...)
}

func physicalType(t parquet.Type) table.DataType {
	if lt := t.LogicalType(); lt != nil && lt.Timestamp != nil {
		return table.TypeTimestamp
	}
	switch t.Kind() {
	case parquet.Boolean:
		return table.TypeBool
	case parquet.Int32:
		return table.TypeInt32
	case parquet.Int64:
		return table.TypeInt64
	case parquet.Float:
		return table.TypeFloat32
	case parquet.Double:
		return table.TypeFloat64
	default:
		return table.TypeString
	}
}
