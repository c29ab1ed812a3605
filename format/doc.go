// Package format reads and writes the immutable columnar data files.
//
// Files are Apache Parquet. Every column is written as an optional leaf so
// that nulls survive, and the logical table schema (names, order, types) is
// embedded as JSON in the footer under [SchemaKey]. Reading a file's schema
// therefore touches only the footer. Files written by other tools have no
// embedded schema and fall back to a mapping of their physical types.
package format
