// Package quiver provides an embedded, filesystem-backed store for
// partitioned tabular datasets.
//
// Data is organized as Library → Subject → Item. An item is a directory of
// partition subdirectories, each holding immutable Parquet files. Writes
// replace an item atomically; appends only add files.
//
// # Quick Start
//
//	lib, _ := quiver.OpenLibrary("markets", quiver.WithRoot("./data"))
//	prices, _ := lib.CreateSubject("prices", quiver.WithPartitionKey("year"))
//	aapl, _ := prices.CreateItem("AAPL")
//
//	t, _ := table.FromRecords([]map[string]any{
//	    {"year": 2024, "day": "2024-01-02", "close": 185.6},
//	})
//	_ = aapl.Write(ctx, t, quiver.WithMetadata(map[string]any{"exchange": "NASDAQ"}))
//	_ = aapl.Append(ctx, more)
//
// # Queries
//
// Queries are lazy. Building a plan lists directories only; files are read
// when the plan is materialized:
//
//	p, _ := aapl.Query()
//	out, _ := aapl.Materialize(ctx, p.Where("close", query.OpGreaterThan, 180).Select("day", "close"))
//
// FullSubject unions every item of a subject and tags each row with its item
// name in the "_item" column:
//
//	all, _ := prices.FullSubject()
//	out, _ := prices.Materialize(ctx, all.Where("year", query.OpEqual, 2024))
//
// # Schema Drift
//
// Files written at different times may disagree on column types. Without a
// canonical schema the union fails with ErrSchemaConflict when the plan is
// materialized. SuggestSchema samples file footers and widens the observed
// types; WriteSchema stores the result so that every file is cast on read:
//
//	schema, _ := prices.SuggestSchema(ctx, reconcile.SampleOptions{Fraction: 0.2})
//	_ = prices.WriteSchema(schema)
//
// # Durability
//
// Every Write commits a new generation. The new files are written first and
// published by atomically replacing the item's CURRENT file; a failed write
// leaves the previous generation visible and returns ErrWriteAborted.
// Concurrent Write calls on one item must be serialized by the caller.
//
// # Key Features
//
//   - Atomic full replace and additive append
//   - Hive-style partition directories
//   - Lazy plans with projection pushdown and parallel scans
//   - Canonical schemas with cast-on-read
//   - Hard-linked snapshots and compressed backups
//   - SQL pivots through an embedded SQLite engine
//   - Structured logging and Prometheus metrics
package quiver
