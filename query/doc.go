// Package query builds lazy plans over columnar data files and executes
// them.
//
// A Plan captures file paths, a schema hint, constant tag columns and a
// pipeline of operations. Nothing is read until Collect hands the plan to an
// Engine. The Executor engine scans files in parallel, casts each file to the
// schema hint when one is set, stacks the results under native union rules
// and then applies the operations in order. Filters evaluate to roaring
// bitmaps of matching rows.
//
// Schema conflicts are only detected during execution and are reported as
// *SchemaConflictError.
package query
