// Package parquet exports archive rows to Parquet files before retention
// deletes them, and reads those files back.
//
// Files are named archive-<cutoff>-<batch>.parquet. Values are stored as
// decimal strings so an exported row round-trips exactly.
package parquet
