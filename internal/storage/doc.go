// Package storage implements per-user wearable time-series storage with
// deterministic conflict resolution and a scheduled archival lifecycle.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│   Source    │────▶│   DuckDB    │
//	│   Writer    │     │  Resolver   │     │    Store    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                                          │       ▲
//	                    ┌─────────────┐       │       │
//	                    │   Archival  │◀──────┘       │
//	                    │   Runner    │───────────────┘
//	                    └─────────────┘
//	                      │         │
//	                      ▼         ▼
//	              ┌───────────┐ ┌───────────┐
//	              │ Aggregator│ │  Reaper   │──▶ Parquet export
//	              └───────────┘ └───────────┘
//
// The storage system provides:
//   - Idempotent ingestion keyed by (data source, series type, recorded_at)
//   - Keyset pagination, per-type aggregates and bucketed activity queries
//   - Latest-value lookups resolved by provider and device-type priority
//   - Daily rollups of aged samples into archive rows (SUM, AVG or MAX)
//   - Throttled, resumable retention of live and archive rows
//   - DDSketch-based percentile distributions
//   - Cold Parquet export of archive rows before deletion
package storage
