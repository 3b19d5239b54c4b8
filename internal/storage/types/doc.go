// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - SeriesType: A metric kind with a stable id and an AggregationMethod
//   - Provider, DeviceType: Source classification used for priority tie-breaks
//   - DataSource: The (user, device model, source) identity samples belong to
//   - Sample, SampleInput: One stored point and its normalized ingestion shape
//   - ArchiveAggregate: One daily summary row per (source, series type, date)
//   - ArchivalSetting: The singleton archival/retention policy
//   - Distribution: Aggregated statistics with optional percentiles
package types
