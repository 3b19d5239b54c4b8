package archival

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/vitals/config"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/retention"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
)

// Options configures an Aggregator.
type Options struct {
	// SourceBatchSize is the number of data sources picked per batch.
	SourceBatchSize int

	// RowsPerBatch caps the live rows summarized in one transaction.
	RowsPerBatch int

	// MaxRowsPerRun and MaxDurationPerRun bound one ArchiveDataBefore call.
	MaxRowsPerRun     int64
	MaxDurationPerRun time.Duration
}

// DefaultOptions returns the compiled-in aggregator options.
func DefaultOptions() Options {
	return Options{
		SourceBatchSize:   config.DefaultSourceBatchSize,
		RowsPerBatch:      config.DefaultRowsPerBatch,
		MaxRowsPerRun:     config.DefaultMaxRowsPerRun,
		MaxDurationPerRun: config.DefaultMaxDurationPerRun,
	}
}

// Result describes one ArchiveDataBefore call.
type Result struct {
	Cutoff time.Time

	// Rows is the number of live rows archived and deleted.
	Rows    int64
	Groups  int64
	Batches int

	// Unarchivable is the number of live rows before the cutoff that were
	// left in place because their series type cannot be summarized.
	Unarchivable int64

	Exhausted bool
	Duration  time.Duration
}

// Aggregator rolls live samples into daily archive rows.
type Aggregator struct {
	store  *store.Store
	opts   Options
	series []types.SeriesType
	logger *slog.Logger

	stats Stats
}

// Stats holds aggregator statistics across calls.
type Stats struct {
	Runs         atomic.Int64
	BatchesDone  atomic.Int64
	RowsArchived atomic.Int64
	GroupsMerged atomic.Int64
	Failures     atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Runs         int64
	BatchesDone  int64
	RowsArchived int64
	GroupsMerged int64
	Failures     int64
}

// NewAggregator creates an aggregator.
func NewAggregator(st *store.Store, opts Options) *Aggregator {
	if opts.SourceBatchSize <= 0 {
		opts.SourceBatchSize = config.DefaultSourceBatchSize
	}
	if opts.RowsPerBatch <= 0 {
		opts.RowsPerBatch = config.DefaultRowsPerBatch
	}
	return &Aggregator{
		store:  st,
		opts:   opts,
		series: types.ArchivableSeriesTypes(),
		logger: logging.Component("archival"),
	}
}

// Stats returns a snapshot of the aggregator statistics.
func (a *Aggregator) Stats() StatsSnapshot {
	return StatsSnapshot{
		Runs:         a.stats.Runs.Load(),
		BatchesDone:  a.stats.BatchesDone.Load(),
		RowsArchived: a.stats.RowsArchived.Load(),
		GroupsMerged: a.stats.GroupsMerged.Load(),
		Failures:     a.stats.Failures.Load(),
	}
}

// ArchiveDataBefore archives live rows recorded before the UTC day of
// cutoff. Each batch summarizes, upserts and deletes in one transaction.
// The call stops once the run budget is spent; calling it again with the
// same cutoff continues with the remaining rows.
func (a *Aggregator) ArchiveDataBefore(ctx context.Context, cutoff time.Time) (Result, error) {
	a.stats.Runs.Add(1)

	budget := retention.NewBudget(a.opts.MaxRowsPerRun, a.opts.MaxDurationPerRun)
	result := Result{Cutoff: types.Day(cutoff)}
	logger := logging.ComponentContext(ctx, "archival")

	for {
		if err := ctx.Err(); err != nil {
			return a.finish(result, budget), err
		}
		if budget.Exhausted() {
			result.Exhausted = true
			break
		}

		rows, groups, err := a.archiveBatch(ctx, result.Cutoff, budget.BatchLimit(a.opts.RowsPerBatch))
		if err != nil {
			a.stats.Failures.Add(1)
			return a.finish(result, budget), fmt.Errorf("archive batch %d: %w", result.Batches, err)
		}
		if rows == 0 {
			break
		}

		budget.Spend(rows)
		result.Rows += rows
		result.Groups += groups
		result.Batches++

		a.stats.BatchesDone.Add(1)
		a.stats.RowsArchived.Add(rows)

		logger.Debug("archive batch committed",
			"batch", result.Batches,
			"rows", rows,
			"groups", groups)
	}

	unarchivable, err := a.store.CountSamplesExcluding(ctx, result.Cutoff, a.series)
	if err != nil {
		return a.finish(result, budget), err
	}
	result.Unarchivable = unarchivable
	if unarchivable > 0 {
		logger.Warn("live rows kept: series type cannot be archived",
			"cutoff", result.Cutoff.Format(time.DateOnly),
			"rows", unarchivable)
	}

	result = a.finish(result, budget)
	logger.Info("live rows archived",
		"cutoff", result.Cutoff.Format(time.DateOnly),
		"rows", result.Rows,
		"groups", result.Groups,
		"batches", result.Batches,
		"exhausted", result.Exhausted,
		"duration", result.Duration)
	return result, nil
}

// archiveBatch stages, summarizes, merges, upserts and deletes one batch.
func (a *Aggregator) archiveBatch(ctx context.Context, cutoff time.Time, rowLimit int) (rows, groups int64, err error) {
	err = a.store.TransactionContext(ctx, func(tx *sql.Tx) error {
		staged, err := a.store.StageArchiveBatch(ctx, tx, cutoff, a.series, a.opts.SourceBatchSize, rowLimit)
		if err != nil || staged == 0 {
			return err
		}

		batch, err := a.store.ArchiveBatchGroups(ctx, tx)
		if err != nil {
			return err
		}

		aggs, err := a.summarize(ctx, tx, batch)
		if err != nil {
			return err
		}
		if err := a.store.UpsertArchiveAggregates(ctx, tx, aggs); err != nil {
			return err
		}

		if rows, err = a.store.DeleteArchivedSamples(ctx, tx, a.series); err != nil {
			return err
		}
		if rows != staged {
			return fmt.Errorf("deleted %d live rows, staged %d", rows, staged)
		}
		groups = int64(len(aggs))

		return a.store.DropArchiveBatch(ctx, tx)
	})
	if err != nil {
		return 0, 0, err
	}
	return rows, groups, nil
}

// summarize turns staged groups into archive rows, merged with the rows
// already archived for the same key.
func (a *Aggregator) summarize(ctx context.Context, tx *sql.Tx, batch []*store.ArchiveGroup) ([]*types.ArchiveAggregate, error) {
	aggs := make([]*types.ArchiveAggregate, 0, len(batch))
	ids := make([]uuid.UUID, 0, len(batch))

	for _, g := range batch {
		method := g.SeriesType.Method()
		if !method.Archivable() {
			return nil, fmt.Errorf("staged series type %s has method %s", g.SeriesType, method)
		}

		value, err := method.Select(g.Avg(), g.Min, g.Max, g.Sum)
		if err != nil {
			return nil, err
		}

		id := types.ArchiveID(g.DataSourceID, g.SeriesType, g.Date)
		aggs = append(aggs, &types.ArchiveAggregate{
			ID:           id,
			DataSourceID: g.DataSourceID,
			SeriesType:   g.SeriesType,
			Date:         g.Date,
			Value:        value,
			SampleCount:  g.Count,
		})
		ids = append(ids, id)
	}

	existing, err := a.store.GetArchiveAggregates(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	for _, agg := range aggs {
		prev, ok := existing[agg.ID]
		if !ok {
			continue
		}
		agg.Value, agg.SampleCount, err = agg.SeriesType.Method().Merge(prev.Value, prev.SampleCount, agg.Value, agg.SampleCount)
		if err != nil {
			return nil, err
		}
		a.stats.GroupsMerged.Add(1)
	}

	return aggs, nil
}

func (a *Aggregator) finish(result Result, budget *retention.Budget) Result {
	result.Duration = budget.Elapsed()
	return result
}
