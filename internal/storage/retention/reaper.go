package retention

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/vitals/config"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
)

// Exporter writes archive rows to cold storage before they are deleted.
// It returns the path of the written file.
type Exporter interface {
	Export(ctx context.Context, cutoff time.Time, batch int, rows []*types.ArchiveAggregate) (string, error)
}

// Options configures a Reaper.
type Options struct {
	// DeleteBatchSize is the number of rows removed per statement.
	DeleteBatchSize int

	// MaxRowsPerRun and MaxDurationPerRun bound one call.
	MaxRowsPerRun     int64
	MaxDurationPerRun time.Duration
}

// DefaultOptions returns the compiled-in reaper options.
func DefaultOptions() Options {
	return Options{
		DeleteBatchSize:   config.DefaultDeleteBatchSize,
		MaxRowsPerRun:     config.DefaultMaxRowsPerRun,
		MaxDurationPerRun: config.DefaultMaxDurationPerRun,
	}
}

// Result describes one delete call.
type Result struct {
	Cutoff    time.Time
	Rows      int64
	Batches   int
	Files     []string
	Exhausted bool
	Duration  time.Duration
}

// Reaper deletes rows strictly older than a cutoff in throttled batches.
// A call that runs out of budget returns what it removed so far; calling
// again with the same cutoff continues where it stopped.
type Reaper struct {
	store    *store.Store
	opts     Options
	exporter Exporter
	logger   *slog.Logger
}

// NewReaper creates a reaper.
func NewReaper(st *store.Store, opts Options) *Reaper {
	if opts.DeleteBatchSize <= 0 {
		opts.DeleteBatchSize = config.DefaultDeleteBatchSize
	}
	return &Reaper{
		store:  st,
		opts:   opts,
		logger: logging.Component("retention"),
	}
}

// WithExporter exports every archive batch before it is deleted.
func (r *Reaper) WithExporter(e Exporter) *Reaper {
	r.exporter = e
	return r
}

// NewBudget returns a fresh budget with the reaper's limits.
func (r *Reaper) NewBudget() *Budget {
	return NewBudget(r.opts.MaxRowsPerRun, r.opts.MaxDurationPerRun)
}

// DeleteLiveBefore deletes live samples recorded before cutoff.
func (r *Reaper) DeleteLiveBefore(ctx context.Context, cutoff time.Time) (Result, error) {
	budget := r.NewBudget()
	result := Result{Cutoff: cutoff.UTC()}

	for {
		if err := ctx.Err(); err != nil {
			return r.finish(result, budget), err
		}
		if budget.Exhausted() {
			result.Exhausted = true
			break
		}

		n, err := r.store.DeleteSamplesBefore(ctx, cutoff, budget.BatchLimit(r.opts.DeleteBatchSize))
		if err != nil {
			return r.finish(result, budget), err
		}
		if n == 0 {
			break
		}

		budget.Spend(n)
		result.Rows += n
		result.Batches++
	}

	result = r.finish(result, budget)
	r.logger.Info("live rows deleted",
		"cutoff", result.Cutoff.Format(time.DateOnly),
		"rows", result.Rows,
		"batches", result.Batches,
		"exhausted", result.Exhausted,
		"duration", result.Duration)
	return result, nil
}

// DeleteArchiveBefore deletes archive rows dated before cutoff. With an
// exporter, each batch is written to cold storage inside the batch
// transaction, and a failed export leaves the batch in place.
func (r *Reaper) DeleteArchiveBefore(ctx context.Context, cutoff time.Time) (Result, error) {
	budget := r.NewBudget()
	result := Result{Cutoff: types.Day(cutoff)}

	for {
		if err := ctx.Err(); err != nil {
			return r.finish(result, budget), err
		}
		if budget.Exhausted() {
			result.Exhausted = true
			break
		}

		var (
			n    int64
			file string
		)
		err := r.store.TransactionContext(ctx, func(tx *sql.Tx) error {
			rows, err := r.store.SelectArchiveBefore(ctx, tx, result.Cutoff, budget.BatchLimit(r.opts.DeleteBatchSize))
			if err != nil || len(rows) == 0 {
				return err
			}

			if r.exporter != nil {
				if file, err = r.exporter.Export(ctx, result.Cutoff, result.Batches, rows); err != nil {
					return fmt.Errorf("export archive batch: %w", err)
				}
			}

			ids := make([]uuid.UUID, len(rows))
			for i, row := range rows {
				ids[i] = row.ID
			}
			n, err = r.store.DeleteArchiveByIDs(ctx, tx, ids)
			return err
		})
		if err != nil {
			return r.finish(result, budget), err
		}
		if n == 0 {
			break
		}

		budget.Spend(n)
		result.Rows += n
		result.Batches++
		if file != "" {
			result.Files = append(result.Files, file)
		}
	}

	result = r.finish(result, budget)
	r.logger.Info("archive rows deleted",
		"cutoff", result.Cutoff.Format(time.DateOnly),
		"rows", result.Rows,
		"batches", result.Batches,
		"files", len(result.Files),
		"exhausted", result.Exhausted,
		"duration", result.Duration)
	return result, nil
}

func (r *Reaper) finish(result Result, budget *Budget) Result {
	result.Duration = budget.Elapsed()
	return result
}
