package archival

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/retention"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
)

// RunResult describes one daily run.
type RunResult struct {
	RunID string
	Plan  Plan

	// Results of the executed steps; nil when the step was not planned.
	Archive       *Result
	DeleteArchive *retention.Result
	DeleteLive    *retention.Result

	Duration time.Duration
}

// Rows returns the total rows removed from both tables.
func (r *RunResult) Rows() int64 {
	var n int64
	if r.Archive != nil {
		n += r.Archive.Rows
	}
	if r.DeleteArchive != nil {
		n += r.DeleteArchive.Rows
	}
	if r.DeleteLive != nil {
		n += r.DeleteLive.Rows
	}
	return n
}

// Runner executes the daily archival/retention run.
//
// Concurrent RunDaily calls are serialized.
type Runner struct {
	mu sync.Mutex

	store      *store.Store
	aggregator *Aggregator
	reaper     *retention.Reaper
	logger     *slog.Logger

	now func() time.Time
}

// NewRunner creates a runner.
func NewRunner(st *store.Store, aggregator *Aggregator, reaper *retention.Reaper) *Runner {
	return &Runner{
		store:      st,
		aggregator: aggregator,
		reaper:     reaper,
		logger:     logging.Component("archival"),
		now:        time.Now,
	}
}

// Plan reads the current setting and returns what a run at now would do.
func (r *Runner) Plan(ctx context.Context, now time.Time) (Plan, error) {
	setting, err := r.store.GetArchivalSetting(ctx)
	if err != nil {
		return Plan{}, err
	}
	return PlanFor(setting, now), nil
}

// RunDaily reads the archival setting once and executes its plan.
// Steps run in order; a failing step aborts the run and the next run
// resumes from the same cutoffs.
func (r *Runner) RunDaily(ctx context.Context) (*RunResult, error) {
	return r.RunDailyAt(ctx, r.now())
}

// RunDailyAt is RunDaily with cutoffs computed from now.
func (r *Runner) RunDailyAt(ctx context.Context, now time.Time) (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	result := &RunResult{RunID: uuid.NewString()}
	ctx = logging.ContextWithRunID(ctx, result.RunID)
	logger := logging.ComponentContext(ctx, "archival")

	setting, err := r.store.GetArchivalSetting(ctx)
	if err != nil {
		return result, fmt.Errorf("load archival setting: %w", err)
	}
	result.Plan = PlanFor(setting, now)

	logger.Info("daily run started",
		"state", result.Plan.State.String(),
		"setting", setting.String(),
		"plan", result.Plan.String())

	for _, step := range result.Plan.Steps {
		if err := r.runStep(ctx, step, result); err != nil {
			result.Duration = time.Since(started)
			logger.Error("daily run failed",
				"step", step.String(),
				"error", err,
				"duration", result.Duration)
			return result, fmt.Errorf("%s: %w", step.Kind, err)
		}
	}

	result.Duration = time.Since(started)
	logger.Info("daily run finished",
		"state", result.Plan.State.String(),
		"rows", result.Rows(),
		"duration", result.Duration)
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, step Step, result *RunResult) error {
	switch step.Kind {
	case StepArchive:
		res, err := r.aggregator.ArchiveDataBefore(ctx, step.Cutoff)
		result.Archive = &res
		return err
	case StepDeleteArchive:
		res, err := r.reaper.DeleteArchiveBefore(ctx, step.Cutoff)
		result.DeleteArchive = &res
		return err
	case StepDeleteLive:
		res, err := r.reaper.DeleteLiveBefore(ctx, step.Cutoff)
		result.DeleteLive = &res
		return err
	default:
		return fmt.Errorf("unknown step %s", step.Kind)
	}
}

// Setting returns the current archival setting.
func (r *Runner) Setting(ctx context.Context) (types.ArchivalSetting, error) {
	return r.store.GetArchivalSetting(ctx)
}

// UpdateSetting replaces the archival setting. The next run picks it up.
func (r *Runner) UpdateSetting(ctx context.Context, setting types.ArchivalSetting) (types.ArchivalSetting, error) {
	updated, err := r.store.UpdateArchivalSetting(ctx, setting)
	if err != nil {
		return types.ArchivalSetting{}, err
	}
	r.logger.Info("archival setting updated",
		"setting", updated.String(),
		"state", PolicyState(updated).String())
	return updated, nil
}
