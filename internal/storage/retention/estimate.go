package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	verrors "github.com/xtxerr/vitals/internal/errors"
	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
)

// Estimate is a storage report for capacity planning.
type Estimate struct {
	GeneratedAt time.Time

	Live    store.TableStats
	Archive store.TableStats

	// Live date span as stored, not as configured.
	LiveFirst    time.Time
	LiveLast     time.Time
	LiveSpanDays float64

	// Archive date span.
	ArchiveFirst    time.Time
	ArchiveLast     time.Time
	ArchiveSpanDays float64

	// DailyLiveBytes and DailyArchiveBytes are observed growth per day.
	DailyLiveBytes    int64
	DailyArchiveBytes int64

	Setting    types.ArchivalSetting
	Projection Projection
}

// Projection is the steady-state footprint under the current setting.
type Projection struct {
	// LiveHorizonDays and ArchiveHorizonDays are the ages at which rows
	// leave each table; 0 with the matching Unbounded flag set means
	// they never do, and 0 archive days without it means no archive.
	LiveHorizonDays    int
	ArchiveHorizonDays int
	LiveUnbounded      bool
	ArchiveUnbounded   bool

	LiveBytes    int64
	ArchiveBytes int64
}

// Bounded reports whether storage stops growing under the setting.
func (p Projection) Bounded() bool {
	return !p.LiveUnbounded && !p.ArchiveUnbounded
}

// TotalBytes returns the projected footprint of both tables.
func (p Projection) TotalBytes() int64 {
	return p.LiveBytes + p.ArchiveBytes
}

// Estimator measures the sample and archive tables.
type Estimator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewEstimator creates an estimator.
func NewEstimator(st *store.Store) *Estimator {
	return &Estimator{
		store:  st,
		logger: logging.Component("retention"),
	}
}

// Estimate measures both tables concurrently. Missing or empty tables and
// a missing setting yield zero values rather than errors.
func (e *Estimator) Estimate(ctx context.Context, now time.Time) (*Estimate, error) {
	est := &Estimate{GeneratedAt: now.UTC()}

	var liveOK, archiveOK bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		est.Live, err = e.store.GetTableStats(gctx, "samples")
		return err
	})
	g.Go(func() error {
		var err error
		est.Archive, err = e.store.GetTableStats(gctx, "archive_aggregates")
		return err
	})
	g.Go(func() error {
		var err error
		est.LiveFirst, est.LiveLast, liveOK, err = e.store.LiveDateSpan(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		est.ArchiveFirst, est.ArchiveLast, archiveOK, err = e.store.ArchiveDateSpan(gctx)
		return err
	})
	g.Go(func() error {
		setting, err := e.store.GetArchivalSetting(gctx)
		if errors.Is(err, verrors.ErrSettingsNotFound) {
			return nil
		}
		est.Setting = setting
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("estimate storage: %w", err)
	}

	if liveOK {
		est.LiveSpanDays = spanDays(est.LiveFirst, est.LiveLast)
		est.DailyLiveBytes = int64(float64(est.Live.DataBytes+est.Live.IndexBytes) / est.LiveSpanDays)
	}
	if archiveOK {
		est.ArchiveSpanDays = spanDays(est.ArchiveFirst, est.ArchiveLast)
		est.DailyArchiveBytes = int64(float64(est.Archive.DataBytes+est.Archive.IndexBytes) / est.ArchiveSpanDays)
	}

	est.Projection = project(est.Setting, est.DailyLiveBytes, est.DailyArchiveBytes)

	e.logger.Debug("storage estimated",
		"live_rows", est.Live.Rows,
		"archive_rows", est.Archive.Rows,
		"daily_live", formatBytes(est.DailyLiveBytes),
		"bounded", est.Projection.Bounded())
	return est, nil
}

// spanDays returns the covered days between first and last, at least one.
func spanDays(first, last time.Time) float64 {
	return math.Max(last.Sub(first).Hours()/24, 1)
}

// project computes the steady-state horizons of each table. Archival only
// shortens the live horizon when rows reach the archive before they are
// deleted.
func project(setting types.ArchivalSetting, dailyLive, dailyArchive int64) Projection {
	var p Projection

	archive, del := setting.ArchiveAfterDays, setting.DeleteAfterDays
	archives := archive != nil && (del == nil || *del > *archive)

	switch {
	case archives:
		p.LiveHorizonDays = *archive
		if del != nil {
			p.ArchiveHorizonDays = *del - *archive
		} else {
			p.ArchiveUnbounded = true
		}
	case del != nil:
		p.LiveHorizonDays = *del
	default:
		p.LiveUnbounded = true
	}

	p.LiveBytes = dailyLive * int64(p.LiveHorizonDays)
	p.ArchiveBytes = dailyArchive * int64(p.ArchiveHorizonDays)
	return p
}

// Format renders the estimate as text for the CLI.
func (e *Estimate) Format(width int) string {
	var b strings.Builder
	rule := strings.Repeat("-", max(min(width, 60), 20))

	table := func(name string, t store.TableStats) {
		fmt.Fprintf(&b, "%-8s rows=%d data=%s index=%s avg=%.1f B/row\n",
			name, t.Rows, formatBytes(t.DataBytes), formatBytes(t.IndexBytes), t.AvgBytesPerRow())
	}

	fmt.Fprintf(&b, "Storage estimate (%s)\n%s\n", e.GeneratedAt.Format(time.RFC3339), rule)
	table("live", e.Live)
	table("archive", e.Archive)
	if e.LiveSpanDays > 0 {
		fmt.Fprintf(&b, "live span: %s .. %s (%.1f days), %s/day\n",
			e.LiveFirst.Format(time.DateOnly), e.LiveLast.Format(time.DateOnly),
			e.LiveSpanDays, formatBytes(e.DailyLiveBytes))
	}
	fmt.Fprintf(&b, "%s\npolicy: %s\n", rule, e.Setting)

	p := e.Projection
	if p.Bounded() {
		fmt.Fprintf(&b, "steady state: live %s (%d days) + archive %s (%d days) = %s\n",
			formatBytes(p.LiveBytes), p.LiveHorizonDays,
			formatBytes(p.ArchiveBytes), p.ArchiveHorizonDays,
			formatBytes(p.TotalBytes()))
	} else {
		var growth int64
		if p.LiveUnbounded {
			growth += e.DailyLiveBytes
		}
		if p.ArchiveUnbounded {
			growth += e.DailyArchiveBytes
		}
		fmt.Fprintf(&b, "steady state: unbounded (grows %s/day)\n", formatBytes(growth))
	}
	return b.String()
}
