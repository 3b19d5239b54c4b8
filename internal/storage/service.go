package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/vitals/internal/logging"
	"github.com/xtxerr/vitals/internal/storage/archival"
	"github.com/xtxerr/vitals/internal/storage/config"
	"github.com/xtxerr/vitals/internal/storage/ingestion"
	"github.com/xtxerr/vitals/internal/storage/parquet"
	"github.com/xtxerr/vitals/internal/storage/priority"
	"github.com/xtxerr/vitals/internal/storage/query"
	"github.com/xtxerr/vitals/internal/storage/retention"
	"github.com/xtxerr/vitals/internal/storage/source"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
	"github.com/xtxerr/vitals/internal/validation"
)

// Service is the main storage service that wires all components and runs
// the daily archival schedule.
type Service struct {
	mu sync.RWMutex

	config *config.Config
	store  *store.Store

	// Components
	resolver   *source.Resolver
	priorities *priority.Registry
	ingestion  *ingestion.Service
	query      *query.Service
	aggregator *archival.Aggregator
	reaper     *retention.Reaper
	runner     *archival.Runner
	exporter   *parquet.Exporter
	janitor    *retention.ExportJanitor
	estimator  *retention.Estimator

	logger *slog.Logger

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	startTime time.Time
	lastRun   atomic.Pointer[archival.RunResult]
	runErrors atomic.Int64

	now func() time.Time
}

// New opens the store described by cfg and creates the service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	st, err := store.New(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: store.DefaultConfig().ConnMaxLifetime,
		QueryTimeout:    cfg.Database.QueryTimeout,
		MemoryLimit:     cfg.Database.MemoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s, err := NewWithStore(cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return s, nil
}

// NewWithStore creates the service on an open store. The service closes
// the store on Stop.
func NewWithStore(cfg *config.Config, st *store.Store) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Every known series type must map to an aggregation method.
	if err := types.ValidateSeriesTable(); err != nil {
		return nil, fmt.Errorf("series table: %w", err)
	}

	validation.SetMaxIdentityLength(cfg.Ingestion.MaxIdentityLength)

	resolver := source.NewResolver(st)

	reaper := retention.NewReaper(st, retention.Options{
		DeleteBatchSize:   cfg.Archival.DeleteBatchSize,
		MaxRowsPerRun:     cfg.Archival.MaxRowsPerRun,
		MaxDurationPerRun: cfg.Archival.MaxDurationPerRun,
	})

	var exporter *parquet.Exporter
	if cfg.Export.Enabled {
		opts := parquet.DefaultOptions()
		opts.Compression = parquet.ParseCompressionType(cfg.Export.Compression)
		exporter = parquet.NewExporter(cfg.Export.Dir, opts)
		reaper.WithExporter(exporter)
	}

	aggregator := archival.NewAggregator(st, archival.Options{
		SourceBatchSize:   cfg.Archival.SourceBatchSize,
		RowsPerBatch:      cfg.Archival.RowsPerBatch,
		MaxRowsPerRun:     cfg.Archival.MaxRowsPerRun,
		MaxDurationPerRun: cfg.Archival.MaxDurationPerRun,
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		config:     cfg,
		store:      st,
		resolver:   resolver,
		priorities: priority.NewRegistry(st),
		ingestion:  ingestion.New(st, resolver),
		query: query.New(st, query.Options{
			DefaultPageSize:           cfg.Query.DefaultPageSize,
			MaxPageSize:               cfg.Query.MaxPageSize,
			ActiveMinuteStepThreshold: cfg.Query.ActiveMinuteStepThreshold,
			PercentilesEnabled:        cfg.Percentiles.Enabled,
			PercentileAccuracy:        cfg.Percentiles.Accuracy,
		}),
		aggregator: aggregator,
		reaper:     reaper,
		runner:     archival.NewRunner(st, aggregator, reaper),
		exporter:   exporter,
		janitor:    retention.NewExportJanitor(cfg.Export.Dir, cfg.Export.Retention),
		estimator:  retention.NewEstimator(st),
		logger:     logging.Component("storage"),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}, nil
}

// Start starts the daily archival scheduler when archival is enabled.
func (s *Service) Start() error {
	if s.running.Load() {
		return fmt.Errorf("service already running")
	}

	s.running.Store(true)

	s.mu.Lock()
	s.startTime = s.now()
	s.mu.Unlock()

	if s.config.Archival.Enabled {
		s.wg.Add(1)
		go s.archivalWorker()
	}

	s.logger.Info("storage service started",
		"dsn", s.config.Database.DSN,
		"archival", s.config.Archival.Enabled,
		"schedule_hour", s.config.Archival.ScheduleHour,
		"export", s.config.Export.Enabled)
	return nil
}

// Stop stops the scheduler, waits for a running job and closes the store.
func (s *Service) Stop() error {
	if !s.running.Swap(false) {
		return s.store.Close()
	}

	s.cancel()

	// Wait for background workers
	s.wg.Wait()

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	s.logger.Info("storage service stopped")
	return nil
}

// archivalWorker runs the daily job at the configured UTC hour.
func (s *Service) archivalWorker() {
	defer s.wg.Done()

	for {
		now := s.now()
		next := NextRun(now, s.config.Archival.ScheduleHour)
		s.logger.Debug("next archival run scheduled", "at", next)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunArchival(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("scheduled archival failed", "error", err)
			}
		}
	}
}

// NextRun returns the first instant after now at hour:00 UTC.
func NextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunArchival runs the daily archival/retention job once, then prunes
// expired export files.
func (s *Service) RunArchival(ctx context.Context) (*archival.RunResult, error) {
	result, err := s.runner.RunDailyAt(ctx, s.now())
	if result != nil {
		s.lastRun.Store(result)
	}
	if err != nil {
		s.runErrors.Add(1)
		return result, err
	}

	if s.config.Export.Enabled {
		cleanup := s.janitor.Run(s.now())
		for _, err := range cleanup.Errors {
			s.logger.Warn("export cleanup failed", "error", err)
		}
	}
	return result, nil
}

// PlanArchival returns what RunArchival would do now.
func (s *Service) PlanArchival(ctx context.Context) (archival.Plan, error) {
	return s.runner.Plan(ctx, s.now())
}

// ArchivalSetting returns the current archival setting.
func (s *Service) ArchivalSetting(ctx context.Context) (types.ArchivalSetting, error) {
	return s.runner.Setting(ctx)
}

// UpdateArchivalSetting replaces the archival setting.
func (s *Service) UpdateArchivalSetting(ctx context.Context, setting types.ArchivalSetting) (types.ArchivalSetting, error) {
	return s.runner.UpdateSetting(ctx, setting)
}

// Estimate returns the storage estimate.
func (s *Service) Estimate(ctx context.Context) (*retention.Estimate, error) {
	return s.estimator.Estimate(ctx, s.now())
}

// ExportUsage returns the number and size of exported files.
func (s *Service) ExportUsage() (retention.DiskUsage, error) {
	return s.janitor.Usage()
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uptime time.Duration
	if !s.startTime.IsZero() {
		uptime = s.now().Sub(s.startTime)
	}

	stats := ServiceStats{
		Running:   s.running.Load(),
		Uptime:    uptime,
		Ingestion: s.ingestion.Stats(),
		Query:     s.query.Stats(),
		Archival:  s.aggregator.Stats(),
		Janitor:   s.janitor.Stats(),
		RunErrors: s.runErrors.Load(),
		LastRun:   s.lastRun.Load(),
	}
	if s.exporter != nil {
		stats.FilesExported, stats.RowsExported = s.exporter.Stats()
	}
	return stats
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running   bool
	Uptime    time.Duration
	Ingestion ingestion.ServiceStats
	Query     query.ServiceStats
	Archival  archival.StatsSnapshot
	Janitor   retention.JanitorStats

	FilesExported int64
	RowsExported  int64

	RunErrors int64
	LastRun   *archival.RunResult
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store {
	return s.store
}

// Ingestion returns the ingestion writer.
func (s *Service) Ingestion() *ingestion.Service {
	return s.ingestion
}

// Query returns the query engine.
func (s *Service) Query() *query.Service {
	return s.query
}

// Resolver returns the source identity resolver.
func (s *Service) Resolver() *source.Resolver {
	return s.resolver
}

// Priorities returns the priority registry.
func (s *Service) Priorities() *priority.Registry {
	return s.priorities
}

// Aggregator returns the archival aggregator.
func (s *Service) Aggregator() *archival.Aggregator {
	return s.aggregator
}

// Reaper returns the retention reaper.
func (s *Service) Reaper() *retention.Reaper {
	return s.reaper
}

// Janitor returns the export janitor.
func (s *Service) Janitor() *retention.ExportJanitor {
	return s.janitor
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
