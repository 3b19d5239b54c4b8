package retention

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/vitals/internal/storage/ingestion"
	"github.com/xtxerr/vitals/internal/storage/source"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
	testutil "github.com/xtxerr/vitals/internal/testing"
)

var cutoff = testutil.Date(2024, 2, 1)

func seedLive(t *testing.T, st *store.Store, old, recent int) uuid.UUID {
	t.Helper()
	user := uuid.New()
	var inputs []types.SampleInput
	for i := 0; i < old; i++ {
		inputs = append(inputs, testutil.Input(user, "Apple Watch", "com.apple.health",
			types.SeriesHeartRate, cutoff.Add(-time.Duration(i+1)*time.Hour), "60"))
	}
	for i := 0; i < recent; i++ {
		inputs = append(inputs, testutil.Input(user, "Apple Watch", "com.apple.health",
			types.SeriesHeartRate, cutoff.Add(time.Duration(i)*time.Hour), "60"))
	}
	writer := ingestion.New(st, source.NewResolver(st))
	if err := writer.BulkCreate(context.Background(), nil, inputs); err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}
	return user
}

func seedArchive(t *testing.T, st *store.Store, days int, from time.Time) {
	t.Helper()
	ctx := context.Background()
	ds, err := source.NewResolver(st).Ensure(ctx, source.EnsureRequest{
		UserID: uuid.New(), DeviceModel: "Forerunner 965", Source: "garmin",
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	var rows []*types.ArchiveAggregate
	for i := 0; i < days; i++ {
		day := from.AddDate(0, 0, i)
		rows = append(rows, &types.ArchiveAggregate{
			ID: types.ArchiveID(ds.ID, types.SeriesSteps, day), DataSourceID: ds.ID,
			SeriesType: types.SeriesSteps, Date: day, Value: decimal.NewFromInt(int64(1000 + i)), SampleCount: 24,
		})
	}
	if err := st.UpsertArchiveAggregates(ctx, st.DB(), rows); err != nil {
		t.Fatalf("UpsertArchiveAggregates: %v", err)
	}
}

// =============================================================================
// Budget
// =============================================================================

func TestBudget_Rows(t *testing.T) {
	b := NewBudget(10, 0)

	if b.Exhausted() || b.Remaining() != 10 {
		t.Fatalf("fresh budget: remaining %d", b.Remaining())
	}
	if got := b.BatchLimit(4); got != 4 {
		t.Errorf("BatchLimit(4) = %d", got)
	}

	b.Spend(8)
	if got := b.BatchLimit(4); got != 2 {
		t.Errorf("BatchLimit after spending 8 = %d, want 2", got)
	}

	b.Spend(5)
	if !b.Exhausted() || b.Remaining() != 0 || b.Spent() != 13 {
		t.Errorf("expected exhausted budget, remaining %d spent %d", b.Remaining(), b.Spent())
	}
}

func TestBudget_Duration(t *testing.T) {
	now := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	b := newBudgetAt(0, time.Minute, clock)
	if b.Exhausted() {
		t.Fatal("budget exhausted at start")
	}
	if b.Remaining() != math.MaxInt64 {
		t.Errorf("unlimited rows should report MaxInt64, got %d", b.Remaining())
	}

	now = now.Add(time.Minute)
	if !b.Exhausted() || b.Elapsed() != time.Minute {
		t.Errorf("expected exhausted after one minute, elapsed %v", b.Elapsed())
	}
}

// =============================================================================
// Reaper
// =============================================================================

func TestReaper_DeleteLiveBefore(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	ctx := context.Background()
	seedLive(t, st, 25, 5)

	reaper := NewReaper(st, Options{DeleteBatchSize: 10, MaxRowsPerRun: 15})

	first, err := reaper.DeleteLiveBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteLiveBefore: %v", err)
	}
	if first.Rows != 15 || first.Batches != 2 || !first.Exhausted {
		t.Errorf("first run: %+v", first)
	}

	second, err := reaper.DeleteLiveBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteLiveBefore: %v", err)
	}
	if second.Rows != 10 || second.Exhausted {
		t.Errorf("second run: %+v", second)
	}

	if n, _ := st.CountSamples(ctx); n != 5 {
		t.Errorf("expected 5 recent rows left, got %d", n)
	}

	// Nothing left before the cutoff.
	third, err := reaper.DeleteLiveBefore(ctx, cutoff)
	if err != nil || third.Rows != 0 {
		t.Errorf("third run: %+v, %v", third, err)
	}
}

type recordingExporter struct {
	batches [][]*types.ArchiveAggregate
	fail    bool
}

func (e *recordingExporter) Export(ctx context.Context, cutoff time.Time, batch int, rows []*types.ArchiveAggregate) (string, error) {
	if e.fail {
		return "", errors.New("disk full")
	}
	e.batches = append(e.batches, rows)
	return fmt.Sprintf("archive-%s-%04d.parquet", cutoff.Format(time.DateOnly), batch), nil
}

func TestReaper_DeleteArchiveBefore(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	ctx := context.Background()
	seedArchive(t, st, 12, cutoff.AddDate(0, 0, -9)) // 9 days before cutoff, 3 on or after

	exporter := &recordingExporter{}
	reaper := NewReaper(st, Options{DeleteBatchSize: 4}).WithExporter(exporter)

	result, err := reaper.DeleteArchiveBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteArchiveBefore: %v", err)
	}
	if result.Rows != 9 || result.Batches != 3 || len(result.Files) != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(exporter.batches) != 3 || len(exporter.batches[0]) != 4 || len(exporter.batches[2]) != 1 {
		t.Errorf("unexpected exported batches: %d", len(exporter.batches))
	}
	for _, batch := range exporter.batches {
		for _, row := range batch {
			if !row.Date.Before(cutoff) {
				t.Errorf("exported row dated %v not before cutoff", row.Date)
			}
		}
	}

	if n, _ := st.CountArchiveAggregates(ctx); n != 3 {
		t.Errorf("expected 3 archive rows left, got %d", n)
	}
}

func TestReaper_FailedExportKeepsRows(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	ctx := context.Background()
	seedArchive(t, st, 5, cutoff.AddDate(0, 0, -5))

	reaper := NewReaper(st, DefaultOptions()).WithExporter(&recordingExporter{fail: true})

	if _, err := reaper.DeleteArchiveBefore(ctx, cutoff); err == nil {
		t.Fatal("expected export error")
	}
	if n, _ := st.CountArchiveAggregates(ctx); n != 5 {
		t.Errorf("failed export must not delete rows, %d left", n)
	}
}

// =============================================================================
// Export janitor
// =============================================================================

func TestExportJanitor(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	files := map[string]int{
		"archive-2024-01-01-0000.parquet": 100,
		"archive-2024-01-01-0001.parquet": 50,
		"archive-2024-05-30-0000.parquet": 10,
		"archive-bogus.parquet":           10,
		"notes.txt":                       5,
	}
	for name, size := range files {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644); err != nil {
			t.Fatal(err)
		}
	}

	janitor := NewExportJanitor(dir, 30*24*time.Hour)

	usage, err := janitor.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.FileCount != 4 || usage.TotalSize != 170 {
		t.Errorf("unexpected usage: %+v", usage)
	}

	dry := janitor.DryRun(now)
	if dry.FilesDeleted != 2 || dry.BytesFreed != 150 || dry.FilesSkipped != 2 {
		t.Errorf("unexpected dry run: %+v", dry)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive-2024-01-01-0000.parquet")); err != nil {
		t.Error("dry run deleted a file")
	}

	result := janitor.Run(now)
	if result.FilesDeleted != 2 || len(result.Errors) != 0 {
		t.Errorf("unexpected run: %+v", result)
	}
	if stats := janitor.Stats(); stats.FilesDeleted != 2 || stats.BytesFreed != 150 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// Missing directories are not errors.
	if r := NewExportJanitor(filepath.Join(dir, "missing"), time.Hour).Run(now); len(r.Errors) != 0 {
		t.Errorf("missing dir: %+v", r.Errors)
	}
}

func TestParseExportTime(t *testing.T) {
	tests := []struct {
		name    string
		want    time.Time
		wantErr bool
	}{
		{"archive-2024-03-09-0002.parquet", testutil.Date(2024, 3, 9), false},
		{"archive-2024-03-09.parquet", testutil.Date(2024, 3, 9), false},
		{"archive-x.parquet", time.Time{}, true},
		{"archive-2024-13-40-0000.parquet", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseExportTime(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v", tt.name, err)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

// =============================================================================
// Estimate
// =============================================================================

func TestEstimator_EmptyStore(t *testing.T) {
	st := testutil.NewMemoryStore(t)

	est, err := NewEstimator(st).Estimate(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Live.Rows != 0 || est.Archive.Rows != 0 || est.LiveSpanDays != 0 || est.DailyLiveBytes != 0 {
		t.Errorf("expected zero estimate, got %+v", est)
	}
	if !est.Projection.LiveUnbounded {
		t.Error("no policy means unbounded live storage")
	}
	if out := est.Format(80); !strings.Contains(out, "unbounded") {
		t.Errorf("unexpected format output:\n%s", out)
	}
}

func TestEstimator_WithData(t *testing.T) {
	st := testutil.NewMemoryStore(t)
	ctx := context.Background()
	seedLive(t, st, 48, 0) // two days of hourly samples
	seedArchive(t, st, 10, cutoff.AddDate(0, 0, -40))

	if _, err := st.UpdateArchivalSetting(ctx, types.ArchivalSetting{
		ArchiveAfterDays: types.Days(7), DeleteAfterDays: types.Days(30),
	}); err != nil {
		t.Fatalf("UpdateArchivalSetting: %v", err)
	}

	est, err := NewEstimator(st).Estimate(ctx, cutoff)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Live.Rows != 48 || est.Archive.Rows != 10 {
		t.Errorf("unexpected row counts: live %d archive %d", est.Live.Rows, est.Archive.Rows)
	}
	if est.Live.DataBytes <= 0 || est.DailyLiveBytes <= 0 {
		t.Errorf("expected live bytes, got %+v", est.Live)
	}
	if math.Abs(est.LiveSpanDays-47.0/24) > 1e-9 {
		t.Errorf("unexpected live span %f", est.LiveSpanDays)
	}

	p := est.Projection
	if !p.Bounded() || p.LiveHorizonDays != 7 || p.ArchiveHorizonDays != 23 {
		t.Errorf("unexpected projection: %+v", p)
	}
	if p.LiveBytes != est.DailyLiveBytes*7 {
		t.Errorf("live projection %d, want %d", p.LiveBytes, est.DailyLiveBytes*7)
	}
}

func TestProject(t *testing.T) {
	tests := []struct {
		name            string
		archive, delete *int
		liveDays        int
		archiveDays     int
		liveUnbounded   bool
		archUnbounded   bool
	}{
		{"no policy", nil, nil, 0, 0, true, false},
		{"archive only", types.Days(7), nil, 7, 0, false, true},
		{"retention only", nil, types.Days(3), 3, 0, false, false},
		{"both effective", types.Days(7), types.Days(30), 7, 23, false, false},
		{"both ineffective", types.Days(7), types.Days(3), 3, 0, false, false},
		{"equal days", types.Days(5), types.Days(5), 5, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := project(types.ArchivalSetting{ArchiveAfterDays: tt.archive, DeleteAfterDays: tt.delete}, 100, 10)
			if p.LiveHorizonDays != tt.liveDays || p.ArchiveHorizonDays != tt.archiveDays ||
				p.LiveUnbounded != tt.liveUnbounded || p.ArchiveUnbounded != tt.archUnbounded {
				t.Errorf("got %+v", p)
			}
			if p.LiveBytes != int64(tt.liveDays)*100 || p.ArchiveBytes != int64(tt.archiveDays)*10 {
				t.Errorf("unexpected bytes: %+v", p)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{1073741824, "1.00 GB"},
		{1099511627776, "1.00 TB"},
	}

	for _, tt := range tests {
		if got := formatBytes(tt.bytes); got != tt.expected {
			t.Errorf("formatBytes(%d) = %s, want %s", tt.bytes, got, tt.expected)
		}
	}
}
