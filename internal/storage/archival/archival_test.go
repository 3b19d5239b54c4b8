package archival

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/xtxerr/vitals/internal/storage/ingestion"
	"github.com/xtxerr/vitals/internal/storage/retention"
	"github.com/xtxerr/vitals/internal/storage/source"
	"github.com/xtxerr/vitals/internal/storage/types"
	"github.com/xtxerr/vitals/internal/store"
	testutil "github.com/xtxerr/vitals/internal/testing"
)

const (
	watch  = "Apple Watch"
	health = "com.apple.health"
)

type fixture struct {
	t      *testing.T
	st     *store.Store
	writer *ingestion.Service
	user   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := testutil.NewMemoryStore(t)
	return &fixture{
		t:      t,
		st:     st,
		writer: ingestion.New(st, source.NewResolver(st)),
		user:   uuid.New(),
	}
}

func (f *fixture) write(st types.SeriesType, at time.Time, values ...string) {
	f.t.Helper()
	inputs := make([]types.SampleInput, len(values))
	for i, v := range values {
		inputs[i] = testutil.Input(f.user, watch, health, st, at.Add(time.Duration(i)*time.Minute), v)
	}
	if err := f.writer.BulkCreate(context.Background(), nil, inputs); err != nil {
		f.t.Fatalf("BulkCreate: %v", err)
	}
}

func (f *fixture) dataSource() uuid.UUID {
	f.t.Helper()
	sources, err := f.st.ListDataSources(context.Background(), f.user)
	if err != nil || len(sources) != 1 {
		f.t.Fatalf("ListDataSources: %d sources, %v", len(sources), err)
	}
	return sources[0].ID
}

func (f *fixture) archived(st types.SeriesType, day time.Time) *types.ArchiveAggregate {
	f.t.Helper()
	agg, err := f.st.GetArchiveAggregate(context.Background(), types.ArchiveID(f.dataSource(), st, day))
	if err != nil {
		f.t.Fatalf("GetArchiveAggregate %s %s: %v", st, day.Format(time.DateOnly), err)
	}
	return agg
}

func (f *fixture) liveRows() int64 {
	n, err := f.st.CountSamples(context.Background())
	if err != nil {
		f.t.Fatal(err)
	}
	return n
}

func (f *fixture) archiveRows() int64 {
	n, err := f.st.CountArchiveAggregates(context.Background())
	if err != nil {
		f.t.Fatal(err)
	}
	return n
}

func (f *fixture) runner(now time.Time) *Runner {
	r := NewRunner(f.st, NewAggregator(f.st, DefaultOptions()), retention.NewReaper(f.st, retention.DefaultOptions()))
	r.now = func() time.Time { return now }
	return r
}

func assertValue(t *testing.T, agg *types.ArchiveAggregate, value string, count int64) {
	t.Helper()
	if !agg.Value.Equal(decimal.RequireFromString(value)) || agg.SampleCount != count {
		t.Errorf("archive %s: value %s count %d, want %s count %d", agg.Key(), agg.Value, agg.SampleCount, value, count)
	}
}

// =============================================================================
// Policy
// =============================================================================

func TestPolicyState(t *testing.T) {
	tests := []struct {
		name            string
		archive, delete *int
		want            State
	}{
		{"nothing set", nil, nil, StateNoPolicy},
		{"archive only", types.Days(7), nil, StateArchiveOnly},
		{"delete only", nil, types.Days(3), StateRetentionOnly},
		{"delete after archive", types.Days(7), types.Days(30), StateBothEffective},
		{"delete before archive", types.Days(7), types.Days(3), StateBothIneffective},
		{"delete with archive", types.Days(7), types.Days(7), StateBothIneffective},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PolicyState(types.ArchivalSetting{ArchiveAfterDays: tt.archive, DeleteAfterDays: tt.delete})
			if got != tt.want {
				t.Errorf("PolicyState = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlanFor(t *testing.T) {
	now := time.Date(2024, 3, 20, 17, 45, 0, 0, time.UTC)

	tests := []struct {
		name            string
		archive, delete *int
		want            []Step
	}{
		{"no policy", nil, nil, nil},
		{"archive only", types.Days(7), nil, []Step{
			{StepArchive, testutil.Date(2024, 3, 13)},
		}},
		{"retention only", nil, types.Days(3), []Step{
			{StepDeleteLive, testutil.Date(2024, 3, 17)},
		}},
		{"both effective", types.Days(7), types.Days(30), []Step{
			{StepArchive, testutil.Date(2024, 3, 13)},
			{StepDeleteArchive, testutil.Date(2024, 2, 19)},
		}},
		{"both ineffective", types.Days(7), types.Days(3), []Step{
			{StepDeleteLive, testutil.Date(2024, 3, 17)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanFor(types.ArchivalSetting{ArchiveAfterDays: tt.archive, DeleteAfterDays: tt.delete}, now)
			if len(plan.Steps) != len(tt.want) {
				t.Fatalf("steps = %v, want %v", plan.Steps, tt.want)
			}
			for i, step := range plan.Steps {
				if step.Kind != tt.want[i].Kind || !step.Cutoff.Equal(tt.want[i].Cutoff) {
					t.Errorf("step %d = %s, want %s", i, step, tt.want[i])
				}
			}
		})
	}
}

func TestCutoffUsesUTCMidnight(t *testing.T) {
	local := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2024, 3, 21, 2, 0, 0, 0, local) // 2024-03-20 17:00 UTC

	if got := Cutoff(now, 1); !got.Equal(testutil.Date(2024, 3, 19)) {
		t.Errorf("Cutoff = %v", got)
	}
}

// =============================================================================
// Aggregator
// =============================================================================

func TestArchiveDataBefore_Average(t *testing.T) {
	f := newFixture(t)
	day := testutil.Date(2024, 3, 10)
	f.write(types.SeriesHeartRate, day.Add(8*time.Hour), "60", "70", "80")

	result, err := NewAggregator(f.st, DefaultOptions()).ArchiveDataBefore(context.Background(), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ArchiveDataBefore: %v", err)
	}
	if result.Rows != 3 || result.Groups != 1 || result.Exhausted {
		t.Errorf("unexpected result: %+v", result)
	}

	assertValue(t, f.archived(types.SeriesHeartRate, day), "70", 3)
	if n := f.liveRows(); n != 0 {
		t.Errorf("expected live rows gone, %d left", n)
	}
}

func TestArchiveDataBefore_Methods(t *testing.T) {
	f := newFixture(t)
	day := testutil.Date(2024, 3, 10)
	f.write(types.SeriesSteps, day.Add(9*time.Hour), "1200", "800", "45")
	f.write(types.SeriesVO2Max, day.Add(10*time.Hour), "44.5", "46.25", "45")

	if _, err := NewAggregator(f.st, DefaultOptions()).ArchiveDataBefore(context.Background(), day.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("ArchiveDataBefore: %v", err)
	}

	assertValue(t, f.archived(types.SeriesSteps, day), "2045", 3)
	assertValue(t, f.archived(types.SeriesVO2Max, day), "46.25", 3)
}

func TestArchiveDataBefore_CutoffIsExclusive(t *testing.T) {
	f := newFixture(t)
	cutoff := testutil.Date(2024, 3, 10)
	f.write(types.SeriesHeartRate, cutoff.Add(-time.Hour), "60")
	f.write(types.SeriesHeartRate, cutoff, "90")

	// A cutoff inside the day still archives only whole days before it.
	result, err := NewAggregator(f.st, DefaultOptions()).ArchiveDataBefore(context.Background(), cutoff.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("ArchiveDataBefore: %v", err)
	}
	if result.Rows != 1 || !result.Cutoff.Equal(cutoff) {
		t.Errorf("unexpected result: %+v", result)
	}
	if n := f.liveRows(); n != 1 {
		t.Errorf("expected the sample at the cutoff to stay, %d live rows", n)
	}
}

func TestArchiveDataBefore_RowCap(t *testing.T) {
	f := newFixture(t)
	day := testutil.Date(2024, 3, 10)
	f.write(types.SeriesHeartRate, day.Add(6*time.Hour), "50", "60", "70", "80", "90")

	agg := NewAggregator(f.st, Options{MaxRowsPerRun: 2})
	ctx := context.Background()
	cutoff := day.AddDate(0, 0, 1)

	first, err := agg.ArchiveDataBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchiveDataBefore: %v", err)
	}
	if first.Rows != 2 || !first.Exhausted {
		t.Fatalf("first call: %+v", first)
	}
	if n := f.liveRows(); n != 3 {
		t.Fatalf("expected 3 live rows after first call, got %d", n)
	}

	// Later calls resume against the same cutoff until nothing is left.
	var calls []int64
	for i := 0; i < 5; i++ {
		res, err := agg.ArchiveDataBefore(ctx, cutoff)
		if err != nil {
			t.Fatalf("ArchiveDataBefore: %v", err)
		}
		if res.Rows == 0 {
			break
		}
		calls = append(calls, res.Rows)
	}
	if len(calls) != 2 || calls[0] != 2 || calls[1] != 1 {
		t.Errorf("resumed calls archived %v, want [2 1]", calls)
	}

	assertValue(t, f.archived(types.SeriesHeartRate, day), "70", 5)
	if n := f.liveRows(); n != 0 {
		t.Errorf("expected no live rows, got %d", n)
	}
}

func TestArchiveDataBefore_Idempotent(t *testing.T) {
	f := newFixture(t)
	day := testutil.Date(2024, 3, 10)
	f.write(types.SeriesHeartRate, day.Add(8*time.Hour), "60", "70", "80")

	agg := NewAggregator(f.st, DefaultOptions())
	ctx := context.Background()
	cutoff := day.AddDate(0, 0, 1)

	if _, err := agg.ArchiveDataBefore(ctx, cutoff); err != nil {
		t.Fatal(err)
	}
	before := f.archived(types.SeriesHeartRate, day)

	second, err := agg.ArchiveDataBefore(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if second.Rows != 0 || second.Batches != 0 {
		t.Errorf("second call removed rows: %+v", second)
	}

	after := f.archived(types.SeriesHeartRate, day)
	if after.ID != before.ID || !after.Value.Equal(before.Value) || after.SampleCount != before.SampleCount {
		t.Errorf("archive row changed: %+v -> %+v", before, after)
	}
	if n := f.archiveRows(); n != 1 {
		t.Errorf("expected one archive row, got %d", n)
	}
}

func TestArchiveDataBefore_MergesLateSamples(t *testing.T) {
	f := newFixture(t)
	day := testutil.Date(2024, 3, 10)
	agg := NewAggregator(f.st, DefaultOptions())
	ctx := context.Background()
	cutoff := day.AddDate(0, 0, 1)

	f.write(types.SeriesHeartRate, day.Add(8*time.Hour), "60", "70", "80")
	f.write(types.SeriesSteps, day.Add(8*time.Hour), "100", "200")
	if _, err := agg.ArchiveDataBefore(ctx, cutoff); err != nil {
		t.Fatal(err)
	}

	// Late arrivals for the archived day.
	f.write(types.SeriesHeartRate, day.Add(20*time.Hour), "100")
	f.write(types.SeriesSteps, day.Add(20*time.Hour), "50")
	if _, err := agg.ArchiveDataBefore(ctx, cutoff); err != nil {
		t.Fatal(err)
	}

	assertValue(t, f.archived(types.SeriesHeartRate, day), "77.5", 4)
	assertValue(t, f.archived(types.SeriesSteps, day), "350", 3)

	if stats := agg.Stats(); stats.GroupsMerged != 2 || stats.Runs != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestArchiveDataBefore_KeepsUnarchivableRows(t *testing.T) {
	f := newFixture(t)
	day := testutil.Date(2024, 3, 10)
	f.write(types.SeriesSleepStage, day.Add(time.Hour), "1", "2", "3")
	f.write(types.SeriesHeartRate, day.Add(time.Hour), "55")

	result, err := NewAggregator(f.st, DefaultOptions()).ArchiveDataBefore(context.Background(), day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ArchiveDataBefore: %v", err)
	}
	if result.Rows != 1 || result.Unarchivable != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
	if n := f.liveRows(); n != 3 {
		t.Errorf("expected sleep stage rows kept, %d live rows", n)
	}
	if n := f.archiveRows(); n != 1 {
		t.Errorf("expected one archive row, got %d", n)
	}
}

func TestArchiveDataBefore_SourceBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := testutil.Date(2024, 3, 10)

	var inputs []types.SampleInput
	for _, model := range []string{"Apple Watch", "iPhone 15", "Oura Ring"} {
		for d := 0; d < 3; d++ {
			inputs = append(inputs, testutil.Input(f.user, model, health, types.SeriesSteps, day.AddDate(0, 0, d).Add(time.Hour), "10"))
		}
	}
	if err := f.writer.BulkCreate(ctx, nil, inputs); err != nil {
		t.Fatal(err)
	}

	result, err := NewAggregator(f.st, Options{SourceBatchSize: 1}).ArchiveDataBefore(ctx, day.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("ArchiveDataBefore: %v", err)
	}
	if result.Rows != 9 || result.Groups != 9 || result.Batches != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestArchiveDataBefore_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.write(types.SeriesHeartRate, testutil.Date(2024, 3, 10), "60")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewAggregator(f.st, DefaultOptions()).ArchiveDataBefore(ctx, testutil.Date(2024, 3, 11)); err == nil {
		t.Fatal("expected context error")
	}
	if n := f.liveRows(); n != 1 {
		t.Errorf("cancelled run removed rows: %d left", n)
	}
}

// TestArchiveSumProperty checks that splitting a day over any number of
// capped runs yields the same SUM as archiving it at once.
func TestArchiveSumProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15

	properties := gopter.NewProperties(parameters)
	day := testutil.Date(2024, 3, 10)

	properties.Property("capped runs sum like one run", prop.ForAll(
		func(values []int64, rowCap int64) bool {
			f := newFixture(t)
			strs := make([]string, len(values))
			var total int64
			for i, v := range values {
				strs[i] = decimal.NewFromInt(v).String()
				total += v
			}
			f.write(types.SeriesSteps, day, strs...)

			agg := NewAggregator(f.st, Options{MaxRowsPerRun: rowCap, RowsPerBatch: 3})
			for i := 0; i <= len(values); i++ {
				res, err := agg.ArchiveDataBefore(context.Background(), day.AddDate(0, 0, 1))
				if err != nil {
					return false
				}
				if res.Rows == 0 {
					break
				}
			}

			archived := f.archived(types.SeriesSteps, day)
			return f.liveRows() == 0 &&
				archived.SampleCount == int64(len(values)) &&
				archived.Value.Equal(decimal.NewFromInt(total))
		},
		gen.SliceOfN(12, gen.Int64Range(0, 5000)).SuchThat(func(v []int64) bool { return len(v) > 0 }),
		gen.Int64Range(1, 6),
	))

	properties.TestingRun(t)
}

// =============================================================================
// Runner
// =============================================================================

func TestRunDaily_BothIneffective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

	f.write(types.SeriesHeartRate, testutil.Date(2024, 3, 10), "60") // older than both thresholds
	f.write(types.SeriesHeartRate, testutil.Date(2024, 3, 15), "61") // older than delete only
	f.write(types.SeriesHeartRate, testutil.Date(2024, 3, 19), "62") // kept

	runner := f.runner(now)
	if _, err := runner.UpdateSetting(ctx, types.ArchivalSetting{ArchiveAfterDays: types.Days(7), DeleteAfterDays: types.Days(3)}); err != nil {
		t.Fatal(err)
	}

	result, err := runner.RunDaily(ctx)
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if result.Plan.State != StateBothIneffective || result.Archive != nil || result.DeleteArchive != nil {
		t.Fatalf("unexpected run: plan %s", result.Plan)
	}
	if result.DeleteLive == nil || result.DeleteLive.Rows != 2 || !result.DeleteLive.Cutoff.Equal(testutil.Date(2024, 3, 17)) {
		t.Errorf("unexpected live delete: %+v", result.DeleteLive)
	}
	if n := f.archiveRows(); n != 0 {
		t.Errorf("archive must stay empty, got %d rows", n)
	}
	if n := f.liveRows(); n != 1 {
		t.Errorf("expected one live row, got %d", n)
	}
	if result.RunID == "" || result.Rows() != 2 {
		t.Errorf("unexpected run result: %+v", result)
	}
}

func TestRunDaily_BothEffective(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

	f.write(types.SeriesSteps, testutil.Date(2024, 3, 1), "500", "250") // archived
	f.write(types.SeriesSteps, testutil.Date(2024, 3, 18), "40")        // stays live

	// An archive row past the delete horizon.
	old := testutil.Date(2024, 1, 5)
	dsID := f.dataSource()
	if err := f.st.UpsertArchiveAggregates(ctx, f.st.DB(), []*types.ArchiveAggregate{{
		ID: types.ArchiveID(dsID, types.SeriesSteps, old), DataSourceID: dsID,
		SeriesType: types.SeriesSteps, Date: old, Value: decimal.NewFromInt(9000), SampleCount: 100,
	}}); err != nil {
		t.Fatal(err)
	}

	runner := f.runner(now)
	if _, err := runner.UpdateSetting(ctx, types.ArchivalSetting{ArchiveAfterDays: types.Days(7), DeleteAfterDays: types.Days(30)}); err != nil {
		t.Fatal(err)
	}

	result, err := runner.RunDaily(ctx)
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if result.Plan.State != StateBothEffective || result.DeleteLive != nil {
		t.Fatalf("unexpected plan %s", result.Plan)
	}
	if result.Archive.Rows != 2 || result.DeleteArchive.Rows != 1 {
		t.Errorf("archived %d, deleted %d archive rows", result.Archive.Rows, result.DeleteArchive.Rows)
	}

	assertValue(t, f.archived(types.SeriesSteps, testutil.Date(2024, 3, 1)), "750", 2)
	if n := f.archiveRows(); n != 1 {
		t.Errorf("expected one archive row, got %d", n)
	}
	if n := f.liveRows(); n != 1 {
		t.Errorf("expected one live row, got %d", n)
	}
}

func TestRunDaily_OtherStates(t *testing.T) {
	now := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		archive, delete *int
		wantLive        int64
		wantArchive     int64
	}{
		{"no policy", nil, nil, 2, 0},
		{"archive only", types.Days(7), nil, 1, 1},
		{"retention only", nil, types.Days(7), 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.write(types.SeriesHeartRate, testutil.Date(2024, 3, 1), "60")
			f.write(types.SeriesHeartRate, testutil.Date(2024, 3, 19), "70")

			runner := f.runner(now)
			if _, err := runner.UpdateSetting(ctx, types.ArchivalSetting{ArchiveAfterDays: tt.archive, DeleteAfterDays: tt.delete}); err != nil {
				t.Fatal(err)
			}
			if _, err := runner.RunDaily(ctx); err != nil {
				t.Fatalf("RunDaily: %v", err)
			}

			if n := f.liveRows(); n != tt.wantLive {
				t.Errorf("live rows = %d, want %d", n, tt.wantLive)
			}
			if n := f.archiveRows(); n != tt.wantArchive {
				t.Errorf("archive rows = %d, want %d", n, tt.wantArchive)
			}
		})
	}
}

func TestRunnerPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)
	f.write(types.SeriesHeartRate, testutil.Date(2024, 3, 1), "60")

	runner := f.runner(now)
	if _, err := runner.UpdateSetting(ctx, types.ArchivalSetting{ArchiveAfterDays: types.Days(7)}); err != nil {
		t.Fatal(err)
	}

	plan, err := runner.Plan(ctx, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.State != StateArchiveOnly || len(plan.Steps) != 1 {
		t.Errorf("unexpected plan %s", plan)
	}
	if n := f.liveRows(); n != 1 {
		t.Error("Plan must not modify data")
	}
}
