package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"healthdash/internal/googlefit"
	"healthdash/internal/series"
	"healthdash/internal/store"
)

// fakeFit serves canned data keyed by the first requested data type
type fakeFit struct {
	mu       sync.Mutex
	buckets  map[string][]googlefit.Bucket
	sessions []googlefit.Session
	errs     map[string]error // keyed by call name
	requests []googlefit.AggregateRequest
	block    bool // Aggregate waits for ctx to end
}

func callName(req googlefit.AggregateRequest) string {
	switch req.AggregateBy[0].DataTypeName {
	case googlefit.DataTypeHeartRate:
		return CallHeartRate
	case googlefit.DataTypeWeight:
		return CallBody
	case googlefit.DataTypeSleepSegment:
		return CallSleepStages
	default:
		return CallActivity
	}
}

func (f *fakeFit) Aggregate(ctx context.Context, conn *store.Connection, req googlefit.AggregateRequest) ([]googlefit.Bucket, error) {
	if f.block {
		<-ctx.Done()
		return nil, &googlefit.ProviderError{Detail: "request cancelled", Err: ctx.Err()}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	name := callName(req)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.buckets[name], nil
}

func (f *fakeFit) SleepSessions(ctx context.Context, conn *store.Connection, start, end time.Time) ([]googlefit.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[CallSleep]; err != nil {
		return nil, err
	}
	return f.sessions, nil
}

// fakeValidator reports a fixed result, optionally mutating the connection
type fakeValidator struct {
	valid  bool
	mutate func(*store.Connection)
	calls  int
}

func (v *fakeValidator) EnsureValid(ctx context.Context, conn *store.Connection) bool {
	v.calls++
	if v.mutate != nil {
		v.mutate(conn)
	}
	return v.valid
}

var today = time.Date(2025, 4, 6, 18, 0, 0, 0, time.UTC)

func day(d int) time.Time {
	return time.Date(2025, 4, d, 0, 0, 0, 0, time.UTC)
}

func intBucket(start time.Time, pairs map[string]int64) googlefit.Bucket {
	var points []googlefit.Point
	for dt, v := range pairs {
		v := v
		points = append(points, googlefit.Point{DataTypeName: dt, Value: []googlefit.Value{{IntVal: &v}}})
	}
	return googlefit.Bucket{StartTimeMillis: googlefit.Int64(start.UnixMilli()), Dataset: []googlefit.Dataset{{Point: points}}}
}

func fpBucket(start time.Time, dataType string, at time.Time, vals ...float64) googlefit.Bucket {
	p := googlefit.Point{DataTypeName: dataType, EndTimeNanos: googlefit.Int64(at.UnixNano())}
	for i := range vals {
		p.Value = append(p.Value, googlefit.Value{FpVal: &vals[i]})
	}
	return googlefit.Bucket{StartTimeMillis: googlefit.Int64(start.UnixMilli()), Dataset: []googlefit.Dataset{{Point: []googlefit.Point{p}}}}
}

func segmentPoint(start, end time.Time, stage int64) googlefit.Point {
	return googlefit.Point{
		DataTypeName:   googlefit.DataTypeSleepSegment,
		StartTimeNanos: googlefit.Int64(start.UnixNano()),
		EndTimeNanos:   googlefit.Int64(end.UnixNano()),
		Value:          []googlefit.Value{{IntVal: &stage}},
	}
}

func segmentBucket(start time.Time, points ...googlefit.Point) googlefit.Bucket {
	return googlefit.Bucket{StartTimeMillis: googlefit.Int64(start.UnixMilli()), Dataset: []googlefit.Dataset{{Point: points}}}
}

func setupDashboard(t *testing.T, fit *fakeFit, validator *fakeValidator, withConnection bool) *DashboardService {
	t.Helper()

	st, err := store.NewTestStore()
	if err != nil {
		t.Fatalf("NewTestStore() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if withConnection {
		exp := today.Add(time.Hour)
		conn := &store.Connection{
			UserID:         1,
			Provider:       store.ProviderGoogleFit,
			AccessToken:    "access",
			RefreshToken:   "refresh",
			TokenExpiresAt: &exp,
			IsActive:       true,
		}
		if err := st.SaveConnection(context.Background(), conn); err != nil {
			t.Fatalf("SaveConnection() error = %v", err)
		}
	}

	svc := NewDashboardService(st, fit, validator, DashboardOptions{
		MaxDays:  90,
		Goals:    Goals{Steps: 10000, SleepHours: 8},
		Location: time.UTC,
	}, zap.NewNop())
	svc.now = func() time.Time { return today }
	return svc
}

func fullFit() *fakeFit {
	return &fakeFit{
		buckets: map[string][]googlefit.Bucket{
			CallActivity: {
				intBucket(day(5), map[string]int64{googlefit.DataTypeSteps: 7500, googlefit.DataTypeActiveMinutes: 30}),
				intBucket(day(6), map[string]int64{googlefit.DataTypeSteps: 9000, googlefit.DataTypeActiveMinutes: 45}),
			},
			// Gauge types come back as [avg, max, min] summaries
			CallHeartRate: {
				fpBucket(day(6), googlefit.DataTypeHeartRateSummary, day(6), 75, 80, 70),
			},
			CallBody: {
				fpBucket(day(5), googlefit.DataTypeWeightSummary, day(5).Add(7*time.Hour), 72.0, 72.0, 72.0),
				fpBucket(day(6), googlefit.DataTypeWeightSummary, day(6).Add(7*time.Hour), 71.4, 71.4, 71.4),
				fpBucket(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), googlefit.DataTypeHeightSummary, time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC), 1.75, 1.75, 1.75),
			},
			CallSleepStages: {
				segmentBucket(day(6),
					segmentPoint(time.Date(2025, 4, 5, 22, 30, 0, 0, time.UTC), day(6).Add(2*time.Hour), 4),
					segmentPoint(day(6).Add(2*time.Hour), day(6).Add(4*time.Hour), 5),
				),
			},
		},
		sessions: []googlefit.Session{{
			StartTimeMillis: googlefit.Int64(time.Date(2025, 4, 5, 22, 30, 0, 0, time.UTC).UnixMilli()),
			EndTimeMillis:   googlefit.Int64(time.Date(2025, 4, 6, 6, 45, 0, 0, time.UTC).UnixMilli()),
		}},
	}
}

func TestBuildDashboard(t *testing.T) {
	fit := fullFit()
	svc := setupDashboard(t, fit, &fakeValidator{valid: true}, true)

	snap, err := svc.BuildDashboard(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("BuildDashboard() error = %v", err)
	}

	if snap.Days != 2 {
		t.Errorf("Days = %d, want 2", snap.Days)
	}
	if len(snap.Degraded) != 0 {
		t.Errorf("Degraded = %v, want none", snap.Degraded)
	}

	wantCharts := map[series.Metric][]float64{
		series.MetricSteps:         {7500, 9000},
		series.MetricActiveMinutes: {30, 45},
		series.MetricDistance:      {0, 0},
		series.MetricHeartRate:     {0, 75},
		series.MetricSleep:         {0, 8.25},
		series.MetricWeight:        {72, 71.4},
	}
	for m, want := range wantCharts {
		got, ok := snap.Charts[m]
		if !ok {
			t.Errorf("chart %s missing", m)
			continue
		}
		if !reflect.DeepEqual(got.Values, want) {
			t.Errorf("chart %s = %v, want %v", m, got.Values, want)
		}
		if !reflect.DeepEqual(got.Labels, []string{"05-04", "06-04"}) {
			t.Errorf("chart %s labels = %v", m, got.Labels)
		}
	}

	stats := snap.DailyStats
	if stats.Date != "2025-04-06" {
		t.Errorf("Date = %q, want 2025-04-06", stats.Date)
	}
	if stats.Steps != 9000 || stats.ActiveMinutes != 45 {
		t.Errorf("Steps, ActiveMinutes = %d, %d, want 9000, 45", stats.Steps, stats.ActiveMinutes)
	}
	if want := (series.HeartRate{AvgBPM: 75, MinBPM: 70, MaxBPM: 80, ReadingsCount: 1}); stats.HeartRate != want {
		t.Errorf("HeartRate = %+v, want %+v", stats.HeartRate, want)
	}
	if stats.SleepHours != 8.3 {
		t.Errorf("SleepHours = %v, want 8.3", stats.SleepHours)
	}
	if stats.WeightKG == nil || *stats.WeightKG != 71.4 {
		t.Errorf("WeightKG = %v, want 71.4", stats.WeightKG)
	}
	if stats.BMI == nil || *stats.BMI != 23.3 {
		t.Errorf("BMI = %v, want 23.3", stats.BMI)
	}
	if stats.WeightChange == nil || *stats.WeightChange != -0.6 {
		t.Errorf("WeightChange = %v, want -0.6", stats.WeightChange)
	}
	wantStages := &series.SleepStages{
		Date: "2025-04-06", TotalMinutes: 330, LightMinutes: 210, DeepMinutes: 120,
		Efficiency: 100, Quality: series.QualityExcellent,
	}
	if stats.SleepStages == nil || *stats.SleepStages != *wantStages {
		t.Errorf("SleepStages = %+v, want %+v", stats.SleepStages, wantStages)
	}
	if len(snap.SleepStages) != 2 || snap.SleepStages[0].Date != "2025-04-05" {
		t.Errorf("per-day SleepStages = %+v, want two days from 2025-04-05", snap.SleepStages)
	}
	// 2025-04-06 is a Sunday, so both days fall in one week
	wantTrend := series.Trend{
		WeeklyAvg:  []series.Period{{Label: "2025-04-06", Value: 8250}},
		MonthlyMax: []series.Period{{Label: "2025-04", Value: 9000}},
	}
	if got := snap.Trends[series.MetricSteps]; !reflect.DeepEqual(got, wantTrend) {
		t.Errorf("steps trend = %+v, want %+v", got, wantTrend)
	}
	if len(snap.Trends) != len(snap.Charts) {
		t.Errorf("trends for %d metrics, want %d", len(snap.Trends), len(snap.Charts))
	}

	if stats.Goals.Steps != 10000 {
		t.Errorf("Goals.Steps = %d, want 10000", stats.Goals.Steps)
	}

	// Activity and heart rate cover the window; body looks further back
	for _, req := range fit.requests {
		wantStart := day(5).UnixMilli()
		if callName(req) == CallBody {
			wantStart = day(5).AddDate(0, 0, -(BodyLookbackDays - 2)).UnixMilli()
		}
		if req.StartTimeMillis != wantStart {
			t.Errorf("%s request start = %d, want %d", callName(req), req.StartTimeMillis, wantStart)
		}
		if req.EndTimeMillis != today.UnixMilli() {
			t.Errorf("%s request end = %d, want %d", callName(req), req.EndTimeMillis, today.UnixMilli())
		}
	}
	if len(fit.requests) != 4 {
		t.Errorf("aggregate requests = %d, want 4", len(fit.requests))
	}
}

func TestBuildDashboard_PartialFailureDegrades(t *testing.T) {
	fit := fullFit()
	fit.errs = map[string]error{
		CallHeartRate: &googlefit.ProviderError{StatusCode: 503, Detail: "unavailable"},
		CallSleep:     googlefit.ErrMalformedResponse,
	}
	svc := setupDashboard(t, fit, &fakeValidator{valid: true}, true)

	snap, err := svc.BuildDashboard(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("BuildDashboard() error = %v", err)
	}

	if !reflect.DeepEqual(snap.Degraded, []string{CallHeartRate, CallSleep}) {
		t.Errorf("Degraded = %v, want [heart_rate sleep]", snap.Degraded)
	}
	for _, m := range []series.Metric{series.MetricHeartRate, series.MetricSleep} {
		if got := snap.Charts[m].Values; !reflect.DeepEqual(got, []float64{0, 0, 0}) {
			t.Errorf("degraded chart %s = %v, want zeros", m, got)
		}
	}
	if got := snap.Charts[series.MetricSteps].Values; !reflect.DeepEqual(got, []float64{0, 7500, 9000}) {
		t.Errorf("steps = %v, want [0 7500 9000]", got)
	}
}

func TestBuildDashboard_Errors(t *testing.T) {
	tests := []struct {
		name       string
		days       int
		connected  bool
		validator  *fakeValidator
		fitErrs    map[string]error
		wantErr    error
		wantNoCall bool
	}{
		{
			name:       "zero days",
			days:       0,
			connected:  true,
			validator:  &fakeValidator{valid: true},
			wantErr:    ErrInvalidDays,
			wantNoCall: true,
		},
		{
			name:       "too many days",
			days:       91,
			connected:  true,
			validator:  &fakeValidator{valid: true},
			wantErr:    ErrInvalidDays,
			wantNoCall: true,
		},
		{
			name:       "not connected",
			days:       7,
			validator:  &fakeValidator{valid: true},
			wantErr:    ErrNotConnected,
			wantNoCall: true,
		},
		{
			name:      "refresh rejected",
			days:      7,
			connected: true,
			validator: &fakeValidator{mutate: func(c *store.Connection) {
				c.ClearTokens()
			}},
			wantErr:    googlefit.ErrReauthorizationRequired,
			wantNoCall: true,
		},
		{
			name:      "call requires re-authorization",
			days:      7,
			connected: true,
			validator: &fakeValidator{valid: true},
			fitErrs: map[string]error{
				CallBody: googlefit.ErrReauthorizationRequired,
			},
			wantErr: googlefit.ErrReauthorizationRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fit := fullFit()
			fit.errs = tt.fitErrs
			svc := setupDashboard(t, fit, tt.validator, tt.connected)

			_, err := svc.BuildDashboard(context.Background(), 1, tt.days)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BuildDashboard() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantNoCall && len(fit.requests) != 0 {
				t.Errorf("provider calls = %d, want 0", len(fit.requests))
			}
		})
	}
}

func TestBuildDashboard_TransientProactiveRefreshContinues(t *testing.T) {
	fit := fullFit()
	validator := &fakeValidator{valid: false}
	svc := setupDashboard(t, fit, validator, true)

	snap, err := svc.BuildDashboard(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("BuildDashboard() error = %v", err)
	}
	if validator.calls != 1 {
		t.Errorf("EnsureValid calls = %d, want 1", validator.calls)
	}
	if got := snap.Charts[series.MetricSteps].Values; !reflect.DeepEqual(got, []float64{7500, 9000}) {
		t.Errorf("steps = %v", got)
	}
}

func TestBuildDashboard_NoDataStillFillsWindow(t *testing.T) {
	svc := setupDashboard(t, &fakeFit{}, &fakeValidator{valid: true}, true)

	snap, err := svc.BuildDashboard(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("BuildDashboard() error = %v", err)
	}
	for m, s := range snap.Charts {
		if len(s.Labels) != 7 || len(s.Values) != 7 {
			t.Errorf("chart %s has %d labels, %d values, want 7", m, len(s.Labels), len(s.Values))
		}
	}
	if snap.DailyStats.Date != "2025-04-06" {
		t.Errorf("Date = %q, want today", snap.DailyStats.Date)
	}
	if snap.DailyStats.WeightKG != nil || snap.DailyStats.BMI != nil {
		t.Errorf("body stats should be absent: %+v", snap.DailyStats)
	}
}

func TestBuildDashboard_TimeoutIsTransient(t *testing.T) {
	fit := fullFit()
	fit.block = true
	svc := setupDashboard(t, fit, &fakeValidator{valid: true}, true)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.BuildDashboard(ctx, 1, 7)
	if !googlefit.IsProviderError(err) {
		t.Fatalf("BuildDashboard() error = %v, want a provider error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("BuildDashboard() error = %v, want it to wrap context.DeadlineExceeded", err)
	}
}
