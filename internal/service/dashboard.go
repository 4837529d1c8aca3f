package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"healthdash/internal/googlefit"
	"healthdash/internal/series"
	"healthdash/internal/store"
)

// ActiveConnectionStore resolves a user's active connection
type ActiveConnectionStore interface {
	GetActiveConnection(ctx context.Context, userID int64, provider string) (*store.Connection, error)
}

// FitClient fetches raw Google Fit data
type FitClient interface {
	Aggregate(ctx context.Context, conn *store.Connection, req googlefit.AggregateRequest) ([]googlefit.Bucket, error)
	SleepSessions(ctx context.Context, conn *store.Connection, start, end time.Time) ([]googlefit.Session, error)
}

// TokenValidator proactively refreshes a connection's token
type TokenValidator interface {
	EnsureValid(ctx context.Context, conn *store.Connection) bool
}

// Goals are the user's daily targets, echoed in the snapshot
type Goals struct {
	Steps      int     `json:"steps"`
	SleepHours float64 `json:"sleep_hours"`
}

// DashboardOptions configures a DashboardService
type DashboardOptions struct {
	MaxDays  int
	Goals    Goals
	Location *time.Location
}

// DailyStats holds scalar metrics for the most recent day with data
type DailyStats struct {
	Date          string              `json:"date"`
	Steps         int                 `json:"steps"`
	DistanceKM    float64             `json:"distance_km"`
	Calories      float64             `json:"calories"`
	ActiveMinutes int                 `json:"active_minutes"`
	HeartRate     series.HeartRate    `json:"heart_rate"`
	SleepHours    float64             `json:"sleep_hours"`
	WeightKG      *float64            `json:"weight_kg"`
	HeightM       *float64            `json:"height_m"`
	BMI           *float64            `json:"bmi"`
	WeightChange  *float64            `json:"weight_change"`
	SleepStages   *series.SleepStages `json:"sleep_stages"`
	Goals         Goals               `json:"goals"`
}

// DashboardSnapshot is everything the dashboard renders. It is rebuilt on
// every request.
type DashboardSnapshot struct {
	Days        int                                  `json:"days"`
	GeneratedAt time.Time                            `json:"generated_at"`
	DailyStats  DailyStats                           `json:"daily_stats"`
	Charts      map[series.Metric]series.DailySeries `json:"charts"`
	Trends      map[series.Metric]series.Trend       `json:"trends"`
	SleepStages []series.SleepStages                 `json:"sleep_stages"`
	Degraded    []string                             `json:"degraded,omitempty"`
}

var activityMetrics = []series.Metric{
	series.MetricSteps,
	series.MetricDistance,
	series.MetricCalories,
	series.MetricActiveMinutes,
}

// DashboardService builds dashboard snapshots from Google Fit
type DashboardService struct {
	store  ActiveConnectionStore
	client FitClient
	tokens TokenValidator
	opts   DashboardOptions
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(st ActiveConnectionStore, client FitClient, tokens TokenValidator, opts DashboardOptions, logger *zap.Logger) *DashboardService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &DashboardService{
		store:  st,
		client: client,
		tokens: tokens,
		opts:   opts,
		tracer: otel.Tracer("healthdash/service"),
		logger: logger.Named("dashboard"),
		now:    time.Now,
	}
}

// fetched holds the raw results of the provider calls
type fetched struct {
	activity []googlefit.Bucket
	heart    []googlefit.Bucket
	body     []googlefit.Bucket
	sleep    []googlefit.Session
	stages   []googlefit.Bucket
	errs     map[string]error
}

// BuildDashboard fetches and normalizes days of data ending today.
// A failed metric degrades to a zero series; only connection-level
// failures fail the whole build.
func (s *DashboardService) BuildDashboard(ctx context.Context, userID int64, days int) (*DashboardSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "DashboardService.BuildDashboard", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int("days", days),
	))
	defer span.End()

	now := s.now()
	if s.opts.MaxDays > 0 && days > s.opts.MaxDays {
		return nil, fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidDays, s.opts.MaxDays, days)
	}
	window, err := series.NewWindow(now, days, s.opts.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDays, err)
	}

	conn, err := s.store.GetActiveConnection(ctx, userID, store.ProviderGoogleFit)
	if errors.Is(err, store.ErrConnectionNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, timeoutError(fmt.Errorf("loading connection: %w", err))
	}

	if err := s.checkToken(ctx, conn, now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	f := s.fetch(ctx, conn, window, now)
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, timeoutError(err)
	}
	for _, err := range f.errs {
		if errors.Is(err, googlefit.ErrReauthorizationRequired) || errors.Is(err, googlefit.ErrUnauthenticated) {
			span.SetStatus(codes.Error, "re-authorization required")
			return nil, googlefit.ErrReauthorizationRequired
		}
	}

	snapshot := s.assemble(window, f, now)
	for name, err := range f.errs {
		s.logger.Warn("Metric degraded",
			zap.Int64("user_id", userID),
			zap.String("call", name),
			zap.Error(err),
		)
		span.AddEvent("degraded", trace.WithAttributes(attribute.String("call", name)))
	}
	span.SetStatus(codes.Ok, "")
	return snapshot, nil
}

// checkToken refreshes ahead of the fan-out so the concurrent calls share
// one token. A transient refresh failure is left for the calls themselves
// to surface.
func (s *DashboardService) checkToken(ctx context.Context, conn *store.Connection, now time.Time) error {
	if s.tokens.EnsureValid(ctx, conn) {
		return nil
	}

	expired := conn.TokenExpiresAt == nil || !conn.TokenExpiresAt.After(now)
	switch {
	case !conn.IsActive || conn.AccessToken == "":
		return googlefit.ErrReauthorizationRequired
	case conn.RefreshToken == "" && expired:
		return googlefit.ErrReauthorizationRequired
	}

	s.logger.Warn("Proactive token refresh failed, continuing with current token",
		zap.Int64("connection_id", conn.ID),
	)
	return nil
}

// fetch issues the provider calls concurrently
func (s *DashboardService) fetch(ctx context.Context, conn *store.Connection, window *series.Window, now time.Time) *fetched {
	start := window.Start()
	bodyStart := start
	if window.Len() < BodyLookbackDays {
		// Stay on a local midnight so body buckets line up with the window
		bodyStart = time.Date(start.Year(), start.Month(), start.Day()-(BodyLookbackDays-window.Len()),
			0, 0, 0, 0, window.Location())
	}

	var (
		wg sync.WaitGroup
		f  fetched

		activityErr, heartErr, bodyErr, sleepErr, stagesErr error
	)

	wg.Add(5)
	go func() {
		defer wg.Done()
		req := googlefit.NewAggregateRequest(start, now,
			googlefit.DataTypeSteps,
			googlefit.DataTypeDistance,
			googlefit.DataTypeCalories,
			googlefit.DataTypeActiveMinutes,
		)
		f.activity, activityErr = s.client.Aggregate(ctx, conn, req)
	}()
	go func() {
		defer wg.Done()
		req := googlefit.NewAggregateRequest(start, now, googlefit.DataTypeHeartRate)
		f.heart, heartErr = s.client.Aggregate(ctx, conn, req)
	}()
	go func() {
		defer wg.Done()
		req := googlefit.NewAggregateRequest(bodyStart, now, googlefit.DataTypeWeight, googlefit.DataTypeHeight)
		f.body, bodyErr = s.client.Aggregate(ctx, conn, req)
	}()
	go func() {
		defer wg.Done()
		f.sleep, sleepErr = s.client.SleepSessions(ctx, conn, start, now)
	}()
	go func() {
		defer wg.Done()
		req := googlefit.NewAggregateRequest(start, now, googlefit.DataTypeSleepSegment)
		f.stages, stagesErr = s.client.Aggregate(ctx, conn, req)
	}()
	wg.Wait()

	f.errs = make(map[string]error)
	for name, err := range map[string]error{
		CallActivity:    activityErr,
		CallHeartRate:   heartErr,
		CallBody:        bodyErr,
		CallSleep:       sleepErr,
		CallSleepStages: stagesErr,
	} {
		if err != nil {
			f.errs[name] = err
		}
	}
	return &f
}

// assemble normalizes the fetched data into a snapshot. Failed calls
// contribute nothing, which yields zero series.
func (s *DashboardService) assemble(window *series.Window, f *fetched, now time.Time) *DashboardSnapshot {
	charts := series.Normalize(window, f.activity, series.Select(activityMetrics...))

	hrExtractor := series.Extractors[series.MetricHeartRate]
	for m, ds := range series.Normalize(window, f.heart, series.Select(series.MetricHeartRate)) {
		charts[m] = ds
	}

	bodyInWindow := inWindow(window, f.body)
	for m, ds := range series.Normalize(window, bodyInWindow, series.Select(series.MetricWeight)) {
		charts[m] = ds
	}

	sleep := series.SleepHours(window, f.sleep)
	charts[series.MetricSleep] = sleep

	stages := series.SleepStagesByDay(window, f.stages)

	stats := DailyStats{
		Date:        now.In(window.Location()).Format(series.KeyLayout),
		HeartRate:   series.LatestHeartRate(series.DailySamples(window, f.heart, hrExtractor.Extract)),
		SleepHours:  series.Round(series.LatestNonZero(sleep), SleepStatPrecision),
		SleepStages: series.LatestSleepStages(stages),
		Goals:       s.opts.Goals,
	}

	activity := inWindow(window, f.activity)
	if latest := latestBucket(activity); latest != nil {
		stats.Date = latest.Start().In(window.Location()).Format(series.KeyLayout)
		values := series.Latest(activity, series.Select(activityMetrics...))
		stats.Steps = int(values[series.MetricSteps])
		stats.DistanceKM = values[series.MetricDistance]
		stats.Calories = values[series.MetricCalories]
		stats.ActiveMinutes = int(values[series.MetricActiveMinutes])
	}

	weight, haveWeight := series.LatestValue(f.body, googlefit.DataTypeWeight)
	height, haveHeight := series.LatestValue(f.body, googlefit.DataTypeHeight)
	if haveWeight {
		stats.WeightKG = ptr(series.Round(weight, 1))
	}
	if haveHeight {
		stats.HeightM = ptr(series.Round(height, 2))
	}
	if bmi, ok := series.BMI(weight, height, haveWeight, haveHeight); ok {
		stats.BMI = ptr(bmi)
	}
	if change, ok := series.WeightChange(bodyInWindow); ok {
		stats.WeightChange = ptr(change)
	}

	trends := make(map[series.Metric]series.Trend, len(charts))
	for m, ds := range charts {
		trends[m] = series.Trends(window, ds)
	}

	snapshot := &DashboardSnapshot{
		Days:        window.Len(),
		GeneratedAt: now,
		DailyStats:  stats,
		Charts:      charts,
		Trends:      trends,
		SleepStages: stages,
	}
	for _, name := range []string{CallActivity, CallHeartRate, CallBody, CallSleep, CallSleepStages} {
		if _, failed := f.errs[name]; failed {
			snapshot.Degraded = append(snapshot.Degraded, name)
		}
	}
	return snapshot
}

func inWindow(w *series.Window, buckets []googlefit.Bucket) []googlefit.Bucket {
	var out []googlefit.Bucket
	for _, b := range buckets {
		if _, ok := w.Index(b.Start()); ok {
			out = append(out, b)
		}
	}
	return out
}

func latestBucket(buckets []googlefit.Bucket) *googlefit.Bucket {
	var latest *googlefit.Bucket
	for i := range buckets {
		if latest == nil || buckets[i].StartTimeMillis > latest.StartTimeMillis {
			latest = &buckets[i]
		}
	}
	return latest
}

func ptr[T any](v T) *T {
	return &v
}

// timeoutError reports a build that ran out of time as a transient
// provider failure
func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &googlefit.ProviderError{Detail: "dashboard build timed out", Err: err}
	}
	return err
}
