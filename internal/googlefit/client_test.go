package googlefit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"healthdash/internal/auth"
	"healthdash/internal/store"
)

// fakeRefresher swaps in nextToken on Refresh, or fails with err
type fakeRefresher struct {
	mu        sync.Mutex
	nextToken string
	err       error
	calls     int
	rejected  []string
}

func (f *fakeRefresher) AccessToken(conn *store.Connection) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return conn.AccessToken
}

func (f *fakeRefresher) Refresh(ctx context.Context, conn *store.Connection, rejectedToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.rejected = append(f.rejected, rejectedToken)
	if f.err != nil {
		return f.err
	}
	conn.AccessToken = f.nextToken
	return nil
}

// fakeAPI answers with the queued statuses in order, then 200
type fakeAPI struct {
	mu       sync.Mutex
	statuses []int
	body     string
	tokens   []string
	requests []*http.Request
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	f.tokens = append(f.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

	status := http.StatusOK
	if len(f.statuses) > 0 {
		status = f.statuses[0]
		f.statuses = f.statuses[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status == http.StatusOK {
		io.WriteString(w, f.body)
		return
	}
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"status %d"}}`, status, status)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func setupClient(t *testing.T, api *fakeAPI, refresher *fakeRefresher) *Client {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	return NewClient(server.URL, server.Client(), refresher, zap.NewNop())
}

func testConnection() *store.Connection {
	return &store.Connection{ID: 1, UserID: 1, Provider: store.ProviderGoogleFit, AccessToken: "token-1", RefreshToken: "refresh", IsActive: true}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []int
		refreshErr    error
		wantErr       error
		wantProvider  bool
		wantStatus    int
		wantCalls     int
		wantRefreshes int
	}{
		{
			name:      "success",
			wantCalls: 1,
		},
		{
			name:          "401 then success retries once with the new token",
			statuses:      []int{http.StatusUnauthorized},
			wantCalls:     2,
			wantRefreshes: 1,
		},
		{
			name:          "401 twice requires re-authorization",
			statuses:      []int{http.StatusUnauthorized, http.StatusUnauthorized},
			wantErr:       ErrReauthorizationRequired,
			wantCalls:     2,
			wantRefreshes: 1,
		},
		{
			name:          "refresh rejected requires re-authorization",
			statuses:      []int{http.StatusUnauthorized},
			refreshErr:    auth.ErrRefreshRejected,
			wantErr:       ErrReauthorizationRequired,
			wantCalls:     1,
			wantRefreshes: 1,
		},
		{
			name:          "transient refresh failure is a provider error",
			statuses:      []int{http.StatusUnauthorized},
			refreshErr:    errors.New("token endpoint unreachable"),
			wantProvider:  true,
			wantCalls:     1,
			wantRefreshes: 1,
		},
		{
			name:         "server error is not retried",
			statuses:     []int{http.StatusServiceUnavailable},
			wantProvider: true,
			wantStatus:   http.StatusServiceUnavailable,
			wantCalls:    1,
		},
		{
			name:         "forbidden is not retried",
			statuses:     []int{http.StatusForbidden},
			wantProvider: true,
			wantStatus:   http.StatusForbidden,
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{statuses: tt.statuses, body: `{"ok":true}`}
			refresher := &fakeRefresher{nextToken: "token-2", err: tt.refreshErr}
			client := setupClient(t, api, refresher)

			body, err := client.Execute(context.Background(), testConnection(), Request{Method: http.MethodGet, Path: "/sessions"})

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Execute() error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantProvider:
				var pe *ProviderError
				if !errors.As(err, &pe) {
					t.Fatalf("Execute() error = %v, want *ProviderError", err)
				}
				if pe.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", pe.StatusCode, tt.wantStatus)
				}
				if errors.Is(err, ErrReauthorizationRequired) {
					t.Errorf("transient error must not require re-authorization: %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("Execute() error = %v", err)
				}
				if string(body) != `{"ok":true}` {
					t.Errorf("body = %s", body)
				}
			}

			if got := api.calls(); got != tt.wantCalls {
				t.Errorf("API calls = %d, want %d", got, tt.wantCalls)
			}
			if refresher.calls != tt.wantRefreshes {
				t.Errorf("refreshes = %d, want %d", refresher.calls, tt.wantRefreshes)
			}
			if tt.wantRefreshes > 0 && refresher.rejected[0] != "token-1" {
				t.Errorf("rejected token = %q, want %q", refresher.rejected[0], "token-1")
			}
			if tt.wantCalls == 2 && api.tokens[1] != "token-2" {
				t.Errorf("retry used token %q, want %q", api.tokens[1], "token-2")
			}
		})
	}
}

func TestExecute_NoAccessToken(t *testing.T) {
	api := &fakeAPI{}
	client := setupClient(t, api, &fakeRefresher{})

	conn := testConnection()
	conn.AccessToken = ""
	_, err := client.Execute(context.Background(), conn, Request{Method: http.MethodGet, Path: "/sessions"})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Execute() error = %v, want ErrUnauthenticated", err)
	}
	if got := api.calls(); got != 0 {
		t.Errorf("API calls = %d, want 0", got)
	}
}

func TestExecute_RetryReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	first := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		unauthorized := first
		first = false
		mu.Unlock()
		if unauthorized {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client(), &fakeRefresher{nextToken: "token-2"}, zap.NewNop())
	_, err := client.Execute(context.Background(), testConnection(), Request{
		Method: http.MethodPost,
		Path:   "/dataset:aggregate",
		Body:   []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(bodies) != 2 || bodies[0] != `{"a":1}` || bodies[1] != `{"a":1}` {
		t.Errorf("request bodies = %q, want the same body twice", bodies)
	}
}

func TestExecute_TimeoutIsProviderError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	httpClient := server.Client()
	httpClient.Timeout = 50 * time.Millisecond
	client := NewClient(server.URL, httpClient, &fakeRefresher{}, zap.NewNop())

	_, err := client.Execute(context.Background(), testConnection(), Request{Method: http.MethodGet, Path: "/sessions"})
	if !IsProviderError(err) {
		t.Errorf("Execute() error = %v, want *ProviderError", err)
	}
}

func TestAggregate(t *testing.T) {
	body := `{"bucket":[
		{"startTimeMillis":"1743811200000","endTimeMillis":"1743897600000","dataset":[
			{"dataSourceId":"derived:com.google.step_count.delta:com.google.android.gms:aggregated","point":[
				{"dataTypeName":"com.google.step_count.delta","startTimeNanos":"1743811200000000000","endTimeNanos":"1743897600000000000","value":[{"intVal":7500}]}
			]}
		]},
		{"startTimeMillis":1743897600000,"endTimeMillis":1743984000000,"dataset":[{"dataSourceId":"derived:com.google.step_count.delta:com.google.android.gms:aggregated","point":[]}]}
	]}`
	api := &fakeAPI{body: body}
	client := setupClient(t, api, &fakeRefresher{})

	start := time.UnixMilli(1743811200000)
	end := time.UnixMilli(1743984000000)
	buckets, err := client.Aggregate(context.Background(), testConnection(), NewAggregateRequest(start, end, DataTypeSteps))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("len(buckets) = %d, want 2", len(buckets))
	}
	if !buckets[0].Start().Equal(start) {
		t.Errorf("buckets[0].Start() = %v, want %v", buckets[0].Start(), start)
	}
	points := buckets[0].Points(DataTypeSteps)
	if len(points) != 1 || points[0].Value[0].IntVal == nil || *points[0].Value[0].IntVal != 7500 {
		t.Errorf("Points() = %+v, want one 7500 step point", points)
	}
	if got := buckets[1].Points(DataTypeSteps); len(got) != 0 {
		t.Errorf("empty bucket Points() = %+v", got)
	}

	req := api.requests[0]
	if req.Method != http.MethodPost || req.URL.Path != "/dataset:aggregate" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
}

func TestAggregate_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "bucket without start", body: `{"bucket":[{"dataset":[]}]}`},
		{name: "bad millis", body: `{"bucket":[{"startTimeMillis":"soon"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupClient(t, &fakeAPI{body: tt.body}, &fakeRefresher{})
			_, err := client.Aggregate(context.Background(), testConnection(), NewAggregateRequest(time.Now().Add(-time.Hour), time.Now(), DataTypeSteps))
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("Aggregate() error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestSleepSessions(t *testing.T) {
	body := `{"session":[
		{"id":"a","startTimeMillis":"1743892200000","endTimeMillis":"1743921900000","activityType":72},
		{"id":"b","startTimeMillis":"1743892200000","endTimeMillis":"1743893200000","activityType":8}
	]}`
	api := &fakeAPI{body: body}
	client := setupClient(t, api, &fakeRefresher{})

	start := time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 6, 23, 59, 59, 0, time.UTC)
	sessions, err := client.SleepSessions(context.Background(), testConnection(), start, end)
	if err != nil {
		t.Fatalf("SleepSessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "a" {
		t.Errorf("SleepSessions() = %+v, want only the sleep session", sessions)
	}

	q := api.requests[0].URL.Query()
	if got := q.Get("startTime"); got != "2025-04-05T00:00:00.000Z" {
		t.Errorf("startTime = %q", got)
	}
	if got := q.Get("endTime"); got != "2025-04-06T23:59:59.000Z" {
		t.Errorf("endTime = %q", got)
	}
	if got := q.Get("activityType"); got != "72" {
		t.Errorf("activityType = %q, want 72", got)
	}
}

func TestSleepSessions_Malformed(t *testing.T) {
	client := setupClient(t, &fakeAPI{body: `{"session":[{"id":"x","startTimeMillis":"200","endTimeMillis":"100"}]}`}, &fakeRefresher{})
	_, err := client.SleepSessions(context.Background(), testConnection(), time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("SleepSessions() error = %v, want ErrMalformedResponse", err)
	}
}

func TestNewAggregateRequest(t *testing.T) {
	start := time.UnixMilli(1000)
	end := time.UnixMilli(5000)
	req := NewAggregateRequest(start, end, DataTypeSteps, DataTypeDistance)

	if req.BucketByTime.DurationMillis != 86400000 {
		t.Errorf("DurationMillis = %d, want 86400000", req.BucketByTime.DurationMillis)
	}
	if req.StartTimeMillis != 1000 || req.EndTimeMillis != 5000 {
		t.Errorf("window = [%d, %d], want [1000, 5000]", req.StartTimeMillis, req.EndTimeMillis)
	}
	if len(req.AggregateBy) != 2 || req.AggregateBy[1].DataSourceID == "" {
		t.Errorf("AggregateBy = %+v", req.AggregateBy)
	}
}

func TestBucketPoints_Summaries(t *testing.T) {
	body := `{"bucket":[{"startTimeMillis":"1743897600000","dataset":[
		{"dataSourceId":"derived:com.google.heart_rate.summary:com.google.android.gms:aggregated",
		 "point":[{"dataTypeName":"com.google.heart_rate.summary","value":[{"fpVal":72},{"fpVal":130},{"fpVal":55}]}]},
		{"dataSourceId":"derived:com.google.weight.summary:com.google.android.gms:aggregated",
		 "point":[{"value":[{"fpVal":80},{"fpVal":81},{"fpVal":79}]}]},
		{"dataSourceId":"derived:com.google.step_count.delta:com.google.android.gms:aggregated",
		 "point":[{"value":[{"intVal":900}]}]}
	]}]}`
	var resp AggregateResponse
	if err := decodeJSON([]byte(body), &resp); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	b := resp.Bucket[0]

	tests := []struct {
		dataType string
		wantType string
		wantAvg  float64
		wantHigh float64
		wantLow  float64
	}{
		{DataTypeHeartRate, DataTypeHeartRateSummary, 72, 130, 55},
		{DataTypeWeight, DataTypeWeightSummary, 80, 81, 79},
	}
	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			points := b.Points(tt.dataType)
			if len(points) != 1 {
				t.Fatalf("Points(%s) = %d points, want 1", tt.dataType, len(points))
			}
			if points[0].DataTypeName != tt.wantType {
				t.Errorf("DataTypeName = %q, want %q", points[0].DataTypeName, tt.wantType)
			}
			avg, high, low, ok := points[0].Summary()
			if !ok || avg != tt.wantAvg || high != tt.wantHigh || low != tt.wantLow {
				t.Errorf("Summary() = %v, %v, %v, %v, want %v, %v, %v, true", avg, high, low, ok, tt.wantAvg, tt.wantHigh, tt.wantLow)
			}
		})
	}

	steps := b.Points(DataTypeSteps)
	if len(steps) != 1 {
		t.Fatalf("Points(steps) = %d points, want 1", len(steps))
	}
	if _, _, _, ok := steps[0].Summary(); ok {
		t.Error("Summary() on a step point reported ok")
	}
	if got := AggregatedType(DataTypeSteps); got != DataTypeSteps {
		t.Errorf("AggregatedType(steps) = %q, want unchanged", got)
	}
}
