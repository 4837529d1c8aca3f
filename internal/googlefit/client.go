package googlefit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"healthdash/internal/auth"
	"healthdash/internal/store"
)

// maxResponseBytes caps how much of a provider response is read
const maxResponseBytes = 10 << 20

// sessionTimeLayout is the RFC 3339 form the sessions endpoint expects
const sessionTimeLayout = "2006-01-02T15:04:05.000Z"

// TokenRefresher supplies and renews connection access tokens
type TokenRefresher interface {
	AccessToken(conn *store.Connection) string
	Refresh(ctx context.Context, conn *store.Connection, rejectedToken string) error
}

// Request describes one replayable provider call
type Request struct {
	Method string
	Path   string // relative to the API base URL, e.g. "/dataset:aggregate"
	Query  url.Values
	Body   []byte // JSON; nil for none
}

// Client is a Google Fit API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	refresher  TokenRefresher
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewHTTPClient returns an instrumented client whose calls are bounded by timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		),
		Timeout: timeout,
	}
}

// NewClient creates a new Google Fit API client
func NewClient(baseURL string, httpClient *http.Client, refresher TokenRefresher, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		refresher:  refresher,
		tracer:     otel.Tracer("healthdash/googlefit"),
		logger:     logger.Named("googlefit"),
	}
}

// attemptState tracks one Execute call
type attemptState int

const (
	stateAuthorized attemptState = iota // first attempt with the current token
	stateRefreshing                     // provider rejected the token
	stateRetried                        // second and last attempt
	stateFailed
)

func (s attemptState) String() string {
	switch s {
	case stateAuthorized:
		return "authorized"
	case stateRefreshing:
		return "refreshing"
	case stateRetried:
		return "retried"
	default:
		return "failed"
	}
}

// errUnauthorized marks a 401 from the provider
var errUnauthorized = errors.New("access token rejected")

// Execute performs req with the connection's access token. A 401 triggers
// exactly one token refresh and one retry; a second 401 means the user must
// re-authorize. Other failures are returned as *ProviderError and not retried.
func (c *Client) Execute(ctx context.Context, conn *store.Connection, req Request) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "Client.Execute", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("googlefit.path", req.Path),
		attribute.Int64("connection.id", conn.ID),
	))
	defer span.End()

	token := c.refresher.AccessToken(conn)
	if token == "" {
		span.SetStatus(codes.Error, "no access token")
		return nil, ErrUnauthenticated
	}

	var (
		body []byte
		err  error
	)
	state := stateAuthorized
	for {
		switch state {
		case stateAuthorized, stateRetried:
			body, err = c.do(ctx, req, token)
			switch {
			case err == nil:
				span.SetAttributes(attribute.String("googlefit.final_state", state.String()))
				span.SetStatus(codes.Ok, "")
				return body, nil
			case !errors.Is(err, errUnauthorized):
				state = stateFailed
			case state == stateAuthorized:
				state = stateRefreshing
			default:
				c.logger.Warn("Access token rejected after refresh",
					zap.Int64("connection_id", conn.ID),
					zap.String("path", req.Path),
				)
				err = ErrReauthorizationRequired
				state = stateFailed
			}

		case stateRefreshing:
			if rerr := c.refresher.Refresh(ctx, conn, token); rerr != nil {
				err = refreshFailure(rerr)
				state = stateFailed
				continue
			}
			token = c.refresher.AccessToken(conn)
			state = stateRetried

		case stateFailed:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
}

// refreshFailure translates a refresh error into the caller-facing class
func refreshFailure(err error) error {
	if errors.Is(err, auth.ErrRefreshRejected) || errors.Is(err, auth.ErrNoRefreshToken) {
		return fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
	}
	return &ProviderError{Detail: "token refresh failed", Err: err}
}

// do performs a single HTTP attempt
func (c *Client) do(ctx context.Context, req Request, token string) ([]byte, error) {
	reqURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}

	var reqBody io.Reader
	if req.Body != nil {
		reqBody = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Google Fit request failed", zap.String("path", req.Path), zap.Error(err))
		return nil, &ProviderError{Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Detail: "reading response: " + err.Error(), Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error("Google Fit API error",
			zap.Int("status", resp.StatusCode),
			zap.String("path", req.Path),
		)
		return nil, &ProviderError{StatusCode: resp.StatusCode, Detail: errorDetail(body)}
	}
	return body, nil
}

// errorDetail extracts the message from a Google API error body
func errorDetail(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}

// Aggregate fetches daily buckets for the requested data types
func (c *Client) Aggregate(ctx context.Context, conn *store.Connection, agg AggregateRequest) ([]Bucket, error) {
	payload, err := json.Marshal(agg)
	if err != nil {
		return nil, fmt.Errorf("encoding aggregate request: %w", err)
	}

	body, err := c.Execute(ctx, conn, Request{
		Method: http.MethodPost,
		Path:   "/dataset:aggregate",
		Body:   payload,
	})
	if err != nil {
		return nil, err
	}

	var resp AggregateResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding aggregate response: %w", err)
	}
	for _, b := range resp.Bucket {
		if err := b.validate(); err != nil {
			return nil, err
		}
	}
	return resp.Bucket, nil
}

// SleepSessions lists sleep sessions overlapping [start, end]
func (c *Client) SleepSessions(ctx context.Context, conn *store.Connection, start, end time.Time) ([]Session, error) {
	query := url.Values{}
	query.Set("startTime", start.UTC().Format(sessionTimeLayout))
	query.Set("endTime", end.UTC().Format(sessionTimeLayout))
	query.Set("activityType", strconv.Itoa(ActivityTypeSleep))

	body, err := c.Execute(ctx, conn, Request{
		Method: http.MethodGet,
		Path:   "/sessions",
		Query:  query,
	})
	if err != nil {
		return nil, err
	}

	var resp SessionsResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding sessions response: %w", err)
	}

	sessions := make([]Session, 0, len(resp.Session))
	for _, s := range resp.Session {
		if err := s.validate(); err != nil {
			return nil, err
		}
		// Only sleep sessions count
		if s.ActivityType != 0 && s.ActivityType != ActivityTypeSleep {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}
