package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"healthdash/internal/store"
)

// RefreshMargin is how close to expiry a token may get before it is refreshed
const RefreshMargin = 60 * time.Second

// persistTimeout bounds token writes that outlive the caller's context
const persistTimeout = 5 * time.Second

var (
	// ErrNoRefreshToken is returned when the connection has nothing to refresh with
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrRefreshRejected is returned when the provider rejects the grant itself.
	// The connection has been deactivated and the user must re-authorize.
	ErrRefreshRejected = errors.New("refresh token rejected by provider")
)

// TokenStore is the subset of the credential store the refresher needs
type TokenStore interface {
	GetActiveConnection(ctx context.Context, userID int64, provider string) (*store.Connection, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
	DeactivateConnection(ctx context.Context, c *store.Connection) error
}

// Refresher keeps connection access tokens usable. Refreshes for the same
// connection are serialized so concurrent callers trigger at most one
// token request.
type Refresher struct {
	config *oauth2.Config
	store  TokenStore
	client *http.Client
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[int64]*connLock
}

// connLock serializes work on one connection. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type connLock struct {
	sync.Mutex
	refs int
}

// NewRefresher creates a Refresher. client is used for token endpoint calls.
func NewRefresher(cfg *oauth2.Config, st TokenStore, client *http.Client, logger *zap.Logger) *Refresher {
	return &Refresher{
		config: cfg,
		store:  st,
		client: client,
		tracer: otel.Tracer("healthdash/auth"),
		logger: logger.Named("refresher"),
		now:    time.Now,
		locks:  make(map[int64]*connLock),
	}
}

// lock acquires the connection lock and returns its release func
func (r *Refresher) lock(id int64) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &connLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

// AccessToken returns the connection's current access token. Use this
// instead of reading conn.AccessToken while other goroutines may refresh it.
func (r *Refresher) AccessToken(conn *store.Connection) string {
	defer r.lock(conn.ID)()
	return conn.AccessToken
}

// EnsureValid reports whether conn holds a usable access token, refreshing
// it when it expires within RefreshMargin. A connection without a refresh
// token is never valid.
func (r *Refresher) EnsureValid(ctx context.Context, conn *store.Connection) bool {
	defer r.lock(conn.ID)()

	if conn.RefreshToken == "" {
		return false
	}
	if r.fresh(conn) {
		return true
	}

	err := r.refreshLocked(ctx, conn, r.fresh)
	if err != nil {
		r.logger.Debug("Token not usable", zap.Int64("connection_id", conn.ID), zap.Error(err))
	}
	return err == nil
}

// Refresh replaces an access token the provider rejected. If another caller
// already replaced rejectedToken, the newer token is adopted without a
// token request.
func (r *Refresher) Refresh(ctx context.Context, conn *store.Connection, rejectedToken string) error {
	defer r.lock(conn.ID)()

	if conn.AccessToken != "" && conn.AccessToken != rejectedToken {
		return nil
	}
	return r.refreshLocked(ctx, conn, func(c *store.Connection) bool {
		return c.AccessToken != "" && c.AccessToken != rejectedToken
	})
}

func (r *Refresher) fresh(c *store.Connection) bool {
	return c.AccessToken != "" && c.TokenExpiresAt != nil && c.TokenExpiresAt.Sub(r.now()) > RefreshMargin
}

// refreshLocked must be called with the connection lock held. usable decides
// whether the stored row already carries a token worth adopting.
func (r *Refresher) refreshLocked(ctx context.Context, conn *store.Connection, usable func(*store.Connection) bool) error {
	stored, err := r.store.GetActiveConnection(ctx, conn.UserID, conn.Provider)
	switch {
	case errors.Is(err, store.ErrConnectionNotFound):
		conn.ClearTokens()
		return ErrRefreshRejected
	case err != nil:
		return fmt.Errorf("reading stored connection: %w", err)
	case stored.ID != conn.ID:
		conn.ClearTokens()
		return ErrRefreshRejected
	case usable(stored):
		conn.SetTokens(stored.AccessToken, stored.RefreshToken, expiryOf(stored))
		return nil
	}

	// A refresh token rotated by another process wins over ours
	if stored.RefreshToken != "" {
		conn.RefreshToken = stored.RefreshToken
	}
	if conn.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	token, err := r.requestToken(ctx, conn)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && isTerminal(rerr) {
			return r.deactivate(ctx, conn, rerr)
		}
		r.logger.Error("Token refresh failed", zap.Int64("connection_id", conn.ID), zap.Error(err))
		return fmt.Errorf("refreshing token: %w", err)
	}

	// Written even if ctx was cancelled meanwhile; the provider may already
	// have invalidated the old refresh token.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := r.store.UpdateTokens(persistCtx, conn.ID, token.AccessToken, token.RefreshToken, token.Expiry); err != nil {
		if errors.Is(err, store.ErrConnectionNotFound) {
			conn.ClearTokens()
			return ErrRefreshRejected
		}
		return fmt.Errorf("saving refreshed token: %w", err)
	}

	conn.SetTokens(token.AccessToken, token.RefreshToken, token.Expiry)
	r.logger.Info("Refreshed access token",
		zap.Int64("connection_id", conn.ID),
		zap.Time("expires_at", token.Expiry),
	)
	return nil
}

func (r *Refresher) requestToken(ctx context.Context, conn *store.Connection) (*oauth2.Token, error) {
	ctx, span := r.tracer.Start(ctx, "Refresher.requestToken",
		trace.WithAttributes(attribute.Int64("connection.id", conn.ID)),
	)
	defer span.End()

	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	// No access token forces the token source to use the refresh grant
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken})
	token, err := src.Token()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh grant failed")
		return nil, err
	}
	if token.AccessToken == "" {
		err := errors.New("token endpoint returned no access token")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "token refreshed")
	return token, nil
}

func (r *Refresher) deactivate(ctx context.Context, conn *store.Connection, rerr *oauth2.RetrieveError) error {
	r.logger.Warn("Refresh grant rejected, deactivating connection",
		zap.Int64("connection_id", conn.ID),
		zap.Int64("user_id", conn.UserID),
		zap.Int("status", rerr.Response.StatusCode),
		zap.String("error_code", rerr.ErrorCode),
	)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := r.store.DeactivateConnection(persistCtx, conn); err != nil && !errors.Is(err, store.ErrConnectionNotFound) {
		return fmt.Errorf("deactivating connection: %w", err)
	}
	conn.ClearTokens()
	if rerr.ErrorCode == "" {
		return ErrRefreshRejected
	}
	return fmt.Errorf("%w: %s", ErrRefreshRejected, rerr.ErrorCode)
}

// isTerminal reports whether the token endpoint rejected the grant itself
// rather than failing transiently.
func isTerminal(rerr *oauth2.RetrieveError) bool {
	if rerr.Response == nil {
		return false
	}
	return rerr.Response.StatusCode == http.StatusBadRequest ||
		rerr.Response.StatusCode == http.StatusUnauthorized
}

func expiryOf(c *store.Connection) time.Time {
	if c.TokenExpiresAt == nil {
		return time.Time{}
	}
	return *c.TokenExpiresAt
}
