package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"healthdash/internal/auth"
	"healthdash/internal/store"
)

// ConnectionStore is the subset of the credential store the connection
// lifecycle needs
type ConnectionStore interface {
	GetActiveConnection(ctx context.Context, userID int64, provider string) (*store.Connection, error)
	GetConnectionByState(ctx context.Context, provider, state string) (*store.Connection, error)
	ListConnections(ctx context.Context, userID int64) ([]store.Connection, error)
	SaveConnection(ctx context.Context, c *store.Connection) error
	DeleteConnection(ctx context.Context, userID, id int64) error
}

// Authorization is a started OAuth flow
type Authorization struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// ConnectionInfo describes a connection without its token material
type ConnectionInfo struct {
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	IsActive  bool      `json:"is_active"`
	Pending   bool      `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectionService manages Google Fit connections
type ConnectionService struct {
	store      ConnectionStore
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewConnectionService creates a new connection service. httpClient is
// used for the code exchange.
func NewConnectionService(st ConnectionStore, oauth *oauth2.Config, httpClient *http.Client, logger *zap.Logger) *ConnectionService {
	return &ConnectionService{
		store:      st,
		oauth:      oauth,
		httpClient: httpClient,
		logger:     logger.Named("connections"),
	}
}

// BeginAuthorization records a fresh state for userID and returns the
// consent URL. An existing active connection keeps its tokens until the
// new authorization completes.
func (s *ConnectionService) BeginAuthorization(ctx context.Context, userID int64) (*Authorization, error) {
	state, err := auth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	conn, err := s.store.GetActiveConnection(ctx, userID, store.ProviderGoogleFit)
	switch {
	case errors.Is(err, store.ErrConnectionNotFound):
		conn = &store.Connection{UserID: userID, Provider: store.ProviderGoogleFit}
	case err != nil:
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	if conn.Data == nil {
		conn.Data = make(map[string]string)
	}
	conn.Data[store.DataKeyState] = state

	if err := s.store.SaveConnection(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("Authorization started", zap.Int64("user_id", userID), zap.Int64("connection_id", conn.ID))
	return &Authorization{
		AuthURL: auth.AuthCodeURL(s.oauth, state),
		State:   state,
	}, nil
}

// CompleteAuthorization exchanges code for tokens on the connection that
// holds state. Unknown states are rejected before any exchange.
func (s *ConnectionService) CompleteAuthorization(ctx context.Context, state, code string) (*store.Connection, error) {
	conn, err := s.store.GetConnectionByState(ctx, store.ProviderGoogleFit, state)
	if errors.Is(err, store.ErrConnectionNotFound) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}

	token, err := auth.Exchange(ctx, s.oauth, s.httpClient, code)
	if err != nil {
		s.logger.Warn("Code exchange failed", zap.Int64("connection_id", conn.ID), zap.Error(err))
		return nil, err
	}

	conn.SetTokens(token.AccessToken, token.RefreshToken, token.Expiry)
	delete(conn.Data, store.DataKeyState)

	if err := s.store.SaveConnection(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("Google Fit connected",
		zap.Int64("user_id", conn.UserID),
		zap.Int64("connection_id", conn.ID),
		zap.Bool("has_refresh_token", conn.RefreshToken != ""),
	)
	return conn, nil
}

// List returns the user's connections without token material
func (s *ConnectionService) List(ctx context.Context, userID int64) ([]ConnectionInfo, error) {
	conns, err := s.store.ListConnections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}

	infos := make([]ConnectionInfo, len(conns))
	for i, c := range conns {
		infos[i] = ConnectionInfo{
			ID:        c.ID,
			Provider:  c.Provider,
			IsActive:  c.IsActive,
			Pending:   c.State() != "",
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
	}
	return infos, nil
}

// Delete removes one of the user's connections
func (s *ConnectionService) Delete(ctx context.Context, userID, id int64) error {
	if err := s.store.DeleteConnection(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("Connection deleted", zap.Int64("user_id", userID), zap.Int64("connection_id", id))
	return nil
}
