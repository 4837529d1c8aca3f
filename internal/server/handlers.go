package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"healthdash/internal/service"
	"healthdash/internal/store"
)

// DashboardBuilder builds dashboard snapshots
type DashboardBuilder interface {
	BuildDashboard(ctx context.Context, userID int64, days int) (*service.DashboardSnapshot, error)
}

// ConnectionManager drives the connection lifecycle
type ConnectionManager interface {
	BeginAuthorization(ctx context.Context, userID int64) (*service.Authorization, error)
	CompleteAuthorization(ctx context.Context, state, code string) (*store.Connection, error)
	List(ctx context.Context, userID int64) ([]service.ConnectionInfo, error)
	Delete(ctx context.Context, userID, id int64) error
}

// Options configures the HTTP surface
type Options struct {
	DefaultDays        int
	ConnectionsPageURL string
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	logger      *zap.Logger
	dashboard   DashboardBuilder
	connections ConnectionManager
	opts        Options
	Tracer      trace.Tracer
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, dashboard DashboardBuilder, connections ConnectionManager, opts Options) *Handlers {
	if opts.DefaultDays < 1 {
		opts.DefaultDays = 7
	}
	if opts.ConnectionsPageURL == "" {
		opts.ConnectionsPageURL = "/connections"
	}
	return &Handlers{
		logger:      logger.Named("http_handler"),
		dashboard:   dashboard,
		connections: connections,
		opts:        opts,
		Tracer:      otel.Tracer("healthdash/server"),
	}
}
