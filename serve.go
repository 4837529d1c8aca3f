package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthdash/internal/server"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connections and dashboard HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil || cfg == nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if cfg.Telemetry.OTLPEndpoint != "" {
				tp, err := initTracerProvider(ctx, cfg.Telemetry, a.logger)
				if err != nil {
					return err
				}
				defer func() {
					if err := tp.Shutdown(context.Background()); err != nil {
						a.logger.Error("Error shutting down tracer provider", zap.Error(err))
					}
				}()
			}

			gin.SetMode(gin.ReleaseMode)
			handlers := server.NewHandlers(a.logger, a.dashboard, a.connections, server.Options{
				DefaultDays:        cfg.Dashboard.DefaultDays,
				ConnectionsPageURL: cfg.Server.ConnectionsPageURL,
			})
			router := server.NewRouter(handlers, cfg.Telemetry.ServiceName+"-http")

			return runServer(a.logger, &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      router,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 2*cfg.ProviderTimeout() + 10*time.Second,
				IdleTimeout:  120 * time.Second,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

// runServer serves until SIGINT or SIGTERM, then shuts down gracefully.
func runServer(logger *zap.Logger, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		logger.Error("Could not listen on address", zap.String("address", srv.Addr), zap.Error(err))
		return err
	case <-quit:
	}
	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("Server exited properly")
	return nil
}
