package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.pilab.hu/linksync/internal/server"
	"go.pilab.hu/linksync/tracing"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation listeners and the ops HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger := appConfig, appLogger

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		logger.Error(ctx, "Failed to initialize tracer provider, continuing without tracing", err)
	}

	a, err := newApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	a.start()

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, server.NewEcho(a.opsAPI(prometheus.DefaultGatherer)))
	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Starting HTTP server", map[string]interface{}{"address": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info(ctx, "Shutting down", map[string]interface{}{"signal": sig.String()})
	case runErr = <-serveErr:
		logger.Error(ctx, "HTTP server failed", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "HTTP server shutdown failed", err)
	}
	a.close(shutdownCtx)
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "Error shutting down tracer provider", err)
		}
	}
	logger.Info(shutdownCtx, "Server exited", nil)
	return runErr
}
