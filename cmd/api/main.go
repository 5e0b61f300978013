package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThiagoRGoveia/ev-turnout/internal/config"
	"github.com/ThiagoRGoveia/ev-turnout/internal/database"
	"github.com/ThiagoRGoveia/ev-turnout/internal/logging"
	"github.com/ThiagoRGoveia/ev-turnout/internal/metrics"
	"github.com/ThiagoRGoveia/ev-turnout/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	dbManager, err := database.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL, cfg.DBBatchSize, logger)
	if err != nil {
		logger.Error("failed to connect to the database", "error", err)
		os.Exit(1)
	}
	defer dbManager.Close()

	router := server.SetupRoutes(
		server.NewTurnoutService(dbManager, cfg.Election, logger),
		metrics.New(prometheus.NewRegistry()),
		logger,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			dbManager.Close()
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
