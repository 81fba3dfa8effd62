// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// offlogd hosts the sync-log ingestion endpoint that offline queue clients
// push their audit trail to.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kulmistechsolutions/go-offqueue/internal/config"
	"github.com/kulmistechsolutions/go-offqueue/offlog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "offlogd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set environment variables directly.
	_ = godotenv.Load()

	configPath := os.Getenv("OFFLOGD_CONFIG")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	service, err := offlog.NewService(pool, &offlog.ServiceConfig{
		AppName:      "offlogd",
		MaxBatchSize: cfg.Logs.MaxBatchSize,
		RecentLimit:  cfg.Logs.RecentLimit,
	}, logger)
	if err != nil {
		return err
	}

	authn := offlog.NewJWTAuth(cfg.Auth.JWTSecret)
	handlers := offlog.NewHTTPLogHandlers(service, authn, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
