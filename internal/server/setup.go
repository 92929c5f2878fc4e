// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the fitsync document server: the Postgres pool,
// the document API and the metrics endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alestar328/TraiScore-sub000/fithttp"
	"github.com/alestar328/TraiScore-sub000/fitness"
	"github.com/alestar328/TraiScore-sub000/fitpg"
	"github.com/alestar328/TraiScore-sub000/fitsync"
	"github.com/alestar328/TraiScore-sub000/internal/config"
	"github.com/alestar328/TraiScore-sub000/internal/metrics"
)

// Components holds the initialized server components
type Components struct {
	Pool     *pgxpool.Pool
	Store    *fitpg.Store
	JWTAuth  *fithttp.JWTAuth
	Registry *prometheus.Registry
	Metrics  *metrics.Manager
	Handler  http.Handler
	Logger   *slog.Logger
}

// Setup connects to Postgres, creates the document schema and builds the
// routed handler
func Setup(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := fitpg.NewStore(ctx, pool, fitpg.DefaultConfig(), logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	registry := metrics.SetupPrometheus(pgxpoolprometheus.NewCollector(
		pool,
		map[string]string{"db_name": poolConfig.ConnConfig.Database},
	))
	manager := metrics.NewManager("fitsync", "server", registry)
	if cfg.JWTSecret == config.Default().Server.JWTSecret {
		logger.Warn("Using default JWT secret - change in production!")
	}
	jwtAuth := fithttp.NewJWTAuth(cfg.JWTSecret, logger)

	handler, err := NewHandler(store, jwtAuth, registry, manager, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Components{
		Pool:     pool,
		Store:    store,
		JWTAuth:  jwtAuth,
		Registry: registry,
		Metrics:  manager,
		Handler:  handler,
		Logger:   logger,
	}, nil
}

// NewHandler routes the document API over backend and serves registry on
// GET /metrics
func NewHandler(backend fitsync.Backend, jwtAuth *fithttp.JWTAuth, registry *prometheus.Registry, manager *metrics.Manager, cfg *config.ServerConfig, logger *slog.Logger) (http.Handler, error) {
	api, err := fithttp.NewServer(backend, jwtAuth, &fithttp.ServerConfig{
		Collections:  fitness.Collections(),
		MaxBodyBytes: cfg.MaxBodyBytes,
		LogRequests:  cfg.LogRequests,
	}, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.Handle("/", manager.RequestMetrics(api.Handler()))
	return mux, nil
}

// Close releases the database pool
func (c *Components) Close() {
	c.Pool.Close()
}
