// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package server wires configuration, storage, the rate-limit cache, and
// the HTTP facade into a running aimeter process.
package server

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"axonflow/aimeter/api"
	"axonflow/aimeter/config"
	"axonflow/aimeter/metrics"
	"axonflow/aimeter/pricing"
	"axonflow/aimeter/ratelimit"
	"axonflow/aimeter/shared/logger"
)

// Run starts the aimeter service and blocks until shutdown.
//
// Environment variables used:
//   - AIMETER_CONFIG: path to the YAML config file (optional)
//   - PORT: HTTP server port (default: 8082)
//   - DATABASE_DRIVER: postgres or mysql
//   - DATABASE_URL: metrics store connection string
//   - REDIS_URL: rate limiter cache (redis://host:port/db)
//   - AIMETER_ADMIN_SECRET: HMAC secret for admin endpoints
func Run() {
	appLog := logger.New("server")
	appLog.Info("starting aimeter", nil)

	cfg, err := config.Load(os.Getenv("AIMETER_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open metrics database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := metrics.NewSQLStore(db, cfg.DatabaseDriver)
	if err != nil {
		log.Fatalf("Failed to create metrics store: %v", err)
	}

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSchema()
	if err := store.EnsureSchema(schemaCtx); err != nil {
		log.Fatalf("Failed to ensure metrics schema: %v", err)
	}

	registry := prometheus.NewRegistry()
	inst := metrics.NewInstrumentation(registry)

	meter := metrics.NewService(store, metrics.ServiceOptions{
		Enabled:           cfg.MetricsEnabled,
		StrictAccounting:  cfg.StrictAccounting,
		DailyCostLimitUSD: cfg.DailyCostLimit,
		CostAlerts:        cfg.CostAlertsOn,
	}, inst)

	limiter, err := ratelimit.New(cfg.RedisURL, cfg.Services, cfg.CombinedLimit, cfg.FailOpen)
	if err != nil {
		log.Fatalf("Failed to connect rate limiter cache: %v", err)
	}
	defer limiter.Close()

	estimator := pricing.NewEstimator(cfg.Pricing, cfg.CostPrecision)
	auth := api.NewAuthenticator(cfg.AdminSecret)

	r := mux.NewRouter()
	handler := api.NewHandler(meter, limiter, estimator, auth, registry)
	handler.RegisterRoutes(r)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLog.Info("aimeter listening", map[string]interface{}{"port": cfg.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	appLog.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
