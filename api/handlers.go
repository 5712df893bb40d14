// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package api exposes the usage accounting data over HTTP for dashboards
// and operational tooling. Read endpoints degrade to 503 when the backing
// store is unreachable instead of failing the process.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"axonflow/aimeter/metrics"
	"axonflow/aimeter/pricing"
	"axonflow/aimeter/ratelimit"
	"axonflow/aimeter/shared/logger"
)

// Handler provides HTTP handlers for the usage reporting APIs
type Handler struct {
	meter     *metrics.Service
	limiter   *ratelimit.Limiter
	estimator *pricing.Estimator
	auth      *Authenticator
	registry  *prometheus.Registry
	log       *logger.Logger
}

// NewHandler creates a new reporting handler
func NewHandler(meter *metrics.Service, limiter *ratelimit.Limiter, estimator *pricing.Estimator, auth *Authenticator, registry *prometheus.Registry) *Handler {
	return &Handler{
		meter:     meter,
		limiter:   limiter,
		estimator: estimator,
		auth:      auth,
		registry:  registry,
		log:       logger.New("api"),
	}
}

// RegisterRoutes registers all reporting routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Metric reporting endpoints
	r.HandleFunc("/api/v1/metrics/summary", h.GetSummary).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/metrics/task-types", h.GetTaskTypeSummary).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/metrics/errors", h.GetRecentErrors).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/metrics/daily-cost", h.GetDailyCost).Methods("GET", "OPTIONS")

	// Rate-limit usage endpoints
	r.HandleFunc("/api/v1/usage", h.GetCombinedUsage).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/usage/{service}", h.GetServiceUsage).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/v1/usage/{service}/reset", h.ResetServiceUsage).Methods("POST", "OPTIONS")

	// Pricing endpoint
	r.HandleFunc("/api/v1/pricing/estimate", h.GetEstimate).Methods("GET", "OPTIONS")

	// Operational endpoints
	r.HandleFunc("/health", h.GetHealth).Methods("GET")
	if h.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}
}

// GetSummary handles GET /api/v1/metrics/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	summary, err := h.meter.MetricsSummary(r.Context())
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

// GetTaskTypeSummary handles GET /api/v1/metrics/task-types?start=&end=
func (h *Handler) GetTaskTypeSummary(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, err := parseDateRange(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.meter.TaskTypeSummary(r.Context(), start, end)
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"start":      start.Format(time.RFC3339),
		"end":        end.Format(time.RFC3339),
		"task_types": rows,
	})
}

// GetRecentErrors handles GET /api/v1/metrics/errors?limit=
func (h *Handler) GetRecentErrors(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	rows, err := h.meter.RecentErrors(r.Context(), limit)
	if err != nil {
		if errors.Is(err, metrics.ErrInvalidLimit) {
			h.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.writeStorageError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"errors": rows,
		"count":  len(rows),
	})
}

// GetDailyCost handles GET /api/v1/metrics/daily-cost
func (h *Handler) GetDailyCost(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	spent, err := h.meter.DailyCost(r.Context(), time.Now())
	if err != nil {
		h.writeStorageError(w, err)
		return
	}

	ceiling := h.meter.DailyCostLimit()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":          time.Now().UTC().Format("2006-01-02"),
		"spent_usd":     spent,
		"limit_usd":     ceiling,
		"limit_reached": ceiling > 0 && spent >= ceiling,
	})
}

// GetServiceUsage handles GET /api/v1/usage/{service}
func (h *Handler) GetServiceUsage(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	service := mux.Vars(r)["service"]
	usage, err := h.limiter.CurrentUsage(r.Context(), service)
	if err != nil {
		if errors.Is(err, ratelimit.ErrNoLimitConfig) {
			h.writeError(w, "Unknown service", http.StatusNotFound)
			return
		}
		h.writeError(w, "Rate limit cache unavailable", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, http.StatusOK, usage)
}

// GetCombinedUsage handles GET /api/v1/usage
func (h *Handler) GetCombinedUsage(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	usage, err := h.limiter.CombinedUsage(r.Context(), h.limiter.ServiceKeys())
	if err != nil {
		h.writeError(w, "Rate limit cache unavailable", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, http.StatusOK, usage)
}

// ResetServiceUsage handles POST /api/v1/usage/{service}/reset. Admin only.
func (h *Handler) ResetServiceUsage(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.auth.Authorize(r); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrNotAdmin) {
			status = http.StatusForbidden
		}
		h.writeError(w, err.Error(), status)
		return
	}

	service := mux.Vars(r)["service"]
	if err := h.limiter.ResetUsage(r.Context(), service); err != nil {
		if errors.Is(err, ratelimit.ErrNoLimitConfig) {
			h.writeError(w, "Unknown service", http.StatusNotFound)
			return
		}
		h.writeError(w, "Rate limit cache unavailable", http.StatusServiceUnavailable)
		return
	}

	h.log.Info("usage counter reset", map[string]interface{}{"service": service})
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": service,
		"status":  "reset",
	})
}

// GetEstimate handles GET /api/v1/pricing/estimate?provider=&volume=
func (h *Handler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	provider := r.URL.Query().Get("provider")
	if provider == "" {
		h.writeError(w, "provider is required", http.StatusBadRequest)
		return
	}
	volume, err := strconv.ParseInt(r.URL.Query().Get("volume"), 10, 64)
	if err != nil {
		h.writeError(w, "Invalid volume", http.StatusBadRequest)
		return
	}

	estimate, err := h.estimator.Estimate(provider, volume)
	if err != nil {
		if errors.Is(err, pricing.ErrUnknownProvider) {
			h.writeError(w, "Unknown provider", http.StatusNotFound)
			return
		}
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, estimate)
}

// GetHealth handles GET /health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !h.meter.IsHealthy(r.Context()) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "aimeter",
	})
}

// parseDateRange reads optional start/end query params (RFC3339 or
// 2006-01-02). Defaults to the last 30 days.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid start date")
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid end date")
		}
		end = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end precedes start")
	}
	return start, end, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeStorageError reports a read that could not reach the store
func (h *Handler) writeStorageError(w http.ResponseWriter, err error) {
	h.log.Error("storage read failed", map[string]interface{}{"error": err.Error()})
	if errors.Is(err, metrics.ErrStorage) {
		h.writeError(w, "Metrics storage unavailable", http.StatusServiceUnavailable)
		return
	}
	h.writeError(w, err.Error(), http.StatusInternalServerError)
}
