// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"axonflow/aimeter/config"
	"axonflow/aimeter/metrics"
	"axonflow/aimeter/pricing"
	"axonflow/aimeter/ratelimit"
)

const testSecret = "handler-test-secret"

// fakeStore is an in-memory metrics.Store for handler tests
type fakeStore struct {
	records  []metrics.Record
	queryErr error
	pingErr  error
}

func (f *fakeStore) Insert(ctx context.Context, in metrics.RecordInput) (*metrics.Record, error) {
	rec := metrics.Record{
		ID:              fmt.Sprintf("rec-%d", len(f.records)+1),
		TaskType:        in.TaskType,
		ExecutionTimeMS: in.ExecutionTimeMS,
		TokensUsed:      in.TokensUsed,
		CostUSD:         in.CostUSD,
		Success:         in.Success,
		ErrorMessage:    in.ErrorMessage,
		ModelUsed:       in.ModelUsed,
		Created:         time.Now().UTC(),
	}
	f.records = append(f.records, rec)
	return &rec, nil
}

func (f *fakeStore) FindByDateRange(ctx context.Context, start, end time.Time) ([]metrics.Record, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.records, nil
}

func (f *fakeStore) SumCostByDateRange(ctx context.Context, start, end time.Time) (float64, error) {
	if f.queryErr != nil {
		return 0, f.queryErr
	}
	var total float64
	for _, rec := range f.records {
		if rec.CostUSD != nil {
			total += *rec.CostUSD
		}
	}
	return total, nil
}

func (f *fakeStore) RecentErrors(ctx context.Context, limit int) ([]metrics.Record, error) {
	if limit < 1 {
		return nil, metrics.ErrInvalidLimit
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []metrics.Record
	for _, rec := range f.records {
		if !rec.Success {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) TaskTypeSummary(ctx context.Context, start, end time.Time) ([]metrics.TaskTypeSummary, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	byType := map[string]*metrics.TaskTypeSummary{}
	successes := map[string]int{}
	var order []string
	for _, rec := range f.records {
		row, ok := byType[rec.TaskType]
		if !ok {
			row = &metrics.TaskTypeSummary{TaskType: rec.TaskType}
			byType[rec.TaskType] = row
			order = append(order, rec.TaskType)
		}
		row.Count++
		if rec.Success {
			successes[rec.TaskType]++
		}
		if rec.CostUSD != nil {
			row.TotalCostUSD += *rec.CostUSD
		}
	}
	var out []metrics.TaskTypeSummary
	for _, taskType := range order {
		row := byType[taskType]
		row.SuccessRatePercent = 100 * float64(successes[taskType]) / float64(row.Count)
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

func setupTestHandler(t *testing.T, store *fakeStore) (*Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewWithClient(client, map[string]config.ServiceLimit{
		"anthropic": {Limit: 10, Window: time.Hour},
		"google":    {Limit: 20, Window: time.Hour},
	}, 25, false)

	meter := metrics.NewService(store, metrics.ServiceOptions{
		Enabled:           true,
		DailyCostLimitUSD: 2.50,
	}, nil)
	estimator := pricing.NewEstimator(config.Default().Pricing, pricing.DefaultPrecision)
	auth := NewAuthenticator(testSecret)

	return NewHandler(meter, limiter, estimator, auth, prometheus.NewRegistry()), mr
}

func serve(t *testing.T, h *Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": role,
		"sub":  "ops",
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func seedRecord(t *testing.T, store *fakeStore, taskType string, success bool, cost float64) {
	t.Helper()
	var errMsg *string
	if !success {
		msg := "upstream failure"
		errMsg = &msg
	}
	_, err := store.Insert(context.Background(), metrics.RecordInput{
		TaskType:        taskType,
		ExecutionTimeMS: 150,
		CostUSD:         &cost,
		Success:         success,
		ErrorMessage:    errMsg,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRegisterRoutes(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	routes := []struct {
		path   string
		method string
	}{
		{"/api/v1/metrics/summary", "GET"},
		{"/api/v1/metrics/task-types", "GET"},
		{"/api/v1/metrics/errors", "GET"},
		{"/api/v1/metrics/daily-cost", "GET"},
		{"/api/v1/usage", "GET"},
		{"/api/v1/usage/anthropic", "GET"},
		{"/api/v1/usage/anthropic/reset", "POST"},
		{"/api/v1/pricing/estimate", "GET"},
		{"/health", "GET"},
		{"/metrics", "GET"},
	}

	for _, route := range routes {
		req := httptest.NewRequest(route.method, route.path, nil)
		match := &mux.RouteMatch{}
		if !r.Match(req, match) {
			t.Errorf("route %s %s not registered", route.method, route.path)
		}
	}
}

func TestGetSummary(t *testing.T) {
	store := &fakeStore{}
	seedRecord(t, store, "anthropic_summarize", true, 0.10)
	seedRecord(t, store, "anthropic_summarize", false, 0.0)
	h, _ := setupTestHandler(t, store)

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/metrics/summary", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var summary metrics.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.TotalCalls != 2 {
		t.Errorf("total calls = %d, want 2", summary.TotalCalls)
	}
	if summary.SuccessRatePercent != 50 {
		t.Errorf("success rate = %v, want 50", summary.SuccessRatePercent)
	}
}

func TestGetSummaryStorageFailure(t *testing.T) {
	store := &fakeStore{queryErr: fmt.Errorf("%w: summary: connection refused", metrics.ErrStorage)}
	h, _ := setupTestHandler(t, store)

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/metrics/summary", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["message"] != "Metrics storage unavailable" {
		t.Errorf("message = %q", body["message"])
	}
}

func TestGetTaskTypeSummary(t *testing.T) {
	store := &fakeStore{}
	seedRecord(t, store, "anthropic_summarize", true, 0.10)
	seedRecord(t, store, "google_translate_text", true, 0.02)
	h, _ := setupTestHandler(t, store)

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/metrics/task-types?start=2026-08-01&end=2026-08-31", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var body struct {
		TaskTypes []metrics.TaskTypeSummary `json:"task_types"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.TaskTypes) != 2 {
		t.Fatalf("task types = %d, want 2", len(body.TaskTypes))
	}
}

func TestGetTaskTypeSummaryBadDates(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})

	cases := []string{
		"/api/v1/metrics/task-types?start=not-a-date",
		"/api/v1/metrics/task-types?start=2026-08-31&end=2026-08-01",
	}
	for _, path := range cases {
		rr := serve(t, h, httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rr.Code)
		}
	}
}

func TestGetRecentErrors(t *testing.T) {
	store := &fakeStore{}
	seedRecord(t, store, "anthropic_summarize", true, 0.10)
	seedRecord(t, store, "anthropic_summarize", false, 0.0)
	h, _ := setupTestHandler(t, store)

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/metrics/errors?limit=5", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d, want 1", body.Count)
	}
}

func TestGetRecentErrorsInvalidLimit(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})

	for _, path := range []string{
		"/api/v1/metrics/errors?limit=abc",
		"/api/v1/metrics/errors?limit=0",
	} {
		rr := serve(t, h, httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rr.Code)
		}
	}
}

func TestGetDailyCost(t *testing.T) {
	store := &fakeStore{}
	seedRecord(t, store, "anthropic_summarize", true, 2.50)
	h, _ := setupTestHandler(t, store)

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/metrics/daily-cost", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body struct {
		SpentUSD     float64 `json:"spent_usd"`
		LimitUSD     float64 `json:"limit_usd"`
		LimitReached bool    `json:"limit_reached"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.SpentUSD != 2.50 || body.LimitUSD != 2.50 {
		t.Errorf("spent = %v, limit = %v", body.SpentUSD, body.LimitUSD)
	}
	if !body.LimitReached {
		t.Error("limit_reached should be true")
	}
}

func TestGetServiceUsage(t *testing.T) {
	h, mr := setupTestHandler(t, &fakeStore{})
	mr.Set("aimeter:ratelimit:anthropic", "4")

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/usage/anthropic", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var usage ratelimit.Usage
	if err := json.Unmarshal(rr.Body.Bytes(), &usage); err != nil {
		t.Fatal(err)
	}
	if usage.Current != 4 || usage.Limit != 10 || usage.Remaining != 6 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestGetServiceUsageUnknown(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/usage/openai", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestGetCombinedUsage(t *testing.T) {
	h, mr := setupTestHandler(t, &fakeStore{})
	mr.Set("aimeter:ratelimit:anthropic", "3")
	mr.Set("aimeter:ratelimit:google", "2")

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/usage", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var usage ratelimit.Usage
	if err := json.Unmarshal(rr.Body.Bytes(), &usage); err != nil {
		t.Fatal(err)
	}
	if usage.Current != 5 || usage.Limit != 25 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestResetServiceUsageAuth(t *testing.T) {
	h, mr := setupTestHandler(t, &fakeStore{})
	mr.Set("aimeter:ratelimit:anthropic", "7")

	// No token
	rr := serve(t, h, httptest.NewRequest("POST", "/api/v1/usage/anthropic/reset", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rr.Code)
	}

	// Valid token, wrong role
	req := httptest.NewRequest("POST", "/api/v1/usage/anthropic/reset", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "viewer"))
	rr = serve(t, h, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer: status = %d, want 403", rr.Code)
	}
	if got, _ := mr.Get("aimeter:ratelimit:anthropic"); got != "7" {
		t.Errorf("counter changed without authorization: %s", got)
	}

	// Admin token
	req = httptest.NewRequest("POST", "/api/v1/usage/anthropic/reset", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	rr = serve(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if mr.Exists("aimeter:ratelimit:anthropic") {
		t.Error("counter should be deleted after reset")
	}
}

func TestResetServiceUsageUnknown(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})

	req := httptest.NewRequest("POST", "/api/v1/usage/openai/reset", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	rr := serve(t, h, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestGetEstimate(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})

	rr := serve(t, h, httptest.NewRequest("GET", "/api/v1/pricing/estimate?provider=google_translate&volume=1000000", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var estimate pricing.Estimate
	if err := json.Unmarshal(rr.Body.Bytes(), &estimate); err != nil {
		t.Fatal(err)
	}
	if estimate.CostUSD != 20.0 {
		t.Errorf("cost = %v, want 20.0", estimate.CostUSD)
	}
}

func TestGetEstimateErrors(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})

	cases := []struct {
		path string
		want int
	}{
		{"/api/v1/pricing/estimate?provider=unknown&volume=100", http.StatusNotFound},
		{"/api/v1/pricing/estimate?provider=google_translate&volume=abc", http.StatusBadRequest},
		{"/api/v1/pricing/estimate?volume=100", http.StatusBadRequest},
		{"/api/v1/pricing/estimate?provider=google_translate&volume=-5", http.StatusBadRequest},
	}
	for _, tc := range cases {
		rr := serve(t, h, httptest.NewRequest("GET", tc.path, nil))
		if rr.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.path, rr.Code, tc.want)
		}
	}
}

func TestGetHealth(t *testing.T) {
	h, _ := setupTestHandler(t, &fakeStore{})
	rr := serve(t, h, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	store := &fakeStore{pingErr: fmt.Errorf("connection refused")}
	h, _ = setupTestHandler(t, store)
	rr = serve(t, h, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", rr.Code)
	}
}
