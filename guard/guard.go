// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package guard wraps outbound AI calls with the full accounting
// protocol: rate-limit check, daily budget check, timed execution, and
// exactly one metric record per attempt. Call sites that go through the
// guard cannot forget a step and cannot leave an accounting gap when the
// guarded call fails or times out.
package guard

import (
	"context"
	"fmt"
	"time"

	"axonflow/aimeter/metrics"
	"axonflow/aimeter/ratelimit"
	"axonflow/aimeter/shared/logger"
)

// Request identifies one prospective external AI call
type Request struct {
	// ServiceKey selects the rate-limit bucket (e.g. "google",
	// "anthropic")
	ServiceKey string

	// TaskType tags the metric record (e.g. "google_translate_text")
	TaskType string

	// ModelUsed optionally names the provider model for the record
	ModelUsed string
}

// CallResult carries the accounting facts of a completed call
type CallResult struct {
	TokensUsed *int
	CostUSD    *float64
}

// CallFunc performs the guarded external call. It must honor ctx
// cancellation; the guard records the attempt whether or not it
// succeeds.
type CallFunc func(ctx context.Context) (*CallResult, error)

// Guard enforces limits and records usage around external AI calls
type Guard struct {
	limiter *ratelimit.Limiter
	meter   *metrics.Service
	log     *logger.Logger
}

// New creates a Guard over the given limiter and metrics service
func New(limiter *ratelimit.Limiter, meter *metrics.Service) *Guard {
	return &Guard{
		limiter: limiter,
		meter:   meter,
		log:     logger.New("guard"),
	}
}

// Do runs one guarded call. The sequence is fixed:
//
//  1. rate-limit check; denial returns *LimitError with the window reset
//     time and the provider is never invoked
//  2. daily cost ceiling check; denial returns *BudgetError
//  3. the call itself, timed
//  4. exactly one metric record, success or failure
//
// The returned error is the call's own error when the call ran; metric
// recording failures never mask it.
func (g *Guard) Do(ctx context.Context, req Request, call CallFunc) (*CallResult, error) {
	allowed, err := g.limiter.EnforceLimit(ctx, req.ServiceKey)
	if err != nil {
		return nil, err
	}
	if !allowed {
		lerr := &LimitError{ServiceKey: req.ServiceKey}
		if usage, uerr := g.limiter.CurrentUsage(ctx, req.ServiceKey); uerr == nil {
			lerr.ResetsAt = usage.ResetsAt
		}
		g.log.Warn("call denied by rate limit", map[string]interface{}{
			"service":   req.ServiceKey,
			"task_type": req.TaskType,
		})
		return nil, lerr
	}

	spentToday, err := g.meter.DailyCost(ctx, time.Now())
	if err != nil {
		// The call slot is already consumed; record the aborted attempt
		// so the window count and the log stay consistent
		g.record(ctx, req, 0, nil, fmt.Errorf("budget check failed: %w", err))
		return nil, err
	}
	if ceiling := g.meter.DailyCostLimit(); ceiling > 0 && spentToday >= ceiling {
		g.log.Warn("call denied by daily cost ceiling", map[string]interface{}{
			"service":     req.ServiceKey,
			"task_type":   req.TaskType,
			"spent_usd":   spentToday,
			"ceiling_usd": ceiling,
		})
		berr := &BudgetError{SpentUSD: spentToday, LimitUSD: ceiling}
		g.record(ctx, req, 0, nil, berr)
		return nil, berr
	}

	start := time.Now()
	result, callErr := call(ctx)
	elapsed := time.Since(start)

	g.record(ctx, req, int(elapsed.Milliseconds()), result, callErr)

	if callErr == nil && result != nil && result.CostUSD != nil {
		g.meter.CheckCostAlert(spentToday, *result.CostUSD)
	}

	return result, callErr
}

// record writes the one metric record for this attempt
func (g *Guard) record(ctx context.Context, req Request, elapsedMS int, result *CallResult, callErr error) {
	in := metrics.RecordInput{
		TaskType:        req.TaskType,
		ExecutionTimeMS: elapsedMS,
		Success:         callErr == nil,
	}
	if req.ModelUsed != "" {
		model := req.ModelUsed
		in.ModelUsed = &model
	}
	if callErr != nil {
		msg := callErr.Error()
		in.ErrorMessage = &msg
	}
	if result != nil {
		in.TokensUsed = result.TokensUsed
		in.CostUSD = result.CostUSD
	}

	if _, err := g.meter.Record(ctx, in); err != nil {
		// Only strict accounting surfaces this; either way the call
		// outcome stands
		g.log.Error("metric record failed after guarded call", map[string]interface{}{
			"task_type": req.TaskType,
			"error":     err.Error(),
		})
	}
}
