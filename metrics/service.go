// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package metrics

import (
	"context"
	"errors"
	"time"

	"axonflow/aimeter/shared/logger"
)

// ServiceOptions tunes accounting behavior
type ServiceOptions struct {
	// Enabled gates all recording; when false Record is a silent no-op
	// so callers need no conditional around instrumentation
	Enabled bool

	// StrictAccounting propagates write-side storage failures to the
	// caller instead of logging and swallowing them. Off by default: the
	// business operation that triggered the AI call should not fail
	// merely because metrics recording failed.
	StrictAccounting bool

	// DailyCostLimitUSD is the configured daily spend ceiling; zero
	// means unlimited
	DailyCostLimitUSD float64

	// CostAlerts enables the 80%-of-ceiling crossing alert
	CostAlerts bool
}

// Service is the accounting entry point: it validates and writes call
// records, and answers the read-side aggregation queries the dashboard
// and the budget check need.
type Service struct {
	store Store
	opts  ServiceOptions
	log   *logger.Logger
	inst  *Instrumentation
}

// NewService creates a metrics service over the given store
func NewService(store Store, opts ServiceOptions, inst *Instrumentation) *Service {
	return &Service{
		store: store,
		opts:  opts,
		log:   logger.New("metrics"),
		inst:  inst,
	}
}

// Record writes one call-attempt record. Validation failures return a
// *ValidationError and write nothing. Storage failures are logged as an
// accounting gap and swallowed unless StrictAccounting is set.
func (s *Service) Record(ctx context.Context, in RecordInput) (*Record, error) {
	if !s.opts.Enabled {
		return nil, nil
	}

	rec, err := s.store.Insert(ctx, in)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}

		// Accounting gap: the external call already happened and its
		// outcome must not be blocked on our bookkeeping
		s.log.Error("failed to record AI metric", map[string]interface{}{
			"task_type": in.TaskType,
			"error":     err.Error(),
		})
		if s.opts.StrictAccounting {
			return nil, err
		}
		return nil, nil
	}

	if s.inst != nil {
		s.inst.ObserveCall(rec)
	}

	s.log.Debug("recorded AI metric", map[string]interface{}{
		"id":        rec.ID,
		"task_type": rec.TaskType,
		"success":   rec.Success,
	})

	return rec, nil
}

// FindByDateRange proxies the store's inclusive range read
func (s *Service) FindByDateRange(ctx context.Context, start, end time.Time) ([]Record, error) {
	return s.store.FindByDateRange(ctx, start, end)
}

// SumCostByDateRange proxies the store's cost total
func (s *Service) SumCostByDateRange(ctx context.Context, start, end time.Time) (float64, error) {
	return s.store.SumCostByDateRange(ctx, start, end)
}

// RecentErrors proxies the store's error feed
func (s *Service) RecentErrors(ctx context.Context, limit int) ([]Record, error) {
	return s.store.RecentErrors(ctx, limit)
}

// TaskTypeSummary proxies the store's grouped aggregation
func (s *Service) TaskTypeSummary(ctx context.Context, start, end time.Time) ([]TaskTypeSummary, error) {
	return s.store.TaskTypeSummary(ctx, start, end)
}

// DailyCost returns the spend for the UTC day containing t
func (s *Service) DailyCost(ctx context.Context, t time.Time) (float64, error) {
	t = t.UTC()
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)
	return s.store.SumCostByDateRange(ctx, dayStart, dayEnd)
}

// IsDailyCostLimitReached reports whether today's spend has met or passed
// the configured ceiling. A zero ceiling means unlimited.
func (s *Service) IsDailyCostLimitReached(ctx context.Context) (bool, error) {
	if s.opts.DailyCostLimitUSD <= 0 {
		return false, nil
	}

	spent, err := s.DailyCost(ctx, time.Now())
	if err != nil {
		return false, err
	}
	return spent >= s.opts.DailyCostLimitUSD, nil
}

// CheckCostAlert logs a cost alert when the new spend crosses 80% of the
// daily ceiling. Called after each priced operation with the running
// daily total and the cost of the operation just completed.
func (s *Service) CheckCostAlert(currentCost, newCost float64) {
	if !s.opts.CostAlerts || s.opts.DailyCostLimitUSD <= 0 {
		return
	}

	threshold := s.opts.DailyCostLimitUSD * 0.8
	if currentCost < threshold && currentCost+newCost >= threshold {
		s.log.Warn("daily AI spend reached 80% of ceiling", map[string]interface{}{
			"spent_usd":   currentCost + newCost,
			"ceiling_usd": s.opts.DailyCostLimitUSD,
		})
	}
}

// MetricsSummary returns the all-time top-line numbers for the dashboard
func (s *Service) MetricsSummary(ctx context.Context) (*Summary, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()

	tasks, err := s.store.TaskTypeSummary(ctx, start, end)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	var successes float64
	for _, task := range tasks {
		summary.TotalCalls += task.Count
		summary.TotalCostUSD += task.TotalCostUSD
		successes += task.SuccessRatePercent / 100 * float64(task.Count)
	}
	if summary.TotalCalls > 0 {
		summary.SuccessRatePercent = 100 * successes / float64(summary.TotalCalls)
	}

	return summary, nil
}

// DailyCostLimit returns the configured ceiling (zero means unlimited)
func (s *Service) DailyCostLimit() float64 {
	return s.opts.DailyCostLimitUSD
}

// IsHealthy reports backing-store reachability
func (s *Service) IsHealthy(ctx context.Context) bool {
	return s.store.Ping(ctx) == nil
}
