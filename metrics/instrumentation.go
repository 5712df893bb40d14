// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Instrumentation exports call accounting as Prometheus series alongside
// the durable store, for operators who scrape rather than poll the
// reporting API.
type Instrumentation struct {
	calls    *prometheus.CounterVec
	errors   *prometheus.CounterVec
	costUSD  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewInstrumentation creates and registers the aimeter collectors on reg
func NewInstrumentation(reg prometheus.Registerer) *Instrumentation {
	inst := &Instrumentation{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aimeter",
			Name:      "ai_calls_total",
			Help:      "External AI call attempts recorded, by task type and outcome.",
		}, []string{"task_type", "success"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aimeter",
			Name:      "ai_call_errors_total",
			Help:      "Failed external AI call attempts, by task type.",
		}, []string{"task_type"}),
		costUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aimeter",
			Name:      "ai_cost_usd_total",
			Help:      "Estimated USD cost of recorded calls, by task type.",
		}, []string{"task_type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aimeter",
			Name:      "ai_call_duration_seconds",
			Help:      "Wall-clock duration of external AI calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"task_type"}),
	}

	reg.MustRegister(inst.calls, inst.errors, inst.costUSD, inst.duration)
	return inst
}

// ObserveCall updates the series for one recorded call
func (i *Instrumentation) ObserveCall(rec *Record) {
	success := "false"
	if rec.Success {
		success = "true"
	}

	i.calls.WithLabelValues(rec.TaskType, success).Inc()
	if !rec.Success {
		i.errors.WithLabelValues(rec.TaskType).Inc()
	}
	if rec.CostUSD != nil {
		i.costUSD.WithLabelValues(rec.TaskType).Add(*rec.CostUSD)
	}
	i.duration.WithLabelValues(rec.TaskType).Observe(float64(rec.ExecutionTimeMS) / 1000)
}
