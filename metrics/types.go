// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package metrics is the durable accounting log for external AI calls: an
// append-only store of per-call records plus the read-side aggregation the
// dashboard consumes.
package metrics

import "time"

// MaxTaskTypeLen bounds task_type and model_used column widths
const MaxTaskTypeLen = 50

// Record is one immutable log entry for a single external API call
// attempt. Records are written exactly once per attempt, including
// failures, and never updated or deleted afterwards.
type Record struct {
	ID              string    `json:"id"`
	TaskType        string    `json:"task_type"`
	ExecutionTimeMS int       `json:"execution_time_ms"`
	TokensUsed      *int      `json:"tokens_used,omitempty"`
	CostUSD         *float64  `json:"cost_usd,omitempty"`
	Success         bool      `json:"success"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	ModelUsed       *string   `json:"model_used,omitempty"`
	Created         time.Time `json:"created"`
}

// RecordInput carries the caller-supplied fields for one call attempt
type RecordInput struct {
	TaskType        string
	ExecutionTimeMS int
	Success         bool
	ErrorMessage    *string
	TokensUsed      *int
	CostUSD         *float64
	ModelUsed       *string
}

// TaskTypeSummary aggregates records of one task type over a date range
type TaskTypeSummary struct {
	TaskType           string  `json:"task_type"`
	Count              int     `json:"count"`
	AvgTimeMS          float64 `json:"avg_time_ms"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
	TotalCostUSD       float64 `json:"total_cost_usd"`
	TotalTokens        int64   `json:"total_tokens"`
}

// Summary is the top-line dashboard view across all task types
type Summary struct {
	TotalCalls         int     `json:"total_calls"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
	TotalCostUSD       float64 `json:"total_cost_usd"`
}

// Validate checks a RecordInput before it is written. The error message
// contract is semantic: error_message accompanies failures, but storage
// does not reject a success that carries one.
func (in *RecordInput) Validate() error {
	if in.TaskType == "" {
		return &ValidationError{Field: "task_type", Reason: "must not be empty"}
	}
	if len(in.TaskType) > MaxTaskTypeLen {
		return &ValidationError{Field: "task_type", Reason: "must be at most 50 characters"}
	}
	if in.ModelUsed != nil && len(*in.ModelUsed) > MaxTaskTypeLen {
		return &ValidationError{Field: "model_used", Reason: "must be at most 50 characters"}
	}
	if in.ExecutionTimeMS < 0 {
		return &ValidationError{Field: "execution_time_ms", Reason: "must not be negative"}
	}
	if in.TokensUsed != nil && *in.TokensUsed < 0 {
		return &ValidationError{Field: "tokens_used", Reason: "must not be negative"}
	}
	if in.CostUSD != nil && *in.CostUSD < 0 {
		return &ValidationError{Field: "cost_usd", Reason: "must not be negative"}
	}
	return nil
}
