// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package metrics

import (
	"context"
	"time"
)

// Store defines the persistence interface for the append-only call log.
// Implementations must never expose update or delete operations on
// existing records.
type Store interface {
	// Insert appends one record and returns it with the generated id and
	// created timestamp populated
	Insert(ctx context.Context, in RecordInput) (*Record, error)

	// FindByDateRange returns records with created in [start, end],
	// inclusive on both ends, oldest first
	FindByDateRange(ctx context.Context, start, end time.Time) ([]Record, error)

	// SumCostByDateRange totals non-null cost_usd over [start, end];
	// zero when no rows match
	SumCostByDateRange(ctx context.Context, start, end time.Time) (float64, error)

	// RecentErrors returns the limit most recent failed records,
	// most-recent-first. Ties on created break by insertion order
	// (id descending).
	RecentErrors(ctx context.Context, limit int) ([]Record, error)

	// TaskTypeSummary groups records by task_type over [start, end].
	// Task types with no rows in range are omitted.
	TaskTypeSummary(ctx context.Context, start, end time.Time) ([]TaskTypeSummary, error)

	// Ping checks backing-store connectivity
	Ping(ctx context.Context) error
}
