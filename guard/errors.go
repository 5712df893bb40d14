// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package guard

import (
	"fmt"
	"time"
)

// LimitError reports a call denied because the service's fixed-window
// call ceiling is exhausted
type LimitError struct {
	ServiceKey string
	ResetsAt   time.Time
}

func (e *LimitError) Error() string {
	if e.ResetsAt.IsZero() {
		return fmt.Sprintf("rate limit reached for %s", e.ServiceKey)
	}
	return fmt.Sprintf("rate limit reached for %s, resets at %s", e.ServiceKey, e.ResetsAt.UTC().Format(time.RFC3339))
}

// BudgetError reports a call denied because today's accumulated cost has
// reached the configured daily ceiling
type BudgetError struct {
	SpentUSD float64
	LimitUSD float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("daily cost limit reached: spent $%.2f of $%.2f", e.SpentUSD, e.LimitUSD)
}
