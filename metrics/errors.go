// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package metrics

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage wraps backing-store failures so callers can distinguish a
	// retry/degrade situation from bad input
	ErrStorage = errors.New("metrics storage unavailable")

	// ErrInvalidLimit is returned for non-positive result limits
	ErrInvalidLimit = errors.New("limit must be at least 1")
)

// ValidationError identifies the offending field of a rejected RecordInput
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid metric record: %s %s", e.Field, e.Reason)
}

// storageErr wraps a driver error under ErrStorage
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
