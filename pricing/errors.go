// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package pricing

import "errors"

var (
	// ErrUnknownProvider is returned when no pricing table exists for the
	// requested provider. This is a configuration error and propagates
	// rather than defaulting to a zero cost.
	ErrUnknownProvider = errors.New("no pricing configured for provider")

	// ErrNegativeVolume is returned for negative character or token counts
	ErrNegativeVolume = errors.New("volume must not be negative")
)
