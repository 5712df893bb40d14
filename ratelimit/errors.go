// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import "errors"

var (
	// ErrNoLimitConfig is returned when a service key has no configured
	// limit. Propagated rather than defaulting, so a typo in a service
	// key cannot silently become "always allowed".
	ErrNoLimitConfig = errors.New("no rate limit configured for service")

	// ErrCacheUnavailable is returned when the backing cache cannot be
	// reached and the limiter is failing closed
	ErrCacheUnavailable = errors.New("rate limit cache unavailable")
)
