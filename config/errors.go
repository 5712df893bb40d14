// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package config

import "errors"

// ErrInvalidConfig is returned when loaded configuration fails validation
var ErrInvalidConfig = errors.New("invalid configuration")
