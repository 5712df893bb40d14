// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package logger provides structured JSON logging shared by all aimeter
// components.
//
// Every log line is a single JSON object with a fixed envelope (timestamp,
// level, component, instance_id, container, message) plus free-form fields.
// Lines go to stdout so the container runtime captures them.
package logger
