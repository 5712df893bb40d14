// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main is the entry point for the aimeter service.
//
// aimeter is the AI usage accounting layer. It:
// - Records the cost, latency, and outcome of every external AI call
// - Enforces fixed-window per-provider call ceilings backed by Redis
// - Enforces a daily spend ceiling across all providers
// - Serves usage and cost reporting APIs for dashboards
//
// Usage:
//
//	./aimeterd
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8082)
//	AIMETER_CONFIG - path to YAML config file (optional)
//	DATABASE_DRIVER - postgres or mysql (default: postgres)
//	DATABASE_URL - metrics store connection string
//	REDIS_URL - rate limiter cache URL
//	AIMETER_ADMIN_SECRET - HMAC secret for admin endpoints
package main

import (
	"axonflow/aimeter/server"
)

func main() {
	server.Run()
}
