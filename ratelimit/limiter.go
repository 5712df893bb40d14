// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package ratelimit gates outbound AI calls against per-service
// fixed-window call-count ceilings. Counters live in Redis so every
// worker process sees the same window state, and the check-and-increment
// runs as one atomic script: concurrent callers can never both slip under
// the ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"axonflow/aimeter/config"
	"axonflow/aimeter/shared/logger"
)

// Usage is a read-only snapshot of one window
type Usage struct {
	ServiceKey string    `json:"service_key"`
	Current    int       `json:"current"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetsAt   time.Time `json:"resets_at,omitempty"`
}

// enforceScript atomically checks the counter against the ceiling and
// increments only when under it. A denied call leaves the count
// untouched. The TTL starts on the first increment of a window.
//
// Returns the new count, or -1 when the call is denied.
var enforceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return -1
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return current
`)

// Limiter enforces configured call-count ceilings per service key
type Limiter struct {
	client   *redis.Client
	services map[string]config.ServiceLimit

	// combinedLimit bounds the aggregate view across all services;
	// configured independently, not the sum of per-service limits
	combinedLimit int

	// failOpen permits calls when Redis is unreachable. Off by default:
	// this limiter exists for cost control, so an unreachable cache
	// denies rather than allowing unmetered spend.
	failOpen bool

	log *logger.Logger
}

// New creates a Limiter from a Redis URL (redis://host:port/db)
func New(redisURL string, services map[string]config.ServiceLimit, combinedLimit int, failOpen bool) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, services, combinedLimit, failOpen), nil
}

// NewWithClient creates a Limiter over an existing Redis client
func NewWithClient(client *redis.Client, services map[string]config.ServiceLimit, combinedLimit int, failOpen bool) *Limiter {
	svc := make(map[string]config.ServiceLimit, len(services))
	for key, s := range services {
		svc[key] = s
	}
	return &Limiter{
		client:        client,
		services:      svc,
		combinedLimit: combinedLimit,
		failOpen:      failOpen,
		log:           logger.New("ratelimit"),
	}
}

// EnforceLimit reports whether a call to serviceKey may proceed, counting
// it against the window when permitted. This is the single mutating entry
// point; callers must not invoke the guarded service when it returns
// false.
func (l *Limiter) EnforceLimit(ctx context.Context, serviceKey string) (bool, error) {
	limit, window, err := l.limitFor(serviceKey)
	if err != nil {
		return false, err
	}
	if limit == 0 {
		// Unlimited service: no counter to maintain
		return true, nil
	}

	result, err := enforceScript.Run(ctx, l.client,
		[]string{l.key(serviceKey)}, limit, window.Milliseconds(),
	).Int64()
	if err != nil {
		return l.failPolicy(serviceKey, err)
	}

	return result != -1, nil
}

// CurrentUsage returns a snapshot of the window without incrementing
func (l *Limiter) CurrentUsage(ctx context.Context, serviceKey string) (*Usage, error) {
	limit, window, err := l.limitFor(serviceKey)
	if err != nil {
		return nil, err
	}

	current, err := l.client.Get(ctx, l.key(serviceKey)).Int()
	if err == redis.Nil {
		current = 0
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	usage := &Usage{
		ServiceKey: serviceKey,
		Current:    current,
		Limit:      limit,
		Remaining:  remaining(current, limit),
	}

	// ResetsAt is best effort: no TTL means the window has not started
	if ttl, err := l.client.PTTL(ctx, l.key(serviceKey)).Result(); err == nil && ttl > 0 {
		usage.ResetsAt = time.Now().UTC().Add(ttl)
	} else if current == 0 {
		usage.ResetsAt = time.Now().UTC().Add(window)
	}

	return usage, nil
}

// CombinedUsage sums current counts across serviceKeys against the
// independently configured aggregate limit
func (l *Limiter) CombinedUsage(ctx context.Context, serviceKeys []string) (*Usage, error) {
	total := 0
	var resetsAt time.Time

	for _, key := range serviceKeys {
		usage, err := l.CurrentUsage(ctx, key)
		if err != nil {
			return nil, err
		}
		total += usage.Current
		if resetsAt.IsZero() || (!usage.ResetsAt.IsZero() && usage.ResetsAt.Before(resetsAt)) {
			resetsAt = usage.ResetsAt
		}
	}

	return &Usage{
		ServiceKey: "combined",
		Current:    total,
		Limit:      l.combinedLimit,
		Remaining:  remaining(total, l.combinedLimit),
		ResetsAt:   resetsAt,
	}, nil
}

// ResetUsage clears the window for serviceKey immediately. Operator and
// test tooling only; not part of the request flow.
func (l *Limiter) ResetUsage(ctx context.Context, serviceKey string) error {
	if _, _, err := l.limitFor(serviceKey); err != nil {
		return err
	}
	if err := l.client.Del(ctx, l.key(serviceKey)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// ServiceKeys returns the configured service keys
func (l *Limiter) ServiceKeys() []string {
	keys := make([]string, 0, len(l.services))
	for key := range l.services {
		keys = append(keys, key)
	}
	return keys
}

// Close releases the Redis connection pool
func (l *Limiter) Close() error {
	return l.client.Close()
}

func (l *Limiter) key(serviceKey string) string {
	return "aimeter:ratelimit:" + serviceKey
}

func (l *Limiter) limitFor(serviceKey string) (int, time.Duration, error) {
	svc, ok := l.services[serviceKey]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrNoLimitConfig, serviceKey)
	}
	return svc.Limit, svc.Window, nil
}

// failPolicy applies the configured behavior when Redis is unreachable
func (l *Limiter) failPolicy(serviceKey string, err error) (bool, error) {
	if l.failOpen {
		l.log.Warn("rate limit cache unavailable, failing open", map[string]interface{}{
			"service": serviceKey,
			"error":   err.Error(),
		})
		return true, nil
	}

	l.log.Error("rate limit cache unavailable, failing closed", map[string]interface{}{
		"service": serviceKey,
		"error":   err.Error(),
	})
	return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}

func remaining(current, limit int) int {
	if limit <= 0 {
		return -1 // unlimited
	}
	if current >= limit {
		return 0
	}
	return limit - current
}
