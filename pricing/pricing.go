// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package pricing estimates USD costs for external AI provider calls from
// static per-provider rate tables. Estimation is pure: no I/O, no clocks,
// deterministic output for a given table and volume.
package pricing

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"axonflow/aimeter/config"
)

// Unit kinds a provider can be metered in
const (
	UnitCharacter = "character"
	UnitToken     = "token"
)

// DefaultPrecision is the number of decimal places an Estimate is rounded
// to. Rounding at estimation time keeps float drift from accumulating
// across many sub-cent calls.
const DefaultPrecision = 6

// Estimate is the priced outcome of a prospective or completed call
type Estimate struct {
	Provider  string  `json:"provider"`
	Unit      string  `json:"unit"`
	UnitPrice float64 `json:"unit_price_usd"`
	UnitSize  int64   `json:"unit_size"`
	Volume    int64   `json:"volume"`
	CostUSD   float64 `json:"cost_usd"`
}

// Estimator maps (provider, volume) to estimated USD cost using rate
// tables supplied at construction time.
type Estimator struct {
	mu        sync.RWMutex
	providers map[string]config.ProviderPricing
	precision int
}

// NewEstimator creates an Estimator from configured provider tables.
// Precision outside [0,12] falls back to DefaultPrecision.
func NewEstimator(providers map[string]config.ProviderPricing, precision int) *Estimator {
	if precision < 0 || precision > 12 {
		precision = DefaultPrecision
	}

	// Copy so later config mutation cannot skew estimates
	tables := make(map[string]config.ProviderPricing, len(providers))
	for name, p := range providers {
		tables[strings.ToLower(name)] = p
	}

	return &Estimator{
		providers: tables,
		precision: precision,
	}
}

// Estimate prices a flat-rate call: volume units (characters or tokens)
// against the provider's single rate. Volume 0 costs exactly 0.
func (e *Estimator) Estimate(provider string, volume int64) (Estimate, error) {
	if volume < 0 {
		return Estimate{}, fmt.Errorf("%w: volume %d", ErrNegativeVolume, volume)
	}

	p, err := e.lookup(provider)
	if err != nil {
		return Estimate{}, err
	}

	cost := e.round(float64(volume) * p.RatePerUnit / float64(p.UnitSize))

	return Estimate{
		Provider:  strings.ToLower(provider),
		Unit:      p.Unit,
		UnitPrice: p.RatePerUnit,
		UnitSize:  p.UnitSize,
		Volume:    volume,
		CostUSD:   cost,
	}, nil
}

// EstimateTokens prices a token-metered call with separate input and
// output rates.
func (e *Estimator) EstimateTokens(provider string, inputTokens, outputTokens int64) (Estimate, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return Estimate{}, fmt.Errorf("%w: tokens in=%d out=%d", ErrNegativeVolume, inputTokens, outputTokens)
	}

	p, err := e.lookup(provider)
	if err != nil {
		return Estimate{}, err
	}

	inputCost := float64(inputTokens) * p.InputPerUnit / float64(p.UnitSize)
	outputCost := float64(outputTokens) * p.OutputPerUnit / float64(p.UnitSize)

	return Estimate{
		Provider:  strings.ToLower(provider),
		Unit:      p.Unit,
		UnitPrice: p.InputPerUnit,
		UnitSize:  p.UnitSize,
		Volume:    inputTokens + outputTokens,
		CostUSD:   e.round(inputCost + outputCost),
	}, nil
}

// Providers returns the configured provider names
func (e *Estimator) Providers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.providers))
	for name := range e.providers {
		names = append(names, name)
	}
	return names
}

// SetProviderPricing replaces the table for one provider at runtime
func (e *Estimator) SetProviderPricing(provider string, p config.ProviderPricing) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[strings.ToLower(provider)] = p
}

func (e *Estimator) lookup(provider string) (config.ProviderPricing, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.providers[strings.ToLower(provider)]
	if !ok {
		// No silent default rate: an unknown provider is an operator
		// error and must not be masked as a $0 call
		return config.ProviderPricing{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p, nil
}

func (e *Estimator) round(cost float64) float64 {
	factor := math.Pow10(e.precision)
	return math.Round(cost*factor) / factor
}

// CountCharacters totals the rune count across strings, for pricing
// character-metered work like translation batches.
func CountCharacters(values []string) int64 {
	var total int64
	for _, s := range values {
		total += int64(len([]rune(s)))
	}
	return total
}
