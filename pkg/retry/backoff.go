// Package retry retries transient failures of outbound API calls made by
// the HTTP-backed adapters, with exponential, linear or constant backoff.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how to calculate the wait before the next attempt.
type BackoffStrategy int

const (
	// BackoffExponential uses exponential backoff: base * 2^(attempt-1)
	BackoffExponential BackoffStrategy = iota

	// BackoffLinear uses linear backoff: base * attempt
	BackoffLinear

	// BackoffConstant uses constant backoff: base (no increase)
	BackoffConstant
)

const (
	// DefaultBaseInterval is the wait after the first failed attempt.
	DefaultBaseInterval = 500 * time.Millisecond

	// DefaultMaxInterval caps a single wait.
	DefaultMaxInterval = 10 * time.Second

	// DefaultMaxAttempts is the total number of attempts, including the first.
	DefaultMaxAttempts = 3
)

// BackoffConfig configures the backoff behavior.
type BackoffConfig struct {
	// Strategy is the backoff strategy to use.
	// Default is BackoffExponential.
	Strategy BackoffStrategy

	// BaseInterval is the base interval for backoff calculation.
	BaseInterval time.Duration

	// MaxInterval is the maximum interval between attempts.
	MaxInterval time.Duration

	// Jitter adds randomness to prevent thundering herd.
	// Value between 0.0 (no jitter) and 1.0 (full jitter).
	Jitter float64
}

// DefaultBackoffConfig returns a BackoffConfig with default values.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Strategy:     BackoffExponential,
		BaseInterval: DefaultBaseInterval,
		MaxInterval:  DefaultMaxInterval,
		Jitter:       0.1,
	}
}

// Interval returns the wait after the given number of failed attempts.
//
// Schedule with the default 500ms base and no jitter:
//
//	attempt 1: 500ms
//	attempt 2: 1s
//	attempt 3: 2s
//	attempt 4: 4s
//	attempt 5: 8s
//	attempt 6: 10s (capped)
func (c *BackoffConfig) Interval(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	var interval time.Duration

	switch c.Strategy {
	case BackoffLinear:
		interval = c.BaseInterval * time.Duration(attempts)

	case BackoffConstant:
		interval = c.BaseInterval

	default:
		multiplier := math.Pow(2, float64(attempts-1))
		interval = time.Duration(float64(c.BaseInterval) * multiplier)
	}

	if c.MaxInterval > 0 && interval > c.MaxInterval {
		interval = c.MaxInterval
	}

	if c.Jitter > 0 {
		interval = c.applyJitter(interval)
	}

	return interval
}

// applyJitter spreads interval over [1-jitter, 1+jitter].
func (c *BackoffConfig) applyJitter(interval time.Duration) time.Duration {
	jitter := c.Jitter
	if jitter > 1 {
		jitter = 1
	}

	jitterRange := float64(interval) * jitter
	jitterValue := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(interval) + jitterValue)
}

// Schedule returns the waits for maxAttempts failed attempts, without
// jitter.
func (c *BackoffConfig) Schedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 0 {
		return nil
	}

	preview := *c
	preview.Jitter = 0

	schedule := make([]time.Duration, maxAttempts)
	for i := range maxAttempts {
		schedule[i] = preview.Interval(i + 1)
	}
	return schedule
}
