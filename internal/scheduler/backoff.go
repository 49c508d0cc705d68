// Package scheduler decides when the next removal attempt may happen: the
// throttling cooldown and the retry delay after a transient failure.
package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures the delay between attempts.
type RetryConfig struct {
	// Delay is the pause after every attempt; the base for backoff.
	Delay time.Duration `json:"delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `json:"max_delay"`

	// Multiplier grows the delay for each consecutive transient failure.
	// 1 keeps the delay fixed.
	Multiplier float64 `json:"multiplier"`

	// JitterFactor is the random jitter as a fraction of delay (0.0-1.0).
	JitterFactor float64 `json:"jitter_factor"`

	// MaxAttempts abandons an identifier after this many consecutive
	// transient failures. 0 retries forever.
	MaxAttempts int `json:"max_attempts"`
}

// DefaultRetryConfig returns the fixed two-second pacing the endpoint tolerates.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Delay:      2 * time.Second,
		MaxDelay:   2 * time.Minute,
		Multiplier: 1.0,
	}
}

// RetryPolicy computes delays from a RetryConfig.
type RetryPolicy struct {
	config RetryConfig
	rand   func() float64
}

// NewRetryPolicy creates a policy, normalising out-of-range settings.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryConfig().Delay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}
	if cfg.JitterFactor > 1 {
		cfg.JitterFactor = 1
	}
	return &RetryPolicy{config: cfg, rand: rand.Float64}
}

// Config returns the normalised configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.config
}

// NextDelay returns the pause before the next attempt. failures is the
// number of consecutive transient failures of the identifier just handled;
// 0 after a success.
func (p *RetryPolicy) NextDelay(failures int) time.Duration {
	attempt := failures - 1
	delay := ExponentialBackoff(attempt, p.config.Delay, p.config.MaxDelay, p.config.Multiplier)
	if p.config.JitterFactor > 0 {
		delay = jitter(delay, p.config.JitterFactor, p.rand)
	}
	return delay
}

// Exhausted reports whether failures has reached the attempt cap.
func (p *RetryPolicy) Exhausted(failures int) bool {
	return p.config.MaxAttempts > 0 && failures >= p.config.MaxAttempts
}

func jitter(base time.Duration, factor float64, rnd func() float64) time.Duration {
	j := float64(base) * factor
	d := time.Duration(float64(base) + rnd()*2*j - j)
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

// ExponentialBackoff returns the delay for the nth retry attempt.
func ExponentialBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 0 {
		return initial
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
