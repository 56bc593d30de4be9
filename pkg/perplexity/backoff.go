package perplexity

import (
	"math"
	"time"
)

// BackoffConfig configures retry delays for the client.
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoffConfig returns the retry defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 3,
	}
}

// backoffDelay returns the delay before retry attempt n (1-indexed):
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
func backoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if attempt <= 0 {
		return cfg.BaseDelay
	}
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}
