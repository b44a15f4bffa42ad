package wsbridge

import (
	"math"
	"math/rand"
	"time"
)

// Backoff controls sidecar dial retries.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	// MaxAttempts caps dial attempts per command; zero retries until the
	// caller's context ends.
	MaxAttempts int
}

// DefaultBackoff is used when Options.Backoff is left zero.
var DefaultBackoff = Backoff{
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     15 * time.Second,
	Multiplier:   2,
	Jitter:       true,
}

func (b Backoff) withDefaults() Backoff {
	if b.InitialDelay <= 0 && b.MaxDelay <= 0 && b.Multiplier == 0 {
		maxAttempts := b.MaxAttempts
		b = DefaultBackoff
		b.MaxAttempts = maxAttempts
	}
	return b
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg Backoff, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		delay *= math.Pow(cfg.Multiplier, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
