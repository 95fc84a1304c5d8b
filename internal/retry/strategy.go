package retry

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures the retry strategy.
type Config struct {
	MaxAttempts   int           // Total attempts including the first (default 3)
	BackoffFactor float64       // Base of the exponential backoff, in seconds (default 2.0)
	MaxBackoff    time.Duration // Ceiling for a single wait (default 300s)
	RetryOn       []Kind        // Kinds worth retrying (default timeout, network, temporary)
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BackoffFactor: 2.0,
		MaxBackoff:    300 * time.Second,
		RetryOn:       []Kind{KindTimeout, KindNetwork, KindTemporary},
	}
}

// Attempt records one failed attempt.
type Attempt struct {
	Attempt   int
	Kind      Kind
	Err       error
	Backoff   time.Duration // Wait before the next attempt; zero when no retry followed
	Timestamp time.Time
}

// Strategy runs operations with classified, exponentially backed-off retries.
// It holds no per-call state and is safe for concurrent use.
type Strategy struct {
	cfg   Config
	timer backoff.Timer
}

// NewStrategy creates a strategy. Zero fields fall back to DefaultConfig.
func NewStrategy(cfg Config) *Strategy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.RetryOn == nil {
		cfg.RetryOn = def.RetryOn
	}
	return &Strategy{cfg: cfg}
}

// WithTimer replaces the timer used to wait between attempts.
func (s *Strategy) WithTimer(t backoff.Timer) *Strategy {
	s.timer = t
	return s
}

// Config returns the effective configuration.
func (s *Strategy) Config() Config {
	return s.cfg
}

// Backoff returns min(factor^(attempt-1), max) seconds. attempt is 1-indexed.
func (s *Strategy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	secs := math.Pow(s.cfg.BackoffFactor, float64(attempt-1))
	if math.IsInf(secs, 0) || secs*float64(time.Second) >= float64(s.cfg.MaxBackoff) {
		return s.cfg.MaxBackoff
	}
	return time.Duration(secs * float64(time.Second))
}

// ShouldRetry reports whether a failure on attempt should be retried.
func (s *Strategy) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.cfg.MaxAttempts {
		return false
	}
	if !Recoverable(err) {
		return false
	}
	kind := Classify(err)
	for _, k := range s.cfg.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// formulaBackOff feeds Strategy.Backoff to the backoff package.
type formulaBackOff struct {
	s       *Strategy
	attempt *int
}

func (b *formulaBackOff) NextBackOff() time.Duration { return b.s.Backoff(*b.attempt) }
func (b *formulaBackOff) Reset()                     {}

// Execute runs op until it succeeds, a retry is disallowed, or attempts run
// out. The last error is returned together with every failed attempt.
func (s *Strategy) Execute(ctx context.Context, op func(ctx context.Context, attempt int) error) ([]Attempt, error) {
	var attempts []Attempt
	attempt := 0

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempt++
		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.Printf("INFO: succeeded on attempt %d", attempt)
			}
			return nil
		}

		rec := Attempt{
			Attempt:   attempt,
			Kind:      Classify(err),
			Err:       err,
			Timestamp: time.Now(),
		}
		if !s.ShouldRetry(err, attempt) {
			attempts = append(attempts, rec)
			return backoff.Permanent(err)
		}
		rec.Backoff = s.Backoff(attempt)
		attempts = append(attempts, rec)
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Printf("WARNING: attempt %d/%d failed: %v (retrying in %v)", attempt, s.cfg.MaxAttempts, err, wait)
	}

	b := backoff.WithContext(&formulaBackOff{s: s, attempt: &attempt}, ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, s.timer)
	return attempts, err
}
