package retry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the per-subagent circuit breakers.
type BreakerSettings struct {
	ConsecutiveFailures uint32        // Failures that open the circuit (default 5)
	OpenTimeout         time.Duration // Time spent open before probing (default 30s)
	HalfOpenRequests    uint32        // Trial calls allowed while half-open (default 3)
}

// BreakerRegistry keeps one circuit breaker per subagent. A tripped breaker
// throttles calls for that subagent until a trial call succeeds; it never fails
// them on its own.
type BreakerRegistry struct {
	mu       sync.Mutex
	settings BreakerSettings
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates a registry. Zero settings use the defaults.
func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 3
	}
	return &BreakerRegistry{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (r *BreakerRegistry) Get(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	threshold := r.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: r.settings.HalfOpenRequests,
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("WARNING: circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Cancellation and structural errors say nothing about agent health.
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var te *TaskError
			if errors.As(err, &te) && !te.Recoverable {
				return true
			}
			return false
		},
	})

	r.breakers[key] = cb
	return cb
}

// State returns the current state of the breaker for key.
func (r *BreakerRegistry) State(key string) gobreaker.State {
	return r.Get(key).State()
}

// Call runs fn through the breaker for key. While the circuit is open or
// half-open and saturated, Call waits for the next trial slot instead of
// failing, so a rejected call never costs the caller an attempt or hides the
// agent's own error. Only ctx ends the wait.
func Call[T any](ctx context.Context, r *BreakerRegistry, key string, fn func() (T, error)) (T, error) {
	var zero T
	if r == nil {
		return fn()
	}
	cb := r.Get(key)
	poll := min(r.settings.OpenTimeout, time.Second)

	for {
		out, err := cb.Execute(func() (interface{}, error) {
			return fn()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(poll):
			}
			continue
		}
		if v, ok := out.(T); ok {
			return v, err
		}
		return zero, err
	}
}
