// Package resilience provides fault tolerance for calls into external collaborators.
package resilience

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Name                string
	MaxHalfOpenRequests uint32        // requests allowed through while half-open
	Interval            time.Duration // closed-state counter reset interval
	Timeout             time.Duration // open-state duration before half-open
	ConsecutiveFailures uint32        // trips after this many consecutive failures
	FailureRatio        float64       // or this failure ratio...
	MinRequests         uint32        // ...once this many requests were seen
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		MaxHalfOpenRequests: 3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.6,
		MinRequests:         10,
	}
}

// Breaker wraps gobreaker with a predicate for errors that should not count as failures.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker. Errors for which benign returns true (e.g. not-found)
// are passed through without tripping the breaker.
func NewBreaker(cfg BreakerConfig, benign func(error) bool, log zerolog.Logger) *Breaker {
	l := log.With().Str("breaker", cfg.Name).Logger()

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || (benign != nil && benign(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn under breaker protection.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// IsOpenError reports whether err came from a rejecting breaker.
func IsOpenError(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
