package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/logging"
)

// BreakerConfig tunes the circuit breaker around snapshot writes.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// DefaultBreakerConfig trips after three consecutive failures and probes
// again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Name: "snapshot-writes", FailureThreshold: 3, Timeout: time.Minute}
}

// Breaker guards a Backend's writes. While open, Save fails fast with
// history.ErrBackendUnavailable. Loads pass straight through.
type Breaker struct {
	backend history.Backend
	cb      *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps backend.
func NewBreaker(backend history.Backend, cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}
	return &Breaker{backend: backend, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

// Load delegates to the wrapped backend.
func (b *Breaker) Load(ctx context.Context) (*history.Snapshot, error) {
	return b.backend.Load(ctx)
}

// Save writes through the breaker.
func (b *Breaker) Save(ctx context.Context, snap *history.Snapshot) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.backend.Save(ctx, snap)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", history.ErrBackendUnavailable, err)
	}
	return err
}

// State reports the breaker state.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
