package ai

import (
	"context"
	"errors"

	"soop-chat/backend/pkg/logger"
	"soop-chat/backend/pkg/resilience"
)

// BreakerCompleter short-circuits completions while the upstream keeps failing
type BreakerCompleter struct {
	next    Completer
	breaker *resilience.CircuitBreaker
}

// NewBreakerCompleter wraps next in a circuit breaker. Caller cancellation does not count as an upstream failure.
func NewBreakerCompleter(next Completer, cfg resilience.CircuitBreakerConfig, log *logger.Logger) *BreakerCompleter {
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &BreakerCompleter{
		next:    next,
		breaker: resilience.NewCircuitBreaker(cfg, log),
	}
}

// Complete forwards to the wrapped Completer through the breaker
func (b *BreakerCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	var text string
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = b.next.Complete(ctx, prompt)
		return err
	})
	return text, err
}

// Stats exposes the breaker counters
func (b *BreakerCompleter) Stats() resilience.Stats {
	return b.breaker.Stats()
}
