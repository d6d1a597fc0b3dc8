package adapter

import (
	"context"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig controls per-provider rate limiting and circuit breaking.
// A zero RequestsPerSecond disables the limiter; a zero BreakerFailures
// disables the breaker.
type GuardConfig struct {
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
}

// Guarded wraps an adapter with a token bucket and a circuit breaker.
type Guarded struct {
	inner   Adapter
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded wraps inner according to cfg. logf receives breaker state changes.
func NewGuarded(inner Adapter, cfg GuardConfig, logf func(format string, args ...any)) *Guarded {
	if logf == nil {
		logf = log.Printf
	}
	g := &Guarded{inner: inner}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if cfg.BreakerFailures > 0 {
		timeout := cfg.BreakerTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		failures := cfg.BreakerFailures
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        inner.Name(),
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Rejected requests say nothing about provider health.
			IsSuccessful: func(err error) bool {
				return err == nil || IsPermanent(err)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logf("[adapter] circuit breaker %s changed from %s to %s", name, from, to)
			},
		})
	}

	return g
}

// Name returns the wrapped adapter's identifier.
func (g *Guarded) Name() string {
	return g.inner.Name()
}

// Models returns the wrapped adapter's models.
func (g *Guarded) Models() []string {
	return g.inner.Models()
}

// State reports the breaker state, or closed when no breaker is configured.
func (g *Guarded) State() gobreaker.State {
	if g.breaker == nil {
		return gobreaker.StateClosed
	}
	return g.breaker.State()
}

// Generate waits for a rate token, then calls through the breaker.
func (g *Guarded) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if g.breaker == nil {
		return g.inner.Generate(ctx, req)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Generate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}
