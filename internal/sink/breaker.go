package sink

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls when a sink is considered unhealthy.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// Guarded fails fast while the wrapped sink keeps failing, so a dead destination does not
// tie up every tick in connection timeouts. A rejected call is reported like any other
// write failure and the batch stays in the log.
type Guarded struct {
	inner Sink
	cb    *gobreaker.CircuitBreaker
}

func NewGuarded(name string, inner Sink, cfg BreakerConfig) *Guarded {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 3
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	st := gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("sink", name).Str("from", from.String()).Str("to", to.String()).Msg("Sink breaker state changed")
		},
	}
	return &Guarded{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (g *Guarded) Write(ctx context.Context, destination string, rows []Row, partitionColumn string) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.Write(ctx, destination, rows, partitionColumn)
	})
	return err
}

// State reports the breaker state ("closed", "half-open", "open").
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}
