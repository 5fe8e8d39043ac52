package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
)

// BreakerConfig tunes the per-domain circuit breakers.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// BreakerSource wraps a CounterSource with one circuit breaker per domain.
// While a breaker is open, fetches fail fast with ServiceUnavailableError.
type BreakerSource struct {
	next     CounterSource
	breakers map[domain.Domain]*gobreaker.CircuitBreaker
}

// NewBreakerSource wraps next.
func NewBreakerSource(next CounterSource, cfg BreakerConfig, log logger.Interface) *BreakerSource {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if log == nil {
		log = logger.Nop()
	}

	b := &BreakerSource{next: next, breakers: make(map[domain.Domain]*gobreaker.CircuitBreaker)}
	for _, d := range domain.AllDomains() {
		b.breakers[d] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "counters-" + string(d),
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("counter source breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
			// The caller giving up is not a source failure.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
	}
	return b
}

func (b *BreakerSource) FetchCounters(ctx context.Context, q CounterQuery) ([]domain.CounterRow, error) {
	cb, ok := b.breakers[q.Domain]
	if !ok {
		return b.next.FetchCounters(ctx, q)
	}

	v, err := cb.Execute(func() (interface{}, error) {
		return b.next.FetchCounters(ctx, q)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &domain.ServiceUnavailableError{Service: fmt.Sprintf("%s counters", q.Domain), Err: err}
	}
	if err != nil {
		return nil, err
	}
	rows, _ := v.([]domain.CounterRow)
	return rows, nil
}

// State returns the breaker state for d, for diagnostics.
func (b *BreakerSource) State(d domain.Domain) string {
	if cb, ok := b.breakers[d]; ok {
		return cb.State().String()
	}
	return ""
}
