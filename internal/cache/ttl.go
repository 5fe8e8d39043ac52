package cache

import (
	"time"

	"github.com/ignite/outreach-analytics/internal/domain"
)

// TTLFunc computes a TTL from the query being cached.
type TTLFunc func(op domain.Operation, f domain.AnalyticsFilters) time.Duration

// TTLPolicy resolves the TTL for an operation: a fixed duration, a
// function of the query, or the default.
type TTLPolicy struct {
	def   time.Duration
	fixed map[domain.Operation]time.Duration
	funcs map[domain.Operation]TTLFunc
}

// NewTTLPolicy creates a policy with a default TTL for unlisted operations.
func NewTTLPolicy(def time.Duration) *TTLPolicy {
	return &TTLPolicy{
		def:   def,
		fixed: make(map[domain.Operation]time.Duration),
		funcs: make(map[domain.Operation]TTLFunc),
	}
}

// Fixed sets a constant TTL for op.
func (p *TTLPolicy) Fixed(op domain.Operation, ttl time.Duration) *TTLPolicy {
	p.fixed[op] = ttl
	delete(p.funcs, op)
	return p
}

// Func sets a query-dependent TTL for op.
func (p *TTLPolicy) Func(op domain.Operation, fn TTLFunc) *TTLPolicy {
	p.funcs[op] = fn
	delete(p.fixed, op)
	return p
}

// For returns the TTL to use for op over filters f.
func (p *TTLPolicy) For(op domain.Operation, f domain.AnalyticsFilters) time.Duration {
	if fn, ok := p.funcs[op]; ok {
		return fn(op, f)
	}
	if ttl, ok := p.fixed[op]; ok {
		return ttl
	}
	return p.def
}

// RecencyTTL gives short TTLs to windows that include today, medium TTLs
// to the last week, and long TTLs to settled history. An open-ended query
// (no range) counts as including today.
func RecencyTTL(now func() time.Time, today, recent, historical time.Duration) TTLFunc {
	if now == nil {
		now = time.Now
	}
	return func(_ domain.Operation, f domain.AnalyticsFilters) time.Duration {
		if f.DateRange == nil {
			return today
		}
		t := domain.TruncateDay(now())
		switch {
		case !f.DateRange.End.Before(t):
			return today
		case !f.DateRange.End.Before(t.AddDate(0, 0, -7)):
			return recent
		default:
			return historical
		}
	}
}
