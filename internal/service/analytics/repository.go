package analytics

import (
	"context"

	"github.com/ignite/outreach-analytics/internal/domain"
)

// CounterQuery selects raw daily counters.
type CounterQuery struct {
	CompanyID string
	Domain    domain.Domain
	// EntityIDs restricts to these entities; nil means all of the company's.
	EntityIDs []string
	// DateRange is inclusive; nil means all history.
	DateRange *domain.DateRange
}

// CounterSource is the read contract of the raw-counter store.
// Implementations must be idempotent and safe for concurrent use.
type CounterSource interface {
	// FetchCounters returns one row per entity per day. For mailboxes the
	// row's ParentID names the sending domain when known.
	FetchCounters(ctx context.Context, q CounterQuery) ([]domain.CounterRow, error)
}
