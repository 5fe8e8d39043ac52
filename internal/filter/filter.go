// Package filter validates and normalizes analytics query parameters.
//
// Every cache key is derived from the output of Normalize, so two queries
// that mean the same thing always map to the same key.
package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/ignite/outreach-analytics/internal/domain"
)

// Query is the wire form of an analytics request as sent by the dashboard.
type Query struct {
	CompanyID   string    `json:"companyId" yaml:"company_id"`
	DomainIDs   []string  `json:"domainIds,omitempty" yaml:"domain_ids"`
	MailboxIDs  []string  `json:"mailboxIds,omitempty" yaml:"mailbox_ids"`
	DateRange   *RawRange `json:"dateRange,omitempty" yaml:"date_range"`
	Granularity string    `json:"granularity,omitempty" yaml:"granularity"`
}

// RawRange holds unparsed range bounds (ISO date or RFC 3339).
type RawRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

type options struct {
	requireRange bool
}

// Option tunes validation for a specific operation.
type Option func(*options)

// RequireRange makes a missing or invalid date range a RANGE_REQUIRED error
// instead of silently dropping it. Cross-domain correlation needs this.
func RequireRange() Option {
	return func(o *options) { o.requireRange = true }
}

// Validate turns a wire query into normalized filters.
func Validate(q Query, opts ...Option) (domain.AnalyticsFilters, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	f := domain.AnalyticsFilters{
		CompanyID:   q.CompanyID,
		DomainIDs:   q.DomainIDs,
		MailboxIDs:  q.MailboxIDs,
		DateRange:   parseRange(q.DateRange),
		Granularity: domain.Granularity(strings.ToLower(strings.TrimSpace(q.Granularity))),
	}
	f = Normalize(f)

	if f.CompanyID == "" {
		return domain.AnalyticsFilters{}, &domain.ValidationError{
			Code:    domain.MissingCompany,
			Message: "companyId is required",
		}
	}
	if o.requireRange && f.DateRange == nil {
		return domain.AnalyticsFilters{}, &domain.ValidationError{
			Code:    domain.RangeRequired,
			Message: "a valid dateRange with start <= end is required for this operation",
		}
	}
	return f, nil
}

// Normalize canonicalizes filters. It is idempotent.
func Normalize(f domain.AnalyticsFilters) domain.AnalyticsFilters {
	out := domain.AnalyticsFilters{
		CompanyID:   strings.TrimSpace(f.CompanyID),
		DomainIDs:   cleanIDs(f.DomainIDs),
		MailboxIDs:  cleanIDs(f.MailboxIDs),
		Granularity: f.Granularity,
	}
	if !out.Granularity.Valid() {
		out.Granularity = domain.Day
	}
	if f.DateRange != nil {
		start := domain.TruncateDay(f.DateRange.Start)
		end := domain.TruncateDay(f.DateRange.End)
		if !f.DateRange.Start.IsZero() && !f.DateRange.End.IsZero() && !start.After(end) {
			out.DateRange = &domain.DateRange{Start: start, End: end}
		}
	}
	return out
}

// cleanIDs trims, drops blanks, dedupes and sorts. An empty result is nil:
// an explicit empty filter means "no restriction", not "match nothing".
func cleanIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

func parseRange(r *RawRange) *domain.DateRange {
	if r == nil {
		return nil
	}
	start, ok := parseDate(r.Start)
	if !ok {
		return nil
	}
	end, ok := parseDate(r.End)
	if !ok {
		return nil
	}
	return &domain.DateRange{Start: start, End: end}
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FromFilters renders normalized filters back into wire form, used when
// schedules and cache entries need to be described in config or logs.
func FromFilters(f domain.AnalyticsFilters) Query {
	q := Query{
		CompanyID:   f.CompanyID,
		DomainIDs:   f.DomainIDs,
		MailboxIDs:  f.MailboxIDs,
		Granularity: string(f.Granularity),
	}
	if f.DateRange != nil {
		q.DateRange = &RawRange{
			Start: f.DateRange.Start.Format("2006-01-02"),
			End:   f.DateRange.End.Format("2006-01-02"),
		}
	}
	return q
}
