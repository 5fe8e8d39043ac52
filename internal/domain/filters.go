package domain

import "time"

// Granularity is the bucket width of a time series.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	switch g {
	case Day, Week, Month:
		return true
	}
	return false
}

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days covered, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := TruncateDay(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// TruncateDay returns midnight UTC of t's calendar day.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AnalyticsFilters is the normalized query scope. Values of this type are
// only produced by the filter validator; ID slices are sorted, unique and
// nil when unrestricted.
type AnalyticsFilters struct {
	CompanyID   string      `json:"companyId"`
	DomainIDs   []string    `json:"domainIds,omitempty"`
	MailboxIDs  []string    `json:"mailboxIds,omitempty"`
	DateRange   *DateRange  `json:"dateRange,omitempty"`
	Granularity Granularity `json:"granularity"`
}

// Scoped reports whether the filters restrict to specific entities.
func (f AnalyticsFilters) Scoped() bool {
	return len(f.DomainIDs) > 0 || len(f.MailboxIDs) > 0
}

// EntityIDs returns the ID restriction that applies to d, nil meaning all.
func (f AnalyticsFilters) EntityIDs(d Domain) []string {
	switch d {
	case SendingDomains:
		return f.DomainIDs
	case Mailboxes:
		return f.MailboxIDs
	case Campaigns, Leads, Templates, Billing, CrossDomain:
		return nil
	}
	return nil
}
