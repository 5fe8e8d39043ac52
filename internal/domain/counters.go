package domain

import "time"

// PerformanceCounters holds raw funnel counts for an entity over a period.
// Counts are expected to be non-negative; no cross-field ordering is
// enforced here (see rates.Validate for data-quality warnings).
type PerformanceCounters struct {
	Sent           int64 `json:"sent"`
	Delivered      int64 `json:"delivered"`
	Opened         int64 `json:"opened"`
	Clicked        int64 `json:"clicked"`
	Replied        int64 `json:"replied"`
	Bounced        int64 `json:"bounced"`
	Unsubscribed   int64 `json:"unsubscribed"`
	SpamComplaints int64 `json:"spamComplaints"`
}

// Add returns the field-wise sum of c and o.
func (c PerformanceCounters) Add(o PerformanceCounters) PerformanceCounters {
	return PerformanceCounters{
		Sent:           c.Sent + o.Sent,
		Delivered:      c.Delivered + o.Delivered,
		Opened:         c.Opened + o.Opened,
		Clicked:        c.Clicked + o.Clicked,
		Replied:        c.Replied + o.Replied,
		Bounced:        c.Bounced + o.Bounced,
		Unsubscribed:   c.Unsubscribed + o.Unsubscribed,
		SpamComplaints: c.SpamComplaints + o.SpamComplaints,
	}
}

// IsZero reports whether every counter is zero.
func (c PerformanceCounters) IsZero() bool {
	return c == PerformanceCounters{}
}

// CalculatedRates are funnel rates derived from PerformanceCounters.
// Every value is a fraction in [0,1].
type CalculatedRates struct {
	DeliveryRate    float64 `json:"deliveryRate"`
	OpenRate        float64 `json:"openRate"`
	ClickRate       float64 `json:"clickRate"`
	ReplyRate       float64 `json:"replyRate"`
	BounceRate      float64 `json:"bounceRate"`
	UnsubscribeRate float64 `json:"unsubscribeRate"`
	SpamRate        float64 `json:"spamRate"`
}

// CounterRow is one record returned by the raw-counter store: the counters
// of a single entity for a single day.
type CounterRow struct {
	EntityID string              `json:"entityId"`
	ParentID string              `json:"parentId,omitempty"` // mailbox -> sending domain
	Date     time.Time           `json:"date"`
	Counters PerformanceCounters `json:"counters"`
}

// TimeSeriesPoint is one bucket of a time series.
type TimeSeriesPoint struct {
	Date    time.Time           `json:"date"`
	Label   string              `json:"label"`
	Metrics PerformanceCounters `json:"metrics"`
	Rates   CalculatedRates     `json:"rates"`
}

// CountersChanged is the upstream signal that raw counters for an entity
// were written. CompanyID is optional; when empty the change is treated as
// affecting every tenant.
type CountersChanged struct {
	Domain    Domain `json:"domain"`
	EntityID  string `json:"entityId"`
	CompanyID string `json:"companyId,omitempty"`
}
