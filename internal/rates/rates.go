// Package rates derives funnel percentages from raw performance counters.
//
// All functions are pure and total: they never panic and never return
// NaN or Inf. Percentage formatting is a presentation concern and is not
// done here; rates are fractions in [0,1].
package rates

import (
	"fmt"
	"math"

	"github.com/ignite/outreach-analytics/internal/domain"
)

// Calculate derives rates from c. Delivery and bounce divide by sent; the
// engagement rates divide by delivered. A zero denominator yields 0.
func Calculate(c domain.PerformanceCounters) domain.CalculatedRates {
	return domain.CalculatedRates{
		DeliveryRate:    ratio(c.Delivered, c.Sent),
		BounceRate:      ratio(c.Bounced, c.Sent),
		OpenRate:        ratio(c.Opened, c.Delivered),
		ClickRate:       ratio(c.Clicked, c.Delivered),
		ReplyRate:       ratio(c.Replied, c.Delivered),
		UnsubscribeRate: ratio(c.Unsubscribed, c.Delivered),
		SpamRate:        ratio(c.SpamComplaints, c.Delivered),
	}
}

func ratio(num, den int64) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	r := float64(num) / float64(den)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	// Dirty upstream data (opened > delivered) must not push a rate past 1.
	return math.Min(r, 1)
}

// Report is the data-quality verdict for a set of counters. Errors make the
// data invalid; warnings flag suspicious but displayable funnels.
type Report struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks c for negative counts (errors) and non-monotonic funnel
// stages (warnings).
func Validate(c domain.PerformanceCounters) Report {
	var r Report

	fields := []struct {
		name string
		v    int64
	}{
		{"sent", c.Sent},
		{"delivered", c.Delivered},
		{"opened", c.Opened},
		{"clicked", c.Clicked},
		{"replied", c.Replied},
		{"bounced", c.Bounced},
		{"unsubscribed", c.Unsubscribed},
		{"spamComplaints", c.SpamComplaints},
	}
	for _, f := range fields {
		if f.v < 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("%s is negative (%d)", f.name, f.v))
		}
	}

	funnel := []struct {
		stage, prior string
		v, p         int64
	}{
		{"delivered", "sent", c.Delivered, c.Sent},
		{"bounced", "sent", c.Bounced, c.Sent},
		{"opened", "delivered", c.Opened, c.Delivered},
		{"clicked", "opened", c.Clicked, c.Opened},
		{"replied", "delivered", c.Replied, c.Delivered},
	}
	for _, s := range funnel {
		if s.v > s.p {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s (%d) exceeds %s (%d)", s.stage, s.v, s.prior, s.p))
		}
	}

	r.IsValid = len(r.Errors) == 0
	return r
}
