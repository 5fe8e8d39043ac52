package analytics

import (
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/orchestrator"
)

// EntityAnalytics is the aggregate of one entity over the query range.
type EntityAnalytics struct {
	ID       string                     `json:"id"`
	ParentID string                     `json:"parentId,omitempty"`
	Metrics  domain.PerformanceCounters `json:"metrics"`
	Rates    domain.CalculatedRates     `json:"rates"`
}

// DomainAnalytics is the overview of one data category.
type DomainAnalytics struct {
	Domain   domain.Domain              `json:"domain"`
	Metrics  domain.PerformanceCounters `json:"metrics"`
	Rates    domain.CalculatedRates     `json:"rates"`
	Entities []EntityAnalytics          `json:"entities"`
	// Warnings lists data-quality problems found in the summed counters.
	Warnings []string `json:"warnings,omitempty"`

	Performance *orchestrator.Performance `json:"performance,omitempty"`
}

// SideStatus reports whether one side of a join row has data.
type SideStatus string

const (
	SideOK          SideStatus = "ok"
	SideUnavailable SideStatus = "unavailable"
)

// Metrics pairs summed counters with their rates.
type Metrics struct {
	Metrics domain.PerformanceCounters `json:"metrics"`
	Rates   domain.CalculatedRates     `json:"rates"`
}

// JoinedRow is one sending domain with its mailboxes.
type JoinedRow struct {
	DomainID      string            `json:"domainId"`
	Domain        *Metrics          `json:"domain,omitempty"`
	MailboxTotals *Metrics          `json:"mailboxTotals,omitempty"`
	Mailboxes     []EntityAnalytics `json:"mailboxes,omitempty"`
	DomainStatus  SideStatus        `json:"domainStatus"`
	MailboxStatus SideStatus        `json:"mailboxStatus"`
}

// JoinedAnalytics is the composite view produced by Join and JoinAll.
type JoinedAnalytics struct {
	Rows []JoinedRow `json:"rows"`
}

// JoinedSeries is one sending domain's time series on both sides.
type JoinedSeries struct {
	DomainID      string                   `json:"domainId"`
	Domain        []domain.TimeSeriesPoint `json:"domain,omitempty"`
	Mailboxes     []domain.TimeSeriesPoint `json:"mailboxes,omitempty"`
	DomainStatus  SideStatus               `json:"domainStatus"`
	MailboxStatus SideStatus               `json:"mailboxStatus"`
}

// JoinedTimeSeries is the result of JoinTimeSeries.
type JoinedTimeSeries struct {
	Granularity domain.Granularity `json:"granularity"`
	Series      []JoinedSeries     `json:"series"`
}
