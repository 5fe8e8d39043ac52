package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-analytics/internal/domain"
)

func TestBuildSeriesWeekly(t *testing.T) {
	// 2026-03-04 is a Wednesday; its week starts Monday 2026-03-02.
	r := domain.DateRange{Start: day(4), End: day(17)}
	rows := []domain.CounterRow{
		{EntityID: "x", Date: day(4), Counters: counters(1, 1, 0)},
		{EntityID: "x", Date: day(8), Counters: counters(2, 2, 0)},
		{EntityID: "x", Date: day(9), Counters: counters(4, 4, 0)},
		{EntityID: "x", Date: day(1), Counters: counters(100, 100, 0)},
	}

	pts := BuildSeries(rows, r, domain.Week)
	require.Len(t, pts, 3)
	assert.Equal(t, day(2), pts[0].Date)
	assert.Equal(t, "2026-W10", pts[0].Label)
	assert.Equal(t, int64(3), pts[0].Metrics.Sent)
	assert.Equal(t, int64(4), pts[1].Metrics.Sent)
	assert.True(t, pts[2].Metrics.IsZero())
}

func TestBuildSeriesMonthly(t *testing.T) {
	r := domain.DateRange{
		Start: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	}
	pts := BuildSeries(nil, r, domain.Month)
	require.Len(t, pts, 3)
	assert.Equal(t, []string{"2026-01", "2026-02", "2026-03"}, []string{pts[0].Label, pts[1].Label, pts[2].Label})
}

func TestBuildSeriesRatesFromSums(t *testing.T) {
	r := domain.DateRange{Start: day(1), End: day(1)}
	rows := []domain.CounterRow{
		{EntityID: "a", Date: day(1), Counters: domain.PerformanceCounters{Sent: 1, Delivered: 1, Opened: 1}},
		{EntityID: "b", Date: day(1), Counters: domain.PerformanceCounters{Sent: 99, Delivered: 99, Opened: 0}},
	}

	pts := BuildSeries(rows, r, domain.Day)
	require.Len(t, pts, 1)
	// Averaging the per-row open rates would give 0.5.
	assert.InDelta(t, 0.01, pts[0].Rates.OpenRate, 1e-9)
}

func TestMailboxHost(t *testing.T) {
	assert.Equal(t, "a.io", mailboxHost("Sam@A.io"))
	assert.Equal(t, "", mailboxHost("no-at-sign"))
	assert.Equal(t, "", mailboxHost("trailing@"))
}
