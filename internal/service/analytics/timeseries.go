package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/rates"
)

// defaultSeriesDays is the trailing window used when no range is given.
const defaultSeriesDays = 30

// BucketStart returns the start of the bucket containing t. Weeks start on
// Monday.
func BucketStart(t time.Time, g domain.Granularity) time.Time {
	d := domain.TruncateDay(t)
	switch g {
	case domain.Week:
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case domain.Month:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	case domain.Day:
		return d
	}
	return d
}

func nextBucket(t time.Time, g domain.Granularity) time.Time {
	switch g {
	case domain.Week:
		return t.AddDate(0, 0, 7)
	case domain.Month:
		return t.AddDate(0, 1, 0)
	case domain.Day:
		return t.AddDate(0, 0, 1)
	}
	return t.AddDate(0, 0, 1)
}

// BucketLabel renders the display label of the bucket starting at t.
func BucketLabel(t time.Time, g domain.Granularity) string {
	switch g {
	case domain.Week:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case domain.Month:
		return t.Format("2006-01")
	case domain.Day:
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02")
}

// BuildSeries sums rows into contiguous ascending buckets covering r.
// Buckets without rows are present with zero counters. Rates are derived
// from each bucket's summed counters.
func BuildSeries(rows []domain.CounterRow, r domain.DateRange, g domain.Granularity) []domain.TimeSeriesPoint {
	if !g.Valid() {
		g = domain.Day
	}

	var points []domain.TimeSeriesPoint
	index := make(map[time.Time]int)
	for b := BucketStart(r.Start, g); !b.After(r.End); b = nextBucket(b, g) {
		index[b] = len(points)
		points = append(points, domain.TimeSeriesPoint{Date: b, Label: BucketLabel(b, g)})
	}

	for _, row := range rows {
		if !r.Contains(row.Date) {
			continue
		}
		if i, ok := index[BucketStart(row.Date, g)]; ok {
			points[i].Metrics = points[i].Metrics.Add(row.Counters)
		}
	}
	for i := range points {
		points[i].Rates = rates.Calculate(points[i].Metrics)
	}
	return points
}

// trailingRange returns the last n days ending today.
func trailingRange(now time.Time, n int) *domain.DateRange {
	end := domain.TruncateDay(now)
	return &domain.DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// summarize sums rows per entity, sorted by entity id.
func summarize(d domain.Domain, rows []domain.CounterRow) (domain.PerformanceCounters, []EntityAnalytics) {
	var total domain.PerformanceCounters
	byID := make(map[string]*EntityAnalytics)
	for _, row := range rows {
		total = total.Add(row.Counters)
		e, ok := byID[row.EntityID]
		if !ok {
			e = &EntityAnalytics{ID: row.EntityID}
			if d == domain.Mailboxes {
				e.ParentID = mailboxParent(row)
			}
			byID[row.EntityID] = e
		}
		if e.ParentID == "" && row.ParentID != "" {
			e.ParentID = row.ParentID
		}
		e.Metrics = e.Metrics.Add(row.Counters)
	}

	out := make([]EntityAnalytics, 0, len(byID))
	for _, e := range byID {
		e.Rates = rates.Calculate(e.Metrics)
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return total, out
}
