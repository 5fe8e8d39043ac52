package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/filter"
	"github.com/ignite/outreach-analytics/internal/health"
	"github.com/ignite/outreach-analytics/internal/orchestrator"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/rates"
)

// Service computes analytics for the dashboard and the warming scheduler.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	source  CounterSource
	loader  *cache.Loader
	pool    *orchestrator.Pool
	monitor *health.Monitor
	log     logger.Interface
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l logger.Interface) Option { return func(s *Service) { s.log = l } }

// WithClock overrides "today" for default ranges (tests).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires the service. monitor may be nil.
func NewService(source CounterSource, loader *cache.Loader, pool *orchestrator.Pool, monitor *health.Monitor, opts ...Option) *Service {
	s := &Service{
		source:  source,
		loader:  loader,
		pool:    pool,
		monitor: monitor,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Loader exposes the cache for stats and manual invalidation.
func (s *Service) Loader() *cache.Loader { return s.loader }

// OverviewResult is the outcome of a multi-domain overview query.
type OverviewResult = domain.CrossDomainResult[map[domain.Domain]DomainAnalytics]

// Query computes the overview of each requested domain in parallel. With
// no domains, every directly queryable domain is computed.
func (s *Service) Query(ctx context.Context, q filter.Query, domains ...domain.Domain) (OverviewResult, error) {
	f, err := filter.Validate(q)
	if err != nil {
		return OverviewResult{}, err
	}
	ds, err := queryDomains(domains)
	if err != nil {
		return OverviewResult{}, err
	}

	tasks := make([]orchestrator.Task[DomainAnalytics], 0, len(ds))
	for _, d := range ds {
		tasks = append(tasks, s.overviewTask(d, f, orchestrator.Foreground))
	}
	return s.collectOverviews(orchestrator.RunMany(ctx, s.pool, tasks)), nil
}

// QueryStream is Query with progressive delivery: each received value
// holds the domains that completed since the previous one.
func (s *Service) QueryStream(ctx context.Context, q filter.Query, domains ...domain.Domain) (<-chan OverviewResult, error) {
	f, err := filter.Validate(q)
	if err != nil {
		return nil, err
	}
	ds, err := queryDomains(domains)
	if err != nil {
		return nil, err
	}

	tasks := make([]orchestrator.Task[DomainAnalytics], 0, len(ds))
	for _, d := range ds {
		tasks = append(tasks, s.overviewTask(d, f, orchestrator.Foreground))
	}

	in := orchestrator.Stream(ctx, s.pool, tasks)
	out := make(chan OverviewResult)
	go func() {
		defer close(out)
		for chunk := range in {
			select {
			case out <- s.collectOverviews(chunk):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SeriesResult is the outcome of a single-domain time series query.
type SeriesResult = domain.CrossDomainResult[[]domain.TimeSeriesPoint]

// TimeSeries returns d's bucketed series. Without a range, the trailing
// 30 days are used.
func (s *Service) TimeSeries(ctx context.Context, q filter.Query, d domain.Domain) (SeriesResult, error) {
	f, err := filter.Validate(q)
	if err != nil {
		return SeriesResult{}, err
	}
	if d == domain.CrossDomain || !d.Valid() {
		return SeriesResult{}, invalidDomain(d)
	}
	f = s.seriesFilters(f)

	r := orchestrator.RunMany(ctx, s.pool, []orchestrator.Task[[]domain.TimeSeriesPoint]{
		s.seriesTask(d, f, orchestrator.Foreground),
	})[0]
	s.report(d, r.Err)
	return domain.NewCrossDomainResult(r.Data, map[string]*string{string(d): domain.ErrorMessage(r.Err)}), nil
}

func (s *Service) collectOverviews(results []orchestrator.Result[DomainAnalytics]) OverviewResult {
	data := make(map[domain.Domain]DomainAnalytics, len(results))
	errs := make(map[string]*string, len(results))
	for _, r := range results {
		s.report(r.Domain, r.Err)
		errs[string(r.Domain)] = domain.ErrorMessage(r.Err)
		if r.Err != nil {
			continue
		}
		v := r.Data
		perf := r.Performance
		v.Performance = &perf
		data[r.Domain] = v
	}
	return domain.NewCrossDomainResult(data, errs)
}

func (s *Service) overviewTask(d domain.Domain, f domain.AnalyticsFilters, p orchestrator.Priority) orchestrator.Task[DomainAnalytics] {
	// Overviews do not bucket; granularity must not split the cache.
	f.Granularity = domain.Day
	key := cache.NewKey(d, domain.OpOverview, f)
	return orchestrator.Task[DomainAnalytics]{
		Key:      key.String(),
		Domain:   d,
		Priority: p,
		Run: func(ctx context.Context) (DomainAnalytics, cache.Lookup, error) {
			return cache.Fetch(ctx, s.loader, key, func(ctx context.Context) (DomainAnalytics, error) {
				return s.computeOverview(ctx, d, f)
			})
		},
	}
}

func (s *Service) seriesTask(d domain.Domain, f domain.AnalyticsFilters, p orchestrator.Priority) orchestrator.Task[[]domain.TimeSeriesPoint] {
	key := cache.NewKey(d, domain.OpTimeSeries, f)
	return orchestrator.Task[[]domain.TimeSeriesPoint]{
		Key:      key.String(),
		Domain:   d,
		Priority: p,
		Run: func(ctx context.Context) ([]domain.TimeSeriesPoint, cache.Lookup, error) {
			return cache.Fetch(ctx, s.loader, key, func(ctx context.Context) ([]domain.TimeSeriesPoint, error) {
				rows, err := s.fetch(ctx, d, f.CompanyID, f.EntityIDs(d), f.DateRange)
				if err != nil {
					return nil, err
				}
				return BuildSeries(rows, *f.DateRange, f.Granularity), nil
			})
		},
	}
}

func (s *Service) computeOverview(ctx context.Context, d domain.Domain, f domain.AnalyticsFilters) (DomainAnalytics, error) {
	rows, err := s.fetch(ctx, d, f.CompanyID, f.EntityIDs(d), f.DateRange)
	if err != nil {
		return DomainAnalytics{}, err
	}

	total, entities := summarize(d, rows)
	out := DomainAnalytics{
		Domain:   d,
		Metrics:  total,
		Rates:    rates.Calculate(total),
		Entities: entities,
	}

	rep := rates.Validate(total)
	out.Warnings = append(append(out.Warnings, rep.Errors...), rep.Warnings...)
	if !rep.IsValid {
		s.log.Warn("invalid counters in overview", "domain", string(d), "company", f.CompanyID, "errors", rep.Errors)
	}
	return out, nil
}

func (s *Service) fetch(ctx context.Context, d domain.Domain, companyID string, ids []string, r *domain.DateRange) ([]domain.CounterRow, error) {
	rows, err := s.source.FetchCounters(ctx, CounterQuery{
		CompanyID: companyID,
		Domain:    d,
		EntityIDs: ids,
		DateRange: r,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s counters: %w", d, err)
	}
	return rows, nil
}

func (s *Service) seriesFilters(f domain.AnalyticsFilters) domain.AnalyticsFilters {
	if f.DateRange == nil {
		f.DateRange = trailingRange(s.now(), defaultSeriesDays)
	}
	return f
}

func (s *Service) report(d domain.Domain, err error) {
	if s.monitor != nil {
		s.monitor.Report(d, err)
	}
}

// queryDomains validates and dedupes the requested domains.
func queryDomains(ds []domain.Domain) ([]domain.Domain, error) {
	if len(ds) == 0 {
		all := domain.AllDomains()
		out := make([]domain.Domain, 0, len(all))
		for _, d := range all {
			if d != domain.CrossDomain {
				out = append(out, d)
			}
		}
		return out, nil
	}

	seen := make(map[domain.Domain]bool, len(ds))
	out := make([]domain.Domain, 0, len(ds))
	for _, d := range ds {
		if d == domain.CrossDomain || !d.Valid() {
			return nil, invalidDomain(d)
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}
