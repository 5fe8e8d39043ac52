package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/filter"
	"github.com/ignite/outreach-analytics/internal/orchestrator"
)

// Warm computes (op, d, f) at background priority so later requests hit
// the cache. For OpJoin, d may be the sending-domain, mailbox or
// cross-domain category; scoped filters warm per entity, unscoped filters
// warm the company-wide join.
func (s *Service) Warm(ctx context.Context, op domain.Operation, d domain.Domain, f domain.AnalyticsFilters) error {
	f, err := s.warmFilters(op, f)
	if err != nil {
		return err
	}

	switch op {
	case domain.OpOverview:
		if d == domain.CrossDomain || !d.Valid() {
			return invalidDomain(d)
		}
		return runWarm(ctx, s, []orchestrator.Task[DomainAnalytics]{s.overviewTask(d, f, orchestrator.Background)})
	case domain.OpTimeSeries:
		if d == domain.CrossDomain || !d.Valid() {
			return invalidDomain(d)
		}
		return runWarm(ctx, s, []orchestrator.Task[[]domain.TimeSeriesPoint]{s.seriesTask(d, f, orchestrator.Background)})
	case domain.OpJoin:
		tasks, err := s.joinWarmTasks(d, f)
		if err != nil {
			return err
		}
		return runWarm(ctx, s, tasks)
	}
	return fmt.Errorf("%w: %s/%s", ErrUnsupportedOperation, op, d)
}

// IsFresh reports whether every cache entry Warm would fill is live.
func (s *Service) IsFresh(ctx context.Context, op domain.Operation, d domain.Domain, f domain.AnalyticsFilters) bool {
	f, err := s.warmFilters(op, f)
	if err != nil {
		return false
	}

	var keys []string
	switch op {
	case domain.OpOverview:
		keys = append(keys, s.overviewTask(d, f, orchestrator.Background).Key)
	case domain.OpTimeSeries:
		keys = append(keys, s.seriesTask(d, f, orchestrator.Background).Key)
	case domain.OpJoin:
		tasks, err := s.joinWarmTasks(d, f)
		if err != nil {
			return false
		}
		for _, t := range tasks {
			keys = append(keys, t.Key)
		}
	}
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		if !s.loader.IsFresh(ctx, k) {
			return false
		}
	}
	return true
}

func (s *Service) warmFilters(op domain.Operation, f domain.AnalyticsFilters) (domain.AnalyticsFilters, error) {
	f = filter.Normalize(f)
	if f.CompanyID == "" {
		return f, &domain.ValidationError{Code: domain.MissingCompany, Message: "companyId is required"}
	}
	if op == domain.OpTimeSeries {
		f = s.seriesFilters(f)
	}
	return f, nil
}

func (s *Service) joinWarmTasks(d domain.Domain, f domain.AnalyticsFilters) ([]orchestrator.Task[[]domain.CounterRow], error) {
	switch d {
	case domain.CrossDomain, domain.SendingDomains, domain.Mailboxes:
	case domain.Campaigns, domain.Leads, domain.Templates, domain.Billing:
		return nil, fmt.Errorf("%w: %s/%s", ErrUnsupportedOperation, domain.OpJoin, d)
	default:
		return nil, invalidDomain(d)
	}
	if f.Scoped() {
		tasks, _ := s.entityTasks(f, orchestrator.Background)
		return tasks, nil
	}
	tasks, _ := s.categoryTasks(f, orchestrator.Background)
	return tasks, nil
}

func runWarm[T any](ctx context.Context, s *Service, tasks []orchestrator.Task[T]) error {
	var errs []error
	for _, r := range orchestrator.RunMany(ctx, s.pool, tasks) {
		s.report(r.Domain, r.Err)
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Key, r.Err))
		}
	}
	return errors.Join(errs...)
}
