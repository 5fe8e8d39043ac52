package analytics

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/filter"
	"github.com/ignite/outreach-analytics/internal/orchestrator"
	"github.com/ignite/outreach-analytics/internal/rates"
)

// unassignedDomain groups mailboxes whose parent cannot be determined.
const unassignedDomain = "unassigned"

var errJoinFailed = errors.New("every join task failed")

// JoinResult is the outcome of Join and JoinAll.
type JoinResult = domain.CrossDomainResult[JoinedAnalytics]

// JoinSeriesResult is the outcome of JoinTimeSeries.
type JoinSeriesResult = domain.CrossDomainResult[JoinedTimeSeries]

// Join merges the requested mailboxes into their sending domains. One
// task runs per entity; errors are keyed by entity id.
func (s *Service) Join(ctx context.Context, q filter.Query) (JoinResult, error) {
	f, err := filter.Validate(q)
	if err != nil {
		return JoinResult{}, err
	}
	if !f.Scoped() {
		return JoinResult{}, scopeRequired()
	}

	tasks, ids := s.entityTasks(f, orchestrator.Foreground)
	in := s.collectRows(orchestrator.RunMany(ctx, s.pool, tasks), ids, true)
	res := domain.NewCrossDomainResult(JoinedAnalytics{Rows: joinRows(groupJoin(in))}, in.errs)
	s.reportJoin(res.Success)
	return res, nil
}

// JoinAll joins every sending domain and mailbox of the company. Errors
// are keyed by category ("domain", "mailbox").
func (s *Service) JoinAll(ctx context.Context, q filter.Query) (JoinResult, error) {
	f, err := filter.Validate(q)
	if err != nil {
		return JoinResult{}, err
	}

	tasks, ids := s.categoryTasks(f, orchestrator.Foreground)
	in := s.collectRows(orchestrator.RunMany(ctx, s.pool, tasks), ids, false)
	res := domain.NewCrossDomainResult(JoinedAnalytics{Rows: joinRows(groupJoin(in))}, in.errs)
	s.reportJoin(res.Success)
	return res, nil
}

// JoinTimeSeries is the bucketed variant of Join. A date range is
// required.
func (s *Service) JoinTimeSeries(ctx context.Context, q filter.Query) (JoinSeriesResult, error) {
	f, err := filter.Validate(q, filter.RequireRange())
	if err != nil {
		return JoinSeriesResult{}, err
	}
	if !f.Scoped() {
		return JoinSeriesResult{}, scopeRequired()
	}

	tasks, ids := s.entityTasks(f, orchestrator.Foreground)
	in := s.collectRows(orchestrator.RunMany(ctx, s.pool, tasks), ids, true)

	groups := groupJoin(in)
	out := JoinedTimeSeries{Granularity: f.Granularity, Series: make([]JoinedSeries, 0, len(groups))}
	for _, g := range groups {
		js := JoinedSeries{DomainID: g.domainID, DomainStatus: SideUnavailable, MailboxStatus: SideUnavailable}
		if g.domainOK {
			js.Domain = BuildSeries(g.domainRows, *f.DateRange, f.Granularity)
			js.DomainStatus = SideOK
		}
		if len(g.mailboxes) > 0 {
			var rows []domain.CounterRow
			for _, id := range g.mailboxIDs() {
				rows = append(rows, g.mailboxes[id]...)
			}
			js.Mailboxes = BuildSeries(rows, *f.DateRange, f.Granularity)
			js.MailboxStatus = SideOK
		}
		out.Series = append(out.Series, js)
	}

	res := domain.NewCrossDomainResult(out, in.errs)
	s.reportJoin(res.Success)
	return res, nil
}

// rowsTask fetches raw daily rows for d. Rows are cached at day grain so
// Join and JoinTimeSeries share entries.
func (s *Service) rowsTask(d domain.Domain, f domain.AnalyticsFilters, scope string, p orchestrator.Priority) orchestrator.Task[[]domain.CounterRow] {
	f.Granularity = domain.Day
	key := cache.NewKey(d, domain.OpJoin, f, scope)
	return orchestrator.Task[[]domain.CounterRow]{
		Key:      key.String(),
		Domain:   d,
		Priority: p,
		Run: func(ctx context.Context) ([]domain.CounterRow, cache.Lookup, error) {
			return cache.Fetch(ctx, s.loader, key, func(ctx context.Context) ([]domain.CounterRow, error) {
				return s.fetch(ctx, d, f.CompanyID, f.EntityIDs(d), f.DateRange)
			})
		},
	}
}

// entityTasks builds one task per requested domain and mailbox id.
func (s *Service) entityTasks(f domain.AnalyticsFilters, p orchestrator.Priority) ([]orchestrator.Task[[]domain.CounterRow], []string) {
	var (
		tasks []orchestrator.Task[[]domain.CounterRow]
		ids   []string
	)
	for _, id := range f.DomainIDs {
		ef := domain.AnalyticsFilters{CompanyID: f.CompanyID, DomainIDs: []string{id}, DateRange: f.DateRange}
		tasks = append(tasks, s.rowsTask(domain.SendingDomains, ef, "entity", p))
		ids = append(ids, id)
	}
	for _, id := range f.MailboxIDs {
		ef := domain.AnalyticsFilters{CompanyID: f.CompanyID, MailboxIDs: []string{id}, DateRange: f.DateRange}
		tasks = append(tasks, s.rowsTask(domain.Mailboxes, ef, "entity", p))
		ids = append(ids, id)
	}
	return tasks, ids
}

// categoryTasks builds the two company-wide tasks of an unscoped join.
func (s *Service) categoryTasks(f domain.AnalyticsFilters, p orchestrator.Priority) ([]orchestrator.Task[[]domain.CounterRow], []string) {
	cf := domain.AnalyticsFilters{CompanyID: f.CompanyID, DateRange: f.DateRange}
	return []orchestrator.Task[[]domain.CounterRow]{
			s.rowsTask(domain.SendingDomains, cf, "all", p),
			s.rowsTask(domain.Mailboxes, cf, "all", p),
		}, []string{
			string(domain.SendingDomains),
			string(domain.Mailboxes),
		}
}

type joinInput struct {
	domainIDs   []string
	domainRows  []domain.CounterRow
	mailboxIDs  []string
	mailboxRows []domain.CounterRow
	errs        map[string]*string
}

// collectRows splits task results by side. ids[i] is the error key of
// results[i]. For entity tasks the ids that succeeded are kept so empty
// entities still appear in the join.
func (s *Service) collectRows(results []orchestrator.Result[[]domain.CounterRow], ids []string, entity bool) joinInput {
	in := joinInput{errs: make(map[string]*string, len(results))}
	for i, r := range results {
		s.report(r.Domain, r.Err)
		in.errs[ids[i]] = domain.ErrorMessage(r.Err)
		if r.Err != nil {
			continue
		}
		switch r.Domain {
		case domain.SendingDomains:
			if entity {
				in.domainIDs = append(in.domainIDs, ids[i])
			}
			in.domainRows = append(in.domainRows, r.Data...)
		case domain.Mailboxes:
			if entity {
				in.mailboxIDs = append(in.mailboxIDs, ids[i])
			}
			in.mailboxRows = append(in.mailboxRows, r.Data...)
		case domain.Campaigns, domain.Leads, domain.Templates, domain.Billing, domain.CrossDomain:
		}
	}
	return in
}

type joinGroup struct {
	domainID   string
	domainOK   bool
	domainRows []domain.CounterRow
	mailboxes  map[string][]domain.CounterRow
}

func (g *joinGroup) mailboxIDs() []string {
	ids := make([]string, 0, len(g.mailboxes))
	for id := range g.mailboxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// groupJoin assigns every mailbox to its parent sending domain: the row's
// ParentID when the source knows it, else the address host. Domain names
// match case-insensitively; a group keeps the spelling it was first seen
// with, requested ids first.
func groupJoin(in joinInput) []*joinGroup {
	groups := make(map[string]*joinGroup)
	get := func(id string) *joinGroup {
		k := strings.ToLower(id)
		g, ok := groups[k]
		if !ok {
			g = &joinGroup{domainID: id, mailboxes: make(map[string][]domain.CounterRow)}
			groups[k] = g
		}
		return g
	}

	for _, id := range in.domainIDs {
		get(id).domainOK = true
	}
	for _, r := range in.domainRows {
		g := get(r.EntityID)
		g.domainOK = true
		g.domainRows = append(g.domainRows, r)
	}

	parents := make(map[string]string)
	for _, r := range in.mailboxRows {
		if r.ParentID != "" {
			parents[r.EntityID] = r.ParentID
			continue
		}
		if _, ok := parents[r.EntityID]; !ok {
			parents[r.EntityID] = mailboxHost(r.EntityID)
		}
	}
	for _, id := range in.mailboxIDs {
		if _, ok := parents[id]; !ok {
			parents[id] = mailboxHost(id)
		}
	}
	parentOf := func(id string) string {
		if p := parents[id]; p != "" {
			return p
		}
		return unassignedDomain
	}

	for _, id := range in.mailboxIDs {
		g := get(parentOf(id))
		if _, ok := g.mailboxes[id]; !ok {
			g.mailboxes[id] = []domain.CounterRow{}
		}
	}
	for _, r := range in.mailboxRows {
		g := get(parentOf(r.EntityID))
		g.mailboxes[r.EntityID] = append(g.mailboxes[r.EntityID], r)
	}

	out := make([]*joinGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].domainID < out[j].domainID })
	return out
}

func joinRows(groups []*joinGroup) []JoinedRow {
	rows := make([]JoinedRow, 0, len(groups))
	for _, g := range groups {
		row := JoinedRow{DomainID: g.domainID, DomainStatus: SideUnavailable, MailboxStatus: SideUnavailable}

		if g.domainOK {
			var total domain.PerformanceCounters
			for _, r := range g.domainRows {
				total = total.Add(r.Counters)
			}
			row.Domain = &Metrics{Metrics: total, Rates: rates.Calculate(total)}
			row.DomainStatus = SideOK
		}

		if len(g.mailboxes) > 0 {
			var totals domain.PerformanceCounters
			for _, id := range g.mailboxIDs() {
				e := EntityAnalytics{ID: id, ParentID: g.domainID}
				for _, r := range g.mailboxes[id] {
					e.Metrics = e.Metrics.Add(r.Counters)
				}
				e.Rates = rates.Calculate(e.Metrics)
				totals = totals.Add(e.Metrics)
				row.Mailboxes = append(row.Mailboxes, e)
			}
			row.MailboxTotals = &Metrics{Metrics: totals, Rates: rates.Calculate(totals)}
			row.MailboxStatus = SideOK
		}
		rows = append(rows, row)
	}
	return rows
}

func mailboxParent(r domain.CounterRow) string {
	if r.ParentID != "" {
		return r.ParentID
	}
	return mailboxHost(r.EntityID)
}

func mailboxHost(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

func (s *Service) reportJoin(success bool) {
	if success {
		s.report(domain.CrossDomain, nil)
		return
	}
	s.report(domain.CrossDomain, errJoinFailed)
}
