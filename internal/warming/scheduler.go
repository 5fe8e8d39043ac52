// Package warming keeps frequently requested analytics hot by computing
// them on a schedule and right after upstream counters change.
package warming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/pkg/distlock"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/pkg/metrics"
)

// Warmer computes and stores one target. analytics.Service implements it.
type Warmer interface {
	Warm(ctx context.Context, op domain.Operation, d domain.Domain, f domain.AnalyticsFilters) error
	IsFresh(ctx context.Context, op domain.Operation, d domain.Domain, f domain.AnalyticsFilters) bool
}

// Invalidator drops cache entries by key prefix. cache.Loader implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string) (int, error)
}

// LockFactory returns the lock guarding a named schedule tick.
type LockFactory func(name string) distlock.DistLock

// Report summarizes one warming pass.
type Report struct {
	Warmed   int           `json:"warmed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Locked   int           `json:"locked"`
	Duration time.Duration `json:"durationNs"`
	Errors   []string      `json:"errors,omitempty"`
}

func (r *Report) merge(o Report) {
	r.Warmed += o.Warmed
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Locked += o.Locked
	r.Errors = append(r.Errors, o.Errors...)
}

// Scheduler runs the warming strategy.
type Scheduler struct {
	warmer  Warmer
	inval   Invalidator
	locks   LockFactory
	log     logger.Interface
	metrics *metrics.Collector

	mu       sync.Mutex
	strategy Strategy
	cron     *cron.Cron
	entries  []cron.EntryID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l logger.Interface) Option { return func(s *Scheduler) { s.log = l } }

func WithMetrics(c *metrics.Collector) Option { return func(s *Scheduler) { s.metrics = c } }

// WithLocks sets the per-tick lock source, usually distlock.NewLock over
// the shared Redis client.
func WithLocks(f LockFactory) Option { return func(s *Scheduler) { s.locks = f } }

// WithInvalidator lets WarmOnDataUpdate drop stale entries before re-warming.
func WithInvalidator(inv Invalidator) Option { return func(s *Scheduler) { s.inval = inv } }

// New validates strategy and builds a scheduler. Without WithLocks every
// tick runs locally; without WithInvalidator WarmOnDataUpdate only re-warms.
func New(warmer Warmer, strategy Strategy, opts ...Option) (*Scheduler, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		warmer:   warmer,
		strategy: strategy,
		log:      logger.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.locks == nil {
		s.locks = func(string) distlock.DistLock { return distlock.NewLock(nil, nil, "", 0) }
	}
	return s, nil
}

// Strategy returns the active strategy.
func (s *Scheduler) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// RunSchedule warms every schedule once, high priority first. Targets that
// are already fresh are skipped.
func (s *Scheduler) RunSchedule(ctx context.Context) Report {
	st := s.Strategy()
	start := time.Now()
	var rep Report
	if !st.Enabled {
		return rep
	}
	for _, sc := range st.Ordered() {
		if ctx.Err() != nil {
			break
		}
		rep.merge(s.tick(ctx, st, sc, false))
	}
	rep.Duration = time.Since(start)
	s.log.Info("warming run complete", "warmed", rep.Warmed, "skipped", rep.Skipped,
		"failed", rep.Failed, "locked", rep.Locked, "duration", rep.Duration)
	return rep
}

// tick runs one schedule under its distributed lock.
func (s *Scheduler) tick(ctx context.Context, st Strategy, sc Schedule, force bool) Report {
	var rep Report
	ran, err := distlock.WithLock(ctx, s.locks("analytics-warming:"+sc.Name), func(ctx context.Context) error {
		rep = s.warmTargets(ctx, sc.Priority, st.Targets(sc), force)
		return nil
	})
	if err != nil {
		s.log.Warn("warming lock failed", "schedule", sc.Name, "error", err)
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: lock: %v", sc.Name, err))
		return rep
	}
	if !ran {
		s.log.Debug("warming tick held by another replica", "schedule", sc.Name)
		rep.Locked++
	}
	return rep
}

func (s *Scheduler) warmTargets(ctx context.Context, p Priority, targets []Target, force bool) Report {
	var rep Report
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		if !force && s.warmer.IsFresh(ctx, t.Operation, t.Domain, t.Filters) {
			rep.Skipped++
			s.metrics.Warmed(string(p), "skipped")
			continue
		}
		if err := s.warmer.Warm(ctx, t.Operation, t.Domain, t.Filters); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("%s/%s/%s: %v", t.Operation, t.Domain, t.Filters.CompanyID, err))
			s.metrics.Warmed(string(p), "failed")
			s.log.Warn("warming target failed", "operation", t.Operation, "domain", t.Domain,
				"company", t.Filters.CompanyID, "error", err)
			continue
		}
		rep.Warmed++
		s.metrics.Warmed(string(p), "warmed")
	}
	return rep
}

// WarmOnDataUpdate drops the cache prefixes affected by change and then
// re-warms every schedule covering the changed domain or a dependent.
func (s *Scheduler) WarmOnDataUpdate(ctx context.Context, change domain.CountersChanged) (Report, error) {
	if !change.Domain.Valid() {
		return Report{}, fmt.Errorf("counters changed: unknown domain %q", change.Domain)
	}

	var errs []error
	if s.inval != nil {
		for _, prefix := range cache.InvalidationPrefixes(change) {
			n, err := s.inval.Invalidate(ctx, prefix)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalidate %s: %w", prefix, err))
				continue
			}
			s.log.Debug("cache invalidated", "prefix", prefix, "removed", n)
		}
	}

	affected := map[domain.Domain]bool{change.Domain: true}
	for _, d := range change.Domain.Dependents() {
		affected[d] = true
	}

	st := s.Strategy()
	var rep Report
	if !st.Enabled {
		return rep, errors.Join(errs...)
	}
	for _, sc := range st.Ordered() {
		var targets []Target
		for _, t := range st.Targets(sc) {
			if !affected[t.Domain] {
				continue
			}
			if change.CompanyID != "" && t.Filters.CompanyID != change.CompanyID {
				continue
			}
			targets = append(targets, t)
		}
		if len(targets) > 0 {
			rep.merge(s.warmTargets(ctx, sc.Priority, targets, true))
		}
	}
	s.log.Info("warmed after counters change", "domain", change.Domain,
		"company", change.CompanyID, "warmed", rep.Warmed, "failed", rep.Failed)
	return rep, errors.Join(errs...)
}

// Start registers each schedule with cron and runs it until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("warming scheduler already running")
	}

	cl := cronLogger{s.log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if err := s.register(ctx); err != nil {
		s.cron = nil
		return err
	}
	s.cron.Start()
	s.log.Info("warming scheduler started", "schedules", len(s.entries), "enabled", s.strategy.Enabled)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts cron and waits for running ticks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Reload swaps the strategy. When running, cron entries are replaced; an
// invalid strategy leaves the current one in place.
func (s *Scheduler) Reload(ctx context.Context, strategy Strategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = strategy
	if s.cron == nil {
		return nil
	}
	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = nil
	if err := s.register(ctx); err != nil {
		return err
	}
	s.log.Info("warming strategy reloaded", "schedules", len(s.entries), "enabled", strategy.Enabled)
	return nil
}

// register must be called with s.mu held.
func (s *Scheduler) register(ctx context.Context) error {
	if !s.strategy.Enabled {
		return nil
	}
	for _, sc := range s.strategy.Ordered() {
		name := sc.Name
		id, err := s.cron.AddFunc(sc.Pattern, func() {
			st := s.Strategy()
			for _, cur := range st.Schedules {
				if cur.Name == name {
					s.tick(ctx, st, cur, false)
					return
				}
			}
		})
		if err != nil {
			return fmt.Errorf("warming schedule %s: %w", sc.Name, err)
		}
		s.entries = append(s.entries, id)
	}
	return nil
}

type cronLogger struct{ l logger.Interface }

func (c cronLogger) Info(msg string, kv ...interface{}) { c.l.Debug("cron: "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}
