// Package health tracks per-domain service health from computation
// outcomes and cache reachability, and aggregates it for probes.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/pkg/metrics"
)

// Config sets transition thresholds.
type Config struct {
	// DegradedAfter consecutive errors move healthy to degraded.
	DegradedAfter int `yaml:"degraded_after"`
	// UnhealthyAfter further consecutive errors move degraded to unhealthy.
	UnhealthyAfter int `yaml:"unhealthy_after"`
	// DegradedIsAcceptable counts degraded domains as healthy in the
	// aggregate status.
	DegradedIsAcceptable bool `yaml:"degraded_is_acceptable"`
}

func DefaultConfig() Config {
	return Config{DegradedAfter: 3, UnhealthyAfter: 3}
}

// Snapshot is the aggregated health view served at GET /health.
type Snapshot struct {
	Status    domain.HealthStatus                          `json:"status"`
	Services  map[domain.Domain]bool                       `json:"services"`
	Cache     bool                                         `json:"cache"`
	Timestamp time.Time                                    `json:"timestamp"`
	Details   map[domain.Domain]domain.DomainServiceHealth `json:"details"`
}

// Pinger is anything whose reachability can be probed, such as a cache.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor is safe for concurrent use.
type Monitor struct {
	cfg     Config
	log     logger.Interface
	metrics *metrics.Collector
	now     func() time.Time

	mu       sync.RWMutex
	services map[domain.Domain]*domain.DomainServiceHealth
	cacheOK  bool
	cacheErr string
}

type Option func(*Monitor)

func WithLogger(l logger.Interface) Option { return func(m *Monitor) { m.log = l } }

func WithMetrics(c *metrics.Collector) Option { return func(m *Monitor) { m.metrics = c } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// New creates a monitor with every domain healthy and the cache reachable.
func New(cfg Config, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = def.DegradedAfter
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = def.UnhealthyAfter
	}
	m := &Monitor{
		cfg:      cfg,
		log:      logger.Nop(),
		now:      time.Now,
		services: make(map[domain.Domain]*domain.DomainServiceHealth),
		cacheOK:  true,
	}
	for _, o := range opts {
		o(m)
	}
	for _, d := range domain.AllDomains() {
		m.services[d] = &domain.DomainServiceHealth{IsHealthy: true, Status: domain.Healthy, LastChecked: m.now()}
	}
	return m
}

// Report records the outcome of a computation for d. Validation errors and
// caller cancellation say nothing about the service and are ignored.
func (m *Monitor) Report(d domain.Domain, err error) {
	if ignorable(err) {
		return
	}

	m.mu.Lock()
	h, ok := m.services[d]
	if !ok {
		m.mu.Unlock()
		return
	}
	prev := h.Status
	h.LastChecked = m.now()

	if err == nil {
		h.ConsecutiveErrors = 0
		h.LastError = ""
		h.Status = domain.Healthy
	} else {
		h.ErrorCount++
		h.ConsecutiveErrors++
		h.LastError = err.Error()
		h.Status = m.next(h, err)
	}
	h.IsHealthy = m.acceptable(h.Status)
	next := h.Status
	m.mu.Unlock()

	if next != prev {
		m.transitioned(d, prev, next, err)
	}
}

func (m *Monitor) next(h *domain.DomainServiceHealth, err error) domain.HealthStatus {
	var unavailable *domain.ServiceUnavailableError
	hard := errors.As(err, &unavailable)

	switch h.Status {
	case domain.Healthy:
		if hard || h.ConsecutiveErrors >= m.cfg.DegradedAfter {
			return domain.Degraded
		}
	case domain.Degraded:
		if hard || !m.cacheOK || h.ConsecutiveErrors >= m.cfg.DegradedAfter+m.cfg.UnhealthyAfter {
			return domain.Unhealthy
		}
	case domain.Unhealthy:
	}
	return h.Status
}

// ReportCache records cache reachability. nil means reachable.
func (m *Monitor) ReportCache(err error) {
	m.mu.Lock()
	prev := m.cacheOK
	m.cacheOK = err == nil
	if err != nil {
		m.cacheErr = err.Error()
	} else {
		m.cacheErr = ""
	}
	m.mu.Unlock()

	if prev != (err == nil) {
		if err != nil {
			m.log.Warn("cache unreachable", "error", err)
		} else {
			m.log.Info("cache reachable again")
		}
	}
}

// Status returns a copy of d's health.
func (m *Monitor) Status(d domain.Domain) domain.DomainServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.services[d]; ok {
		return *h
	}
	return domain.DomainServiceHealth{}
}

// Snapshot aggregates the worst domain status; an unreachable cache makes
// the layer at least degraded.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		Status:    domain.Healthy,
		Services:  make(map[domain.Domain]bool, len(m.services)),
		Cache:     m.cacheOK,
		Timestamp: m.now(),
		Details:   make(map[domain.Domain]domain.DomainServiceHealth, len(m.services)),
	}
	for d, h := range m.services {
		s.Services[d] = h.IsHealthy
		s.Details[d] = *h

		st := h.Status
		if st == domain.Degraded && m.cfg.DegradedIsAcceptable {
			st = domain.Healthy
		}
		if st.Severity() > s.Status.Severity() {
			s.Status = st
		}
	}
	if !m.cacheOK && s.Status == domain.Healthy {
		s.Status = domain.Degraded
	}
	return s
}

// Watch pings p every interval and reports the result as cache health
// until ctx is cancelled.
func (m *Monitor) Watch(ctx context.Context, p Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pctx, cancel := context.WithTimeout(ctx, interval/2)
		m.ReportCache(p.Ping(pctx))
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) acceptable(s domain.HealthStatus) bool {
	return s == domain.Healthy || (s == domain.Degraded && m.cfg.DegradedIsAcceptable)
}

func (m *Monitor) transitioned(d domain.Domain, from, to domain.HealthStatus, err error) {
	m.metrics.HealthChanged(string(d), to.Severity())
	if to == domain.Healthy {
		m.log.Info("domain recovered", "domain", string(d), "from", string(from))
		return
	}
	m.log.Warn("domain health changed", "domain", string(d), "from", string(from), "to", string(to), "error", err)
}

func ignorable(err error) bool {
	if err == nil {
		return false
	}
	var ve *domain.ValidationError
	return errors.As(err, &ve) || errors.Is(err, context.Canceled)
}
