package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/pkg/metrics"
)

// Loader is a read-through cache in front of a Store. Concurrent misses
// for the same key share one computation.
type Loader struct {
	store   Store
	ttl     *TTLPolicy
	group   singleflight.Group
	log     logger.Interface
	metrics *metrics.Collector
	now     func() time.Time

	onStoreResult func(error)

	// flightTimeout bounds a shared computation, which runs detached from
	// any single caller's context.
	flightTimeout time.Duration

	// mu is held shared around flight writes and exclusively by
	// Invalidate, so no write lands after an invalidation it predates.
	mu      sync.RWMutex
	flights map[*inflight]string

	hits        atomic.Int64
	misses      atomic.Int64
	computes    atomic.Int64
	storeErrors atomic.Int64
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(l logger.Interface) LoaderOption {
	return func(ld *Loader) { ld.log = l }
}

// WithMetrics records hit/miss/compute counters.
func WithMetrics(m *metrics.Collector) LoaderOption {
	return func(ld *Loader) { ld.metrics = m }
}

// OnStoreResult is called after every store round trip with its error
// (nil on success or miss). The health monitor hooks in here; a failing
// store never fails the request.
func OnStoreResult(fn func(error)) LoaderOption {
	return func(ld *Loader) { ld.onStoreResult = fn }
}

// WithFlightTimeout bounds each shared computation. Zero means no bound.
func WithFlightTimeout(d time.Duration) LoaderOption {
	return func(ld *Loader) { ld.flightTimeout = d }
}

// NewLoader wraps store. A nil ttl uses a 5 minute default for everything.
func NewLoader(store Store, ttl *TTLPolicy, opts ...LoaderOption) *Loader {
	if ttl == nil {
		ttl = NewTTLPolicy(5 * time.Minute)
	}
	l := &Loader{
		store:         store,
		ttl:           ttl,
		log:           logger.Nop(),
		now:           time.Now,
		flightTimeout: 30 * time.Second,
		flights:       make(map[*inflight]string),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Lookup describes how a Fetch was served.
type Lookup struct {
	FromCache   bool
	Shared      bool
	CacheTime   time.Duration
	ComputeTime time.Duration
	ComputedAt  time.Time
}

// Stats are cumulative loader counters.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Computations int64 `json:"computations"`
	StoreErrors  int64 `json:"storeErrors"`
}

func (l *Loader) Stats() Stats {
	return Stats{
		Hits:         l.hits.Load(),
		Misses:       l.misses.Load(),
		Computations: l.computes.Load(),
		StoreErrors:  l.storeErrors.Load(),
	}
}

// Store returns the underlying store.
func (l *Loader) Store() Store { return l.store }

// Invalidate drops every entry under prefix. Computations already running
// for those keys are detached: they never write back, and later callers
// start a fresh computation instead of joining them.
func (l *Loader) Invalidate(ctx context.Context, prefix string) (int, error) {
	l.mu.Lock()
	for fl, k := range l.flights {
		if strings.HasPrefix(k, prefix) {
			fl.stale.Store(true)
			l.group.Forget(k)
			delete(l.flights, fl)
		}
	}
	n, err := l.store.Invalidate(ctx, prefix)
	l.mu.Unlock()
	if err != nil {
		l.storeFailed("invalidate", prefix, err)
		return n, err
	}
	l.storeOK()
	l.log.Debug("cache invalidated", "prefix", prefix, "removed", n)
	return n, nil
}

// IsFresh reports whether key currently has a live entry.
func (l *Loader) IsFresh(ctx context.Context, key string) bool {
	_, err := l.store.Get(ctx, key)
	return err == nil
}

type inflight struct {
	stale atomic.Bool
}

type flight struct {
	value      any
	raw        json.RawMessage
	computedAt time.Time
	elapsed    time.Duration
}

// Fetch returns the cached value for key or computes, stores and returns
// it. Store failures degrade to computing without the cache.
func Fetch[T any](ctx context.Context, l *Loader, key Key, compute func(context.Context) (T, error)) (T, Lookup, error) {
	var zero T
	k := key.String()

	start := time.Now()
	if v, e, ok := lookup[T](ctx, l, key); ok {
		l.hits.Add(1)
		l.metrics.CacheOp(string(key.Domain), "hit")
		return v, Lookup{FromCache: true, CacheTime: time.Since(start), ComputedAt: e.ComputedAt}, nil
	}
	cacheTime := time.Since(start)
	l.misses.Add(1)
	l.metrics.CacheOp(string(key.Domain), "miss")

	ch := l.group.DoChan(k, func() (any, error) {
		fl := l.begin(k)
		defer l.end(fl)

		fctx := context.WithoutCancel(ctx)
		if l.flightTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, l.flightTimeout)
			defer cancel()
		}

		// A flight that finished after our miss may already have filled it.
		if v, e, ok := lookup[T](fctx, l, key); ok {
			return &flight{value: v, computedAt: e.ComputedAt}, nil
		}

		t0 := time.Now()
		v, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		l.computes.Add(1)
		l.metrics.Computed(string(key.Domain), string(key.Operation))

		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		f := &flight{value: v, raw: raw, computedAt: l.now(), elapsed: time.Since(t0)}

		entry := Entry{Key: k, Domain: key.Domain, Value: raw, ComputedAt: f.computedAt}
		l.mu.RLock()
		if fl.stale.Load() {
			l.log.Debug("skipping write of invalidated computation", "key", k)
		} else if err := l.store.Set(fctx, entry, l.ttl.For(key.Operation, key.Filters())); err != nil {
			l.storeFailed("set", k, err)
		} else {
			l.storeOK()
		}
		l.mu.RUnlock()
		return f, nil
	})

	select {
	case <-ctx.Done():
		return zero, Lookup{CacheTime: cacheTime}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, Lookup{CacheTime: cacheTime, Shared: res.Shared}, res.Err
		}
		f := res.Val.(*flight)
		v, ok := f.value.(T)
		if !ok {
			if err := json.Unmarshal(f.raw, &v); err != nil {
				return zero, Lookup{CacheTime: cacheTime}, err
			}
		}
		return v, Lookup{
			Shared:      res.Shared,
			CacheTime:   cacheTime,
			ComputeTime: f.elapsed,
			ComputedAt:  f.computedAt,
		}, nil
	}
}

func (l *Loader) begin(key string) *inflight {
	fl := &inflight{}
	l.mu.Lock()
	l.flights[fl] = key
	l.mu.Unlock()
	return fl
}

func (l *Loader) end(fl *inflight) {
	l.mu.Lock()
	delete(l.flights, fl)
	l.mu.Unlock()
}

func lookup[T any](ctx context.Context, l *Loader, key Key) (T, *Entry, bool) {
	var v T
	e, err := l.store.Get(ctx, key.String())
	if err != nil {
		if errors.Is(err, ErrMiss) {
			l.storeOK()
		} else {
			l.storeFailed("get", key.String(), err)
		}
		return v, nil, false
	}
	l.storeOK()
	if err := json.Unmarshal(e.Value, &v); err != nil {
		l.log.Warn("discarding undecodable cache entry", "key", key.String(), "error", err)
		return v, nil, false
	}
	return v, e, true
}

func (l *Loader) storeFailed(op, key string, err error) {
	l.storeErrors.Add(1)
	l.metrics.CacheOp("store", "error")
	l.log.Warn("cache store error", "op", op, "key", key, "error", err)
	if l.onStoreResult != nil {
		l.onStoreResult(err)
	}
}

func (l *Loader) storeOK() {
	if l.onStoreResult != nil {
		l.onStoreResult(nil)
	}
}
