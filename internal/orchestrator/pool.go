// Package orchestrator runs independent analytics computations in parallel
// under a global concurrency cap and a per-task deadline.
//
// A task that times out or fails is recorded in its own Result; it never
// aborts its siblings. Warming work runs at Background priority and can
// never take the slots reserved for request traffic.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/pkg/metrics"
)

// Priority orders work competing for computation slots.
type Priority int

const (
	Foreground Priority = iota
	Background
)

func (p Priority) String() string {
	if p == Background {
		return "background"
	}
	return "foreground"
}

// Config bounds the pool.
type Config struct {
	MaxConcurrentOperations  int           `yaml:"max_concurrent_operations"`
	ComputationTimeout       time.Duration `yaml:"computation_timeout"`
	EnableProgressiveLoading bool          `yaml:"enable_progressive_loading"`
	ChunkSize                int           `yaml:"chunk_size"`
	// ReservedForeground slots are never handed to Background tasks.
	ReservedForeground int `yaml:"reserved_foreground"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentOperations:  10,
		ComputationTimeout:       30 * time.Second,
		EnableProgressiveLoading: true,
		ChunkSize:                5,
		ReservedForeground:       2,
	}
}

// Pool is safe for concurrent use by many requests.
type Pool struct {
	cfg        Config
	slots      *semaphore.Weighted
	background *semaphore.Weighted
	log        logger.Interface
	metrics    *metrics.Collector
}

// Option configures a Pool.
type Option func(*Pool)

func WithLogger(l logger.Interface) Option { return func(p *Pool) { p.log = l } }

func WithMetrics(m *metrics.Collector) Option { return func(p *Pool) { p.metrics = m } }

// New creates a pool. Zero config fields take DefaultConfig values.
func New(cfg Config, opts ...Option) *Pool {
	def := DefaultConfig()
	if cfg.MaxConcurrentOperations <= 0 {
		cfg.MaxConcurrentOperations = def.MaxConcurrentOperations
	}
	if cfg.ComputationTimeout <= 0 {
		cfg.ComputationTimeout = def.ComputationTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ReservedForeground < 0 {
		cfg.ReservedForeground = 0
	}
	bg := cfg.MaxConcurrentOperations - cfg.ReservedForeground
	if bg < 1 {
		bg = 1
	}

	p := &Pool{
		cfg:        cfg,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrentOperations)),
		background: semaphore.NewWeighted(int64(bg)),
		log:        logger.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// Task is one unit of work. Run should honour ctx; a Run that ignores it
// keeps its slot until it returns.
type Task[T any] struct {
	Key      string
	Domain   domain.Domain
	Priority Priority
	Run      func(ctx context.Context) (T, cache.Lookup, error)
}

// Performance is the timing breakdown of one task.
type Performance struct {
	TotalDuration   time.Duration `json:"totalDuration"`
	ComputationTime time.Duration `json:"computationTime"`
	CacheTime       time.Duration `json:"cacheTime"`
	FromCache       bool          `json:"fromCache"`
}

// Metadata describes how a task was scheduled.
type Metadata struct {
	Priority  Priority  `json:"priority"`
	StartedAt time.Time `json:"startedAt"`
	Attempted bool      `json:"attempted"`
}

// Result is the outcome of one task. Exactly one of Data or Err is
// meaningful.
type Result[T any] struct {
	TaskID      string        `json:"taskId"`
	Key         string        `json:"key"`
	Domain      domain.Domain `json:"domain"`
	Data        T             `json:"data"`
	Err         error         `json:"-"`
	Performance Performance   `json:"performance"`
	Metadata    Metadata      `json:"metadata"`
}

// RunMany runs tasks concurrently and returns results in input order.
// It returns once every task has a result.
func RunMany[T any](ctx context.Context, p *Pool, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = runOne(ctx, p, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Stream runs tasks and emits results in chunks of up to ChunkSize as
// they complete. Without progressive loading, or when the batch fits in
// one chunk, a single chunk in input order is emitted. The channel is
// closed when all results are delivered or ctx is done.
func Stream[T any](ctx context.Context, p *Pool, tasks []Task[T]) <-chan []Result[T] {
	out := make(chan []Result[T], 1)

	if !p.cfg.EnableProgressiveLoading || len(tasks) <= p.cfg.ChunkSize {
		go func() {
			defer close(out)
			res := RunMany(ctx, p, tasks)
			select {
			case out <- res:
			case <-ctx.Done():
			}
		}()
		return out
	}

	go func() {
		defer close(out)
		done := make(chan Result[T], len(tasks))
		for _, t := range tasks {
			go func(t Task[T]) { done <- runOne(ctx, p, t) }(t)
		}

		chunk := make([]Result[T], 0, p.cfg.ChunkSize)
		for i := 0; i < len(tasks); i++ {
			chunk = append(chunk, <-done)
			if len(chunk) == p.cfg.ChunkSize || i == len(tasks)-1 {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				chunk = make([]Result[T], 0, p.cfg.ChunkSize)
			}
		}
	}()
	return out
}

type outcome[T any] struct {
	data   T
	lookup cache.Lookup
	err    error
}

func runOne[T any](ctx context.Context, p *Pool, t Task[T]) Result[T] {
	res := Result[T]{
		TaskID:   uuid.NewString(),
		Key:      t.Key,
		Domain:   t.Domain,
		Metadata: Metadata{Priority: t.Priority},
	}
	start := time.Now()
	defer func() {
		res.Performance.TotalDuration = time.Since(start)
		p.metrics.TaskDone(string(t.Domain), outcomeLabel(res), res.Performance.TotalDuration)
	}()

	// The deadline covers the wait for a slot as well as the run.
	tctx, cancel := context.WithTimeout(ctx, p.cfg.ComputationTimeout)
	defer cancel()

	release, err := p.acquire(tctx, t.Priority)
	if err != nil {
		res.Err = p.classify(ctx, tctx, t.Key, err)
		return res
	}

	res.Metadata.StartedAt = time.Now()
	res.Metadata.Attempted = true

	done := make(chan outcome[T], 1)
	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("task %s panicked: %v", t.Key, r)}
			}
		}()
		v, lk, err := t.Run(tctx)
		done <- outcome[T]{data: v, lookup: lk, err: err}
	}()

	select {
	case o := <-done:
		res.Performance.CacheTime = o.lookup.CacheTime
		res.Performance.FromCache = o.lookup.FromCache
		res.Performance.ComputationTime = o.lookup.ComputeTime
		if o.err != nil {
			res.Err = p.classify(ctx, tctx, t.Key, o.err)
			return res
		}
		res.Data = o.data
	case <-tctx.Done():
		res.Err = p.classify(ctx, tctx, t.Key, tctx.Err())
	}
	return res
}

// acquire takes a slot for priority p. Background work first takes one of
// the non-reserved slots.
func (p *Pool) acquire(ctx context.Context, pr Priority) (func(), error) {
	if pr == Background {
		if err := p.background.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		if pr == Background {
			p.background.Release(1)
		}
		return nil, err
	}
	return func() {
		p.slots.Release(1)
		if pr == Background {
			p.background.Release(1)
		}
	}, nil
}

// classify turns our own deadline into a TimeoutError; the caller's
// cancellation and task errors pass through.
func (p *Pool) classify(parent, tctx context.Context, key string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && tctx.Err() != nil {
		p.log.Warn("computation timed out", "key", key, "timeout", p.cfg.ComputationTimeout)
		return &domain.TimeoutError{Key: key, Timeout: p.cfg.ComputationTimeout}
	}
	return err
}

func outcomeLabel[T any](r Result[T]) string {
	var te *domain.TimeoutError
	switch {
	case r.Err == nil && r.Performance.FromCache:
		return "cached"
	case r.Err == nil:
		return "ok"
	case errors.As(r.Err, &te):
		return "timeout"
	case errors.Is(r.Err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
