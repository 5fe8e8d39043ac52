package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
)

func task(key string, d time.Duration, v int) Task[int] {
	return Task[int]{
		Key:    key,
		Domain: domain.Campaigns,
		Run: func(ctx context.Context) (int, cache.Lookup, error) {
			select {
			case <-time.After(d):
				return v, cache.Lookup{ComputeTime: d}, nil
			case <-ctx.Done():
				return 0, cache.Lookup{}, ctx.Err()
			}
		},
	}
}

func TestRunManyPreservesInputOrder(t *testing.T) {
	p := New(Config{MaxConcurrentOperations: 4})
	tasks := []Task[int]{
		task("a", 30*time.Millisecond, 1),
		task("b", 1*time.Millisecond, 2),
		task("c", 15*time.Millisecond, 3),
	}

	res := RunMany(context.Background(), p, tasks)
	require.Len(t, res, 3)
	for i, want := range []int{1, 2, 3} {
		assert.NoError(t, res[i].Err)
		assert.Equal(t, want, res[i].Data)
		assert.Equal(t, tasks[i].Key, res[i].Key)
		assert.NotEmpty(t, res[i].TaskID)
		assert.True(t, res[i].Metadata.Attempted)
	}
}

func TestRunManyTimeoutIsolated(t *testing.T) {
	p := New(Config{MaxConcurrentOperations: 4, ComputationTimeout: 50 * time.Millisecond})

	hang := Task[int]{
		Key:    "slow",
		Domain: domain.Mailboxes,
		Run: func(ctx context.Context) (int, cache.Lookup, error) {
			// Ignores ctx on purpose.
			time.Sleep(300 * time.Millisecond)
			return 9, cache.Lookup{}, nil
		},
	}

	start := time.Now()
	res := RunMany(context.Background(), p, []Task[int]{task("fast-1", 0, 1), hang, task("fast-2", 0, 2)})
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	assert.NoError(t, res[0].Err)
	assert.NoError(t, res[2].Err)

	var te *domain.TimeoutError
	require.ErrorAs(t, res[1].Err, &te)
	assert.Equal(t, "slow", te.Key)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
}

func TestSlotWaitCountsAgainstDeadline(t *testing.T) {
	p := New(Config{MaxConcurrentOperations: 1, ComputationTimeout: 50 * time.Millisecond})

	unblock := make(chan struct{})
	defer close(unblock)
	hog := Task[int]{
		Key:    "hog",
		Domain: domain.Mailboxes,
		Run: func(ctx context.Context) (int, cache.Lookup, error) {
			<-unblock
			return 0, cache.Lookup{}, nil
		},
	}
	go RunMany(context.Background(), p, []Task[int]{hog})
	require.Eventually(t, func() bool {
		if p.slots.TryAcquire(1) {
			p.slots.Release(1)
			return false
		}
		return true
	}, time.Second, time.Millisecond)

	start := time.Now()
	res := RunMany(context.Background(), p, []Task[int]{task("queued", 0, 1)})
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	var te *domain.TimeoutError
	require.ErrorAs(t, res[0].Err, &te)
	assert.Equal(t, "queued", te.Key)
	assert.False(t, res[0].Metadata.Attempted)
}

func TestRunManyHonoursConcurrencyCap(t *testing.T) {
	p := New(Config{MaxConcurrentOperations: 3})

	var inFlight, peak atomic.Int32
	tasks := make([]Task[int], 12)
	for i := range tasks {
		tasks[i] = Task[int]{
			Key: fmt.Sprintf("t%d", i),
			Run: func(ctx context.Context) (int, cache.Lookup, error) {
				n := inFlight.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return 0, cache.Lookup{}, nil
			},
		}
	}

	RunMany(context.Background(), p, tasks)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(3), peak.Load())
}

func TestBackgroundTasksLeaveReservedSlots(t *testing.T) {
	p := New(Config{MaxConcurrentOperations: 4, ReservedForeground: 2})

	var inFlight, peak atomic.Int32
	tasks := make([]Task[int], 8)
	for i := range tasks {
		tasks[i] = Task[int]{
			Key:      fmt.Sprintf("w%d", i),
			Priority: Background,
			Run: func(ctx context.Context) (int, cache.Lookup, error) {
				n := inFlight.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return 0, cache.Lookup{}, nil
			},
		}
	}

	RunMany(context.Background(), p, tasks)
	assert.Equal(t, int32(2), peak.Load())
}

func TestRunManyRecordsErrorsAndPanics(t *testing.T) {
	p := New(Config{})
	boom := errors.New("boom")

	res := RunMany(context.Background(), p, []Task[int]{
		{Key: "err", Run: func(context.Context) (int, cache.Lookup, error) { return 0, cache.Lookup{}, boom }},
		{Key: "panic", Run: func(context.Context) (int, cache.Lookup, error) { panic("bad row") }},
		{Key: "cached", Run: func(context.Context) (int, cache.Lookup, error) {
			return 5, cache.Lookup{FromCache: true, CacheTime: time.Millisecond}, nil
		}},
	})

	assert.ErrorIs(t, res[0].Err, boom)
	assert.ErrorContains(t, res[1].Err, "panicked")
	assert.NoError(t, res[2].Err)
	assert.True(t, res[2].Performance.FromCache)
	assert.Equal(t, time.Millisecond, res[2].Performance.CacheTime)
}

func TestRunManyCallerCancellation(t *testing.T) {
	p := New(Config{ComputationTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := RunMany(ctx, p, []Task[int]{task("a", 100*time.Millisecond, 1)})
	assert.ErrorIs(t, res[0].Err, context.Canceled)
}

func TestStreamChunks(t *testing.T) {
	p := New(Config{MaxConcurrentOperations: 10, EnableProgressiveLoading: true, ChunkSize: 2})
	tasks := make([]Task[int], 5)
	for i := range tasks {
		tasks[i] = task(fmt.Sprintf("t%d", i), time.Duration(i)*time.Millisecond, i)
	}

	var sizes []int
	seen := map[int]bool{}
	for chunk := range Stream(context.Background(), p, tasks) {
		sizes = append(sizes, len(chunk))
		for _, r := range chunk {
			seen[r.Data] = true
		}
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Len(t, seen, 5)
}

func TestStreamSingleChunkWhenDisabled(t *testing.T) {
	p := New(Config{ChunkSize: 2})
	tasks := []Task[int]{task("a", 0, 1), task("b", 0, 2), task("c", 0, 3)}

	var chunks [][]Result[int]
	for c := range Stream(context.Background(), p, tasks) {
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0][0].Data)
	assert.Equal(t, 3, chunks[0][2].Data)
}
