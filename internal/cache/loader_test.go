package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-analytics/internal/domain"
)

type overview struct {
	Sent int64 `json:"sent"`
}

// failingStore errors on every call.
type failingStore struct{}

var errStoreDown = errors.New("connection refused")

func (failingStore) Get(context.Context, string) (*Entry, error)     { return nil, errStoreDown }
func (failingStore) Set(context.Context, Entry, time.Duration) error { return errStoreDown }
func (failingStore) Invalidate(context.Context, string) (int, error) { return 0, errStoreDown }
func (failingStore) Ping(context.Context) error                      { return errStoreDown }

func TestFetchCachesResult(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemoryStore(), nil)
	key := NewKey(domain.Campaigns, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	calls := 0
	compute := func(context.Context) (overview, error) {
		calls++
		return overview{Sent: 42}, nil
	}

	v, lk, err := Fetch(ctx, l, key, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Sent)
	assert.False(t, lk.FromCache)

	v, lk, err = Fetch(ctx, l, key, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Sent)
	assert.True(t, lk.FromCache)
	assert.Equal(t, 1, calls)

	st := l.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(1), st.Computations)
}

func TestFetchCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemoryStore(), nil)
	key := NewKey(domain.Leads, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (overview, error) {
		calls.Add(1)
		<-release
		return overview{Sent: 7}, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]overview, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := Fetch(ctx, l, key, compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, int64(7), r.Sent)
	}
}

func TestFetchComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := NewLoader(store, nil)
	key := NewKey(domain.Billing, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	_, _, err := Fetch(ctx, l, key, func(context.Context) (overview, error) {
		return overview{}, errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, 0, store.Len())
}

func TestFetchStoreFailureFallsBackToCompute(t *testing.T) {
	var reported []error
	l := NewLoader(failingStore{}, nil, OnStoreResult(func(err error) { reported = append(reported, err) }))
	key := NewKey(domain.Templates, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	v, lk, err := Fetch(context.Background(), l, key, func(context.Context) (overview, error) {
		return overview{Sent: 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Sent)
	assert.False(t, lk.FromCache)
	assert.NotEmpty(t, reported)
	for _, e := range reported {
		assert.ErrorIs(t, e, errStoreDown)
	}
	assert.GreaterOrEqual(t, l.Stats().StoreErrors, int64(2))
}

func TestFetchRespectsContext(t *testing.T) {
	l := NewLoader(NewMemoryStore(), nil)
	key := NewKey(domain.Campaigns, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := Fetch(ctx, l, key, func(context.Context) (overview, error) {
		time.Sleep(200 * time.Millisecond)
		return overview{}, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoaderInvalidateAndFreshness(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemoryStore(), nil)
	key := NewKey(domain.Mailboxes, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	_, _, err := Fetch(ctx, l, key, func(context.Context) (overview, error) { return overview{Sent: 1}, nil })
	require.NoError(t, err)
	assert.True(t, l.IsFresh(ctx, key.String()))

	n, err := l.Invalidate(ctx, CompanyPrefix(domain.Mailboxes, "acme"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, l.IsFresh(ctx, key.String()))
}

func TestFetchCallerCancelDoesNotFailSharedComputation(t *testing.T) {
	l := NewLoader(NewMemoryStore(), nil)
	key := NewKey(domain.Campaigns, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	var calls atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	compute := func(ctx context.Context) (overview, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-gate:
			return overview{Sent: 9}, nil
		case <-ctx.Done():
			return overview{}, ctx.Err()
		}
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := Fetch(leaderCtx, l, key, compute)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		v   overview
		lk  Lookup
		err error
	}
	waiter := make(chan outcome, 1)
	go func() {
		v, lk, err := Fetch(context.Background(), l, key, compute)
		waiter <- outcome{v, lk, err}
	}()
	time.Sleep(30 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(gate)
	got := <-waiter
	require.NoError(t, got.err)
	assert.Equal(t, int64(9), got.v.Sent)
	assert.True(t, got.lk.Shared)
	assert.Equal(t, int32(1), calls.Load())

	v, lk, err := Fetch(context.Background(), l, key, compute)
	require.NoError(t, err)
	assert.True(t, lk.FromCache)
	assert.Equal(t, int64(9), v.Sent)
}

func TestInvalidateDuringComputationDropsStaleWrite(t *testing.T) {
	ctx := context.Background()
	l := NewLoader(NewMemoryStore(), nil)
	key := NewKey(domain.Leads, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	var source atomic.Int64
	source.Store(1)
	var calls atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	compute := func(context.Context) (overview, error) {
		v := source.Load()
		if calls.Add(1) == 1 {
			close(started)
			<-gate
		}
		return overview{Sent: v}, nil
	}

	first := make(chan overview, 1)
	go func() {
		v, _, err := Fetch(ctx, l, key, compute)
		assert.NoError(t, err)
		first <- v
	}()
	<-started

	source.Store(2)
	_, err := l.Invalidate(ctx, CompanyPrefix(domain.Leads, "acme"))
	require.NoError(t, err)

	// The rewarm must not join the computation that read the old value.
	v, lk, err := Fetch(ctx, l, key, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Sent)
	assert.False(t, lk.Shared)

	close(gate)
	assert.Equal(t, int64(1), (<-first).Sent)

	v, lk, err = Fetch(ctx, l, key, compute)
	require.NoError(t, err)
	assert.True(t, lk.FromCache)
	assert.Equal(t, int64(2), v.Sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchAfterExpiryRecomputesOnce(t *testing.T) {
	ctx := context.Background()
	var clock atomic.Int64
	clock.Store(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	l := NewLoader(NewMemoryStore(WithClock(now)), NewTTLPolicy(time.Minute))
	key := NewKey(domain.Mailboxes, domain.OpOverview, domain.AnalyticsFilters{CompanyID: "acme"})

	_, _, err := Fetch(ctx, l, key, func(context.Context) (overview, error) { return overview{Sent: 1}, nil })
	require.NoError(t, err)
	_, lk, err := Fetch(ctx, l, key, func(context.Context) (overview, error) { return overview{Sent: 1}, nil })
	require.NoError(t, err)
	require.True(t, lk.FromCache)
	require.Equal(t, int64(1), l.Stats().Computations)

	clock.Add(int64(61 * time.Second))

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (overview, error) {
		calls.Add(1)
		<-release
		return overview{Sent: 2}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, lk, err := Fetch(ctx, l, key, compute)
			assert.NoError(t, err)
			assert.False(t, lk.FromCache)
			assert.Equal(t, int64(2), v.Sent)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(2), l.Stats().Computations)

	v, lk, err := Fetch(ctx, l, key, compute)
	require.NoError(t, err)
	assert.True(t, lk.FromCache)
	assert.Equal(t, int64(2), v.Sent)
}
