package bills

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"billfetch/internal/attempts"
	attemptsdb "billfetch/internal/attempts/db"
	"billfetch/internal/billing"
	"billfetch/internal/components/chrono"
	"billfetch/internal/portal"
	"billfetch/lib/testutil"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.October, 14, 9, 30, 0, 0, time.UTC)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]string{}}
}

func (c *memoryCache) put(id string, period billing.Period, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id+"|"+period.Token()] = path
}

func (c *memoryCache) Lookup(ctx context.Context, id string, period billing.Period) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.entries[id+"|"+period.Token()]
	return path, ok, nil
}

type fakeEngine struct {
	cache   *memoryCache
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (e *fakeEngine) Retrieve(ctx context.Context, req billing.Request) (string, error) {
	e.calls.Add(1)
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if e.err != nil {
		return "", e.err
	}
	path := filepath.Join("/bills", billing.CanonicalName(req.Identifier, req.Period))
	e.cache.put(req.Identifier, req.Period, path)
	return path, nil
}

type serviceFixture struct {
	service Service
	cache   *memoryCache
	engine  *fakeEngine
	journal attempts.Store
}

func newServiceFixture(t *testing.T) *serviceFixture {
	setup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "internal/bills",
		DbSchema: attemptsdb.Schema,
	})

	cache := newMemoryCache()
	engine := &fakeEngine{cache: cache}
	journal := attempts.NewStore(setup.DB, setup.Tel)
	return &serviceFixture{
		service: NewService(cache, engine, journal, chrono.FixedTime{At: now}, setup.Tel),
		cache:   cache,
		engine:  engine,
		journal: journal,
	}
}

func TestGetRetrievesOnMissThenHitsCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	first, err := f.service.Get(ctx, "  n3355009057 ")
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, first.Cached)
	require.Equal(t, "/bills/Bill_N3355009057_Oct_2026.pdf", first.Path)

	second, err := f.service.Get(ctx, "N3355009057")
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, second.Cached)
	require.Equal(t, first.Path, second.Path)
	require.EqualValues(t, 1, f.engine.calls.Load())

	journal, err := f.journal.Recent(ctx, "N3355009057", 10)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, journal, 2)
	require.Equal(t, attempts.OutcomeCacheHit, journal[0].Outcome)
	require.Equal(t, attempts.OutcomeComplete, journal[1].Outcome)
	require.Equal(t, "Oct_2026", journal[1].Period)
}

func TestGetRejectsShortIdentifier(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Get(context.Background(), " ab1 ")
	require.ErrorIs(t, err, billing.ErrInvalidIdentifier)
	require.Equal(t, InvalidIdentifierMessage, UserMessage(err))
	require.EqualValues(t, 0, f.engine.calls.Load())
}

func TestGetFailureIsJournaled(t *testing.T) {
	f := newServiceFixture(t)
	f.engine.err = &portal.RetrievalError{
		State: portal.StateDownloading,
		Kind:  portal.KindDownloadTimeout,
		Err:   fmt.Errorf("%w: no new file", portal.ErrDownloadTimeout),
	}
	ctx := context.Background()

	_, err := f.service.Get(ctx, "N3355009057")
	require.ErrorIs(t, err, portal.ErrDownloadTimeout)
	require.Equal(t, FailureMessage, UserMessage(err))

	journal, err := f.journal.Recent(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, journal, 1)
	require.Equal(t, attempts.OutcomeFailed, journal[0].Outcome)
	require.Equal(t, "download_timeout", journal[0].Kind)

	_, ok, _ := f.cache.Lookup(ctx, "N3355009057", billing.PeriodOf(now))
	require.False(t, ok)
}

func TestGetSharesConcurrentRetrieval(t *testing.T) {
	f := newServiceFixture(t)
	f.engine.release = make(chan struct{})

	const callers = 5
	results := make([]Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.Get(context.Background(), "N3355009057")
		}(i)
	}

	require.Eventually(t, func() bool {
		return f.engine.calls.Load() == 1
	}, time.Second, time.Millisecond)
	// give the remaining callers a chance to join the flight before it lands
	time.Sleep(20 * time.Millisecond)
	close(f.engine.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "/bills/Bill_N3355009057_Oct_2026.pdf", results[i].Path)
	}
	require.EqualValues(t, 1, f.engine.calls.Load())
}

func TestGetWithoutJournal(t *testing.T) {
	cache := newMemoryCache()
	engine := &fakeEngine{cache: cache}
	setup := testutil.SetupService(t, testutil.ServiceParams{Name: "internal/bills"})
	service := NewService(cache, engine, nil, chrono.FixedTime{At: now}, setup.Tel)

	result, err := service.Get(context.Background(), "N3355009057")
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, result.Cached)
}

func TestGetCancelledCallerDoesNotFailSharedRetrieval(t *testing.T) {
	f := newServiceFixture(t)
	f.engine.release = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.service.Get(firstCtx, "N3355009057")
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		return f.engine.calls.Load() == 1
	}, time.Second, time.Millisecond)

	type outcome struct {
		result Result
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, err := f.service.Get(context.Background(), "N3355009057")
		second <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.engine.release)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, "/bills/Bill_N3355009057_Oct_2026.pdf", got.result.Path)
	require.EqualValues(t, 1, f.engine.calls.Load())
}
