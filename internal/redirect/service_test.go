package redirect_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/smllr/internal"
	"github.com/MagnunAVF/smllr/internal/clicks"
	"github.com/MagnunAVF/smllr/internal/redirect"
	"github.com/MagnunAVF/smllr/internal/testutils"
)

const window = 30 * 24 * time.Hour

var errBackend = errors.New("connection refused")

type env struct {
	store     *testutils.FakeStore
	cache     *testutils.FakeCache
	publisher *testutils.FakePublisher
	svc       *redirect.Service
	now       time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:     testutils.NewFakeStore(),
		cache:     testutils.NewFakeCache(),
		publisher: &testutils.FakePublisher{},
		now:       time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	e.svc = redirect.NewService(e.cache, e.store, e.publisher, redirect.Config{
		ExpirationWindow: window,
		CacheTimeout:     50 * time.Millisecond,
		AnalyticsTimeout: 50 * time.Millisecond,
	}).WithClock(func() time.Time { return e.now })
	return e
}

func ownerPtr(id int64) *int64 { return &id }

func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Set("Referer", "https://news.example.org/post")
	return h
}

func TestHandleRedirect_CacheMissPopulatesCache(t *testing.T) {
	e := newEnv(t)
	e.store.Put(internal.ShortURL{Code: "abc123", Destination: "https://example.com", CreatedAt: e.now})

	res, err := e.svc.HandleRedirect(context.Background(), "abc123", browserHeaders(), "10.0.0.1:5555")

	require.NoError(t, err)
	assert.Equal(t, redirect.Redirect("https://example.com"), res)
	assert.True(t, e.cache.Has("abc123"))

	tasks := e.publisher.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "abc123", tasks[0].Code)
	assert.NotZero(t, tasks[0].FingerprintID)

	fp, err := e.store.FindFingerprintByID(context.Background(), tasks[0].FingerprintID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", fp.IPAddress)
	assert.Equal(t, "https://news.example.org/post", fp.Referrer)
	assert.Equal(t, internal.DeviceDesktop, fp.DeviceType)
}

func TestHandleRedirect_ExpiredAnonymous(t *testing.T) {
	e := newEnv(t)
	e.store.Put(internal.ShortURL{Code: "abc123", Destination: "https://example.com", CreatedAt: e.now.Add(-31 * 24 * time.Hour)})

	res, err := e.svc.HandleRedirect(context.Background(), "abc123", browserHeaders(), "10.0.0.1:5555")

	require.NoError(t, err)
	assert.Equal(t, redirect.NotFound(), res)
	assert.False(t, e.cache.Has("abc123"), "expired records are not cached")
	assert.Empty(t, e.publisher.Tasks())
	assert.Zero(t, e.store.FingerprintCount())
}

func TestHandleRedirect_OwnedNeverExpires(t *testing.T) {
	e := newEnv(t)
	e.store.Put(internal.ShortURL{
		Code:        "old",
		Destination: "https://example.com/old",
		OwnerID:     ownerPtr(7),
		CreatedAt:   e.now.Add(-400 * 24 * time.Hour),
	})

	res, err := e.svc.HandleRedirect(context.Background(), "old", browserHeaders(), "")

	require.NoError(t, err)
	assert.Equal(t, redirect.Redirect("https://example.com/old"), res)
}

func TestHandleRedirect_UnknownCode(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.HandleRedirect(context.Background(), "zzz", browserHeaders(), "10.0.0.1:5555")

	require.NoError(t, err)
	assert.Equal(t, redirect.NotFound(), res)
	assert.Empty(t, e.publisher.Tasks())
	assert.Zero(t, e.store.FingerprintCount())
}

func TestHandleRedirect_CacheHitSkipsStore(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.cache.Set(context.Background(), internal.CachedShortURL{
		Code: "hot", Destination: "https://example.com/hot", CreatedAt: e.now,
	}))
	// a hit must not read the durable record at all
	e.store.Put(internal.ShortURL{Code: "hot", Destination: "https://stale.example.com", CreatedAt: e.now})

	res, err := e.svc.HandleRedirect(context.Background(), "hot", browserHeaders(), "")

	require.NoError(t, err)
	assert.Equal(t, redirect.Redirect("https://example.com/hot"), res)
	assert.Zero(t, e.store.FindCalls.Load())
	assert.Len(t, e.publisher.Tasks(), 1)
}

func TestResolve_SameDestinationFromCacheAndStore(t *testing.T) {
	e := newEnv(t)
	codes := map[string]string{
		"a":     "https://example.com/a",
		"b-2":   "https://example.com/b?x=1",
		"C_3":   "http://example.net",
		"owned": "https://example.com/owned",
	}
	for code, dest := range codes {
		u := internal.ShortURL{Code: code, Destination: dest, CreatedAt: e.now.Add(-time.Hour)}
		if code == "owned" {
			u.OwnerID = ownerPtr(1)
		}
		e.store.Put(u)
	}

	ctx := context.Background()
	for code, dest := range codes {
		miss, err := e.svc.Resolve(ctx, code)
		require.NoError(t, err)
		require.NotNil(t, miss)
		require.True(t, e.cache.Has(code))

		hit, err := e.svc.Resolve(ctx, code)
		require.NoError(t, err)
		require.NotNil(t, hit)

		assert.Equal(t, dest, miss.Destination)
		assert.Equal(t, miss.Destination, hit.Destination)
	}
}

func TestResolve_ExpiryRecomputedOnCachedEntry(t *testing.T) {
	e := newEnv(t)
	e.store.Put(internal.ShortURL{Code: "abc123", Destination: "https://example.com", CreatedAt: e.now})

	view, err := e.svc.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	require.NotNil(t, view)
	require.True(t, e.cache.Has("abc123"))

	// the cached entry has no expiry of its own; time passing must still expire it
	e.now = e.now.Add(window + time.Minute)

	view, err = e.svc.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Nil(t, view)
	assert.Equal(t, int32(1), e.store.FindCalls.Load())
}

func TestResolve_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		owner   *int64
		expired bool
	}{
		{name: "fresh anonymous", age: time.Hour},
		{name: "exactly at window", age: window},
		{name: "one second past window", age: window + time.Second, expired: true},
		{name: "31 days anonymous", age: 31 * 24 * time.Hour, expired: true},
		{name: "31 days owned", age: 31 * 24 * time.Hour, owner: ownerPtr(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.store.Put(internal.ShortURL{Code: "c", Destination: "https://example.com", OwnerID: tt.owner, CreatedAt: e.now.Add(-tt.age)})

			view, err := e.svc.Resolve(context.Background(), "c")
			require.NoError(t, err)
			assert.Equal(t, tt.expired, view == nil)
		})
	}
}

func TestHandleRedirect_BackendsFailing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *env)
	}{
		{name: "cache get fails", setup: func(e *env) { e.cache.GetErr = errBackend }},
		{name: "cache set fails", setup: func(e *env) { e.cache.SetErr = errBackend }},
		{name: "queue fails", setup: func(e *env) { e.publisher.Err = errBackend }},
		{name: "fingerprint persist fails", setup: func(e *env) { e.store.FingerprintErr = errBackend }},
		{name: "everything best-effort fails", setup: func(e *env) {
			e.cache.GetErr = errBackend
			e.cache.SetErr = errBackend
			e.publisher.Err = context.DeadlineExceeded
			e.store.FingerprintErr = errBackend
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.store.Put(internal.ShortURL{Code: "abc123", Destination: "https://example.com", CreatedAt: e.now})
			tt.setup(e)

			res, err := e.svc.HandleRedirect(context.Background(), "abc123", browserHeaders(), "10.0.0.1:5555")

			require.NoError(t, err)
			assert.Equal(t, redirect.Redirect("https://example.com"), res)
		})
	}
}

func TestHandleRedirect_StoreUnavailable(t *testing.T) {
	e := newEnv(t)
	e.store.FindErr = errBackend

	res, err := e.svc.HandleRedirect(context.Background(), "abc123", browserHeaders(), "")

	require.ErrorIs(t, err, errBackend)
	assert.Equal(t, redirect.NotFound(), res)
	assert.Empty(t, e.publisher.Tasks())
}

func TestHandleRedirect_ConcurrentClicksAllCounted(t *testing.T) {
	e := newEnv(t)
	e.store.Put(internal.ShortURL{Code: "abc123", Destination: "https://example.com", CreatedAt: e.now})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.svc.HandleRedirect(context.Background(), "abc123", browserHeaders(), "10.0.0.1:5555")
			assert.NoError(t, err)
			assert.True(t, res.Found)
		}()
	}
	wg.Wait()

	tasks := e.publisher.Tasks()
	require.Len(t, tasks, n)

	recorder := clicks.NewRecorder(e.store)
	for _, task := range tasks {
		wg.Add(1)
		go func(task internal.ClickTask) {
			defer wg.Done()
			assert.Equal(t, clicks.Completed, recorder.Record(context.Background(), task))
		}(task)
	}
	wg.Wait()

	assert.Equal(t, int64(n), e.store.Clicks("abc123"))
	assert.Len(t, e.store.ClickRecords(), n)
}

func TestResult_Constructors(t *testing.T) {
	assert.False(t, redirect.NotFound().Found)
	assert.Empty(t, redirect.NotFound().Destination)

	res := redirect.Redirect("https://example.com")
	assert.True(t, res.Found)
	assert.Equal(t, "https://example.com", res.Destination)
}
