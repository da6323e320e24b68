package strip

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robertmeta/strip-cli/fetch"
	"github.com/robertmeta/strip-cli/metrics"
	"github.com/robertmeta/strip-cli/model"
	"github.com/robertmeta/strip-cli/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gifBytes = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")

type fakeFetcher struct {
	calls  atomic.Int32
	tokens chan string
	fn     func(previousToken string) (fetch.Outcome, error)
}

func (f *fakeFetcher) FetchStrip(ctx context.Context, previousToken string) (fetch.Outcome, error) {
	f.calls.Add(1)
	if f.tokens != nil {
		f.tokens <- previousToken
	}
	return f.fn(previousToken)
}

func newStrip(token string) *model.Strip {
	return model.NewStrip(gifBytes, token, "https://example.com/strip.gif", time.Now())
}

func returning(out fetch.Outcome, err error) func(string) (fetch.Outcome, error) {
	return func(string) (fetch.Outcome, error) { return out, err }
}

func newTestService(t *testing.T, f Fetcher, archive Archive) *Service {
	t.Helper()
	s, err := NewService(Options{
		Fetcher:                f,
		Archive:                archive,
		Metrics:                metrics.NewCollector(),
		Logger:                 zerolog.Nop(),
		DisclaimerAcknowledged: true,
	})
	require.NoError(t, err)
	return s
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) StripUpdated(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestService_FetchNewStrip(t *testing.T) {
	st := newTestStore(t)
	strip := newStrip(`"new"`)
	f := &fakeFetcher{fn: returning(fetch.Outcome{Kind: model.OutcomeNewStrip, Strip: strip}, nil)}
	s := newTestService(t, f, st)

	rec := &eventRecorder{}
	s.AddListener(rec)

	assert.Nil(t, s.CachedStrip(), "nothing cached before the first fetch")

	out, err := s.Fetch(WithCycleID(context.Background(), "cycle-1"), "")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNewStrip, out.Kind)

	cached := s.CachedStrip()
	require.NotNil(t, cached)
	assert.True(t, cached.Equal(strip))
	assert.Equal(t, `"new"`, s.CachedToken())
	assert.Same(t, cached, out.Strip)
	assert.Zero(t, strip.ID(), "fetched strip must not be modified")

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Same(t, cached, events[0].Strip)
	assert.Equal(t, "cycle-1", events[0].CycleID)
	assert.NoError(t, events[0].Err)

	latest, err := st.LatestStrip()
	require.NoError(t, err)
	assert.True(t, latest.Equal(strip))
	assert.NotZero(t, cached.ID(), "published strip carries its archive id")
	assert.Equal(t, latest.ID(), cached.ID())

	attempts, err := st.GetAttempts(store.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.OutcomeNewStrip, attempts[0].Outcome)
	assert.Equal(t, "cycle-1", attempts[0].CycleID)
}

func TestService_NotModifiedIsNotBroadcast(t *testing.T) {
	st := newTestStore(t)
	f := &fakeFetcher{fn: returning(fetch.Outcome{Kind: model.OutcomeNotModified}, nil)}
	s := newTestService(t, f, st)

	rec := &eventRecorder{}
	s.AddListener(rec)

	out, err := s.Fetch(context.Background(), `"old"`)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNotModified, out.Kind)
	assert.Empty(t, rec.Events())

	attempts, err := st.GetAttempts(store.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.OutcomeNotModified, attempts[0].Outcome)
	assert.Equal(t, `"old"`, attempts[0].CacheToken)
}

func TestService_FailureBroadcastsMissingAndKeepsCurrent(t *testing.T) {
	st := newTestStore(t)
	previous := newStrip(`"prev"`)
	_, err := st.SaveStrip(previous)
	require.NoError(t, err)

	fetchErr := errors.New("connection refused")
	f := &fakeFetcher{fn: returning(fetch.Outcome{}, fetchErr)}
	s := newTestService(t, f, st)
	require.NotNil(t, s.CachedStrip(), "latest archived strip loaded on start")

	rec := &eventRecorder{}
	s.AddListener(rec)

	_, err = s.Fetch(context.Background(), s.CachedToken())
	assert.ErrorIs(t, err, fetchErr)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Strip.IsMissing())
	assert.Equal(t, model.OutcomeFailed, events[0].Outcome)
	assert.ErrorIs(t, events[0].Err, fetchErr)

	assert.Equal(t, `"prev"`, s.CachedToken(), "last good strip stays current")

	attempts, err := st.GetAttempts(store.QueryOptions{Outcome: model.OutcomeFailed})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "connection refused", attempts[0].Message)
}

func TestService_FetchNowAsync(t *testing.T) {
	strip := newStrip(`"async"`)
	f := &fakeFetcher{tokens: make(chan string, 1), fn: returning(fetch.Outcome{Kind: model.OutcomeNewStrip, Strip: strip}, nil)}
	s := newTestService(t, f, nil)

	got := make(chan Event, 1)
	unsubscribe := s.Subscribe(func(e Event) { got <- e })
	defer unsubscribe()

	ctx, cancel := context.WithCancel(WithCycleID(context.Background(), "c"))
	s.FetchNow(ctx, `"before"`)
	cancel()

	select {
	case e := <-got:
		assert.Same(t, strip, e.Strip)
		assert.Equal(t, "c", e.CycleID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	assert.Equal(t, `"before"`, <-f.tokens)
	s.Wait()
}

func TestService_DisclaimerGate(t *testing.T) {
	st := newTestStore(t)
	f := &fakeFetcher{fn: returning(fetch.Outcome{Kind: model.OutcomeNotModified}, nil)}
	s, err := NewService(Options{Fetcher: f, Archive: st, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), "")
	assert.ErrorIs(t, err, ErrDisclaimerNotAcknowledged)

	s.FetchNow(context.Background(), "")
	s.Wait()
	assert.EqualValues(t, 0, f.calls.Load())

	skipped, err := st.GetAttempts(store.QueryOptions{Outcome: model.OutcomeSkipped})
	require.NoError(t, err)
	assert.Len(t, skipped, 1)

	s.SetDisclaimerAcknowledged(true)
	_, err = s.Fetch(context.Background(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestService_ConcurrentFetchesShareOneRun(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once

	f := &fakeFetcher{fn: func(string) (fetch.Outcome, error) {
		once.Do(started.Done)
		<-release
		return fetch.Outcome{Kind: model.OutcomeNewStrip, Strip: newStrip(`"x"`)}, nil
	}}
	s := newTestService(t, f, nil)

	rec := &eventRecorder{}
	s.AddListener(rec)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Fetch(context.Background(), "")
	}()
	started.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Fetch(context.Background(), "")
	}()
	// Give the second caller time to join the in-flight run.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, f.calls.Load())
	assert.Len(t, rec.Events(), 1, "one run, one notification")
}

func TestService_RemoveListenerDuringBroadcast(t *testing.T) {
	f := &fakeFetcher{fn: returning(fetch.Outcome{}, errors.New("boom"))}
	s := newTestService(t, f, nil)

	var calls atomic.Int32
	var unsubscribe func()
	unsubscribe = s.Subscribe(func(Event) {
		calls.Add(1)
		unsubscribe()
	})

	_, _ = s.Fetch(context.Background(), "")
	_, _ = s.Fetch(context.Background(), "")
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewService_RequiresFetcher(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}
