package schedule

import (
	"context"
	"sync"

	"github.com/robertmeta/strip-cli/model"
	"github.com/robertmeta/strip-cli/strip"
)

type fetchCall struct {
	token   string
	cycleID string
}

// fakeSource stands in for the strip service. respond, when set, decides the
// event broadcast for each FetchNow; a nil event broadcasts nothing.
type fakeSource struct {
	mu        sync.Mutex
	listeners []strip.Listener
	calls     []fetchCall
	cached    *model.Strip
	fetched   chan fetchCall
	respond   func(call int) *strip.Event
}

func newFakeSource() *fakeSource {
	return &fakeSource{fetched: make(chan fetchCall, 100)}
}

func (f *fakeSource) AddListener(l strip.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *fakeSource) RemoveListener(l strip.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.listeners {
		if existing == l {
			f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *fakeSource) FetchNow(ctx context.Context, previousToken string) {
	call := fetchCall{token: previousToken, cycleID: strip.CycleID(ctx)}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()

	f.fetched <- call

	if respond == nil {
		return
	}
	if e := respond(n); e != nil {
		f.broadcast(*e)
	}
}

func (f *fakeSource) CachedStrip() *model.Strip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached
}

func (f *fakeSource) broadcast(e strip.Event) {
	f.mu.Lock()
	listeners := append([]strip.Listener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range listeners {
		l.StripUpdated(e)
	}
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSource) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}
