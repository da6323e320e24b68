package strip

import (
	"time"

	"github.com/robertmeta/strip-cli/model"
)

// Event is delivered to listeners after a fetch that produced a new strip or
// failed. Strip is model.MissingStrip() when the fetch failed, and Err holds
// the failure.
type Event struct {
	Strip   *model.Strip
	Outcome model.Outcome
	CycleID string
	Err     error
	At      time.Time
}

// Listener receives strip notifications. Implementations must be comparable
// (typically pointers) so they can be removed again.
type Listener interface {
	StripUpdated(Event)
}

type funcListener struct {
	fn func(Event)
}

func (l *funcListener) StripUpdated(e Event) { l.fn(e) }

// AddListener registers l. Registering the same listener twice delivers each
// event twice.
func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// RemoveListener unregisters one registration of l.
func (s *Service) RemoveListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Subscribe registers fn and returns a function that unregisters it.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	l := &funcListener{fn: fn}
	s.AddListener(l)
	return func() { s.RemoveListener(l) }
}

// broadcast runs listeners synchronously on the calling goroutine, outside
// the lock so a listener may unregister itself.
func (s *Service) broadcast(e Event) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l.StripUpdated(e)
	}
}
