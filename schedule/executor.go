package schedule

import (
	"sync"
	"time"
)

// Handle controls a task started by scheduleWithFixedDelay.
type Handle struct {
	cancelOnce sync.Once
	cancelled  chan struct{}
	done       chan struct{}
}

func newHandle() *Handle {
	return &Handle{
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Cancel prevents further invocations. An invocation already running is
// allowed to finish. Safe to call more than once and from inside the task.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelOnce.Do(func() { close(h.cancelled) })
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.cancelled:
		return true
	default:
		return false
	}
}

// Done is closed once the task goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// scheduleWithFixedDelay runs task after initialDelay and then repeatedly,
// waiting delay between the end of one invocation and the start of the
// next, until the handle is cancelled.
func scheduleWithFixedDelay(initialDelay, delay time.Duration, task func(*Handle)) *Handle {
	h := newHandle()
	if initialDelay < 0 {
		initialDelay = 0
	}

	go func() {
		defer close(h.done)

		timer := time.NewTimer(initialDelay)
		defer timer.Stop()

		for {
			select {
			case <-h.cancelled:
				return
			case <-timer.C:
			}
			if h.Cancelled() {
				return
			}
			task(h)
			timer.Reset(delay)
		}
	}()

	return h
}
