package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/robertmeta/strip-cli/model"
	"github.com/robertmeta/strip-cli/strip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEvent() *strip.Event {
	return &strip.Event{Strip: model.MissingStrip(), Outcome: model.OutcomeFailed, Err: errors.New("network error")}
}

func stripEvent(token string) *strip.Event {
	s := model.NewStrip([]byte("GIF89a"), token, "", time.Now())
	return &strip.Event{Strip: s, Outcome: model.OutcomeNewStrip}
}

type cycleResult struct {
	results []string
}

func (r *cycleResult) record(_ *attemptCycle, result string) {
	r.results = append(r.results, result)
}

// newManualCycle returns a cycle whose invocations are driven by the test.
func newManualCycle(t *testing.T, src *fakeSource, maxAttempts int) (*attemptCycle, *Handle, *cycleResult) {
	t.Helper()
	res := &cycleResult{}
	c := newAttemptCycle("cycle-test", src, maxAttempts, zerolog.Nop(), res.record)
	src.AddListener(c)
	h := newHandle()
	c.attach(h)
	return c, h, res
}

func TestAttemptCycle_RetryCap(t *testing.T) {
	src := newFakeSource()
	src.respond = func(int) *strip.Event { return missingEvent() }

	c, h, res := newManualCycle(t, src, 3)

	for i := 0; i < 3; i++ {
		c.run(h)
		assert.False(t, h.Cancelled(), "attempt %d should leave the cycle running", i+1)
	}
	assert.Equal(t, 3, src.callCount())

	// The invocation after the cap ends the cycle without fetching.
	c.run(h)
	assert.Equal(t, 3, src.callCount())
	assert.True(t, h.Cancelled())
	assert.Equal(t, 0, src.listenerCount(), "listener removed when the cycle ends")
	assert.Equal(t, []string{cycleExhausted}, res.results)

	// Further invocations are inert.
	c.run(h)
	assert.Equal(t, 3, src.callCount())
	assert.Len(t, res.results, 1)
}

func TestAttemptCycle_EarlyCancelOnSuccess(t *testing.T) {
	src := newFakeSource()
	src.respond = func(call int) *strip.Event {
		if call == 2 {
			return stripEvent(`"fresh"`)
		}
		return missingEvent()
	}

	c, h, res := newManualCycle(t, src, 5)

	c.run(h)
	assert.False(t, h.Cancelled())
	c.run(h)
	assert.True(t, h.Cancelled(), "success on attempt 2 cancels the cycle")
	assert.Equal(t, 0, src.listenerCount())

	for i := 0; i < 3; i++ {
		c.run(h)
	}
	assert.Equal(t, 2, src.callCount(), "no attempts 3 to 5")
	assert.Equal(t, []string{cycleSucceeded}, res.results)
	assert.Equal(t, 2, c.attempts())
}

func TestAttemptCycle_SendsCachedToken(t *testing.T) {
	src := newFakeSource()
	c, h, _ := newManualCycle(t, src, 2)

	c.run(h)
	first := <-src.fetched
	assert.Equal(t, "", first.token, "no token before anything was fetched")
	assert.Equal(t, "cycle-test", first.cycleID)

	src.mu.Lock()
	src.cached = model.NewStrip([]byte("GIF89a"), `W/"abc"`, "", time.Now())
	src.mu.Unlock()

	c.run(h)
	second := <-src.fetched
	assert.Equal(t, `W/"abc"`, second.token)
}

func TestAttemptCycle_TokenlessStripDoesNotEndCycle(t *testing.T) {
	src := newFakeSource()
	src.respond = func(int) *strip.Event { return stripEvent("") }

	c, h, res := newManualCycle(t, src, 2)
	c.run(h)

	assert.False(t, h.Cancelled(), "a strip without a token compares equal to MISSING")
	assert.Empty(t, res.results)
}

func TestAttemptCycle_CancelIsIdempotent(t *testing.T) {
	src := newFakeSource()
	c, h, res := newManualCycle(t, src, 2)

	c.cancel()
	c.cancel()
	require.True(t, h.Cancelled())
	assert.Equal(t, []string{cycleCancelled}, res.results)

	c.run(h)
	assert.Equal(t, 0, src.callCount())
}
