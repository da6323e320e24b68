package schedule

import (
	"context"
	"sync"

	"github.com/robertmeta/strip-cli/model"
	"github.com/robertmeta/strip-cli/strip"
	"github.com/rs/zerolog"
)

// Cycle results reported to metrics.
const (
	cycleSucceeded = "succeeded"
	cycleExhausted = "exhausted"
	cycleCancelled = "cancelled"
)

// attemptCycle is one bounded sequence of fetch attempts. It listens for
// strip notifications and ends early once a real strip arrives.
type attemptCycle struct {
	id          string
	source      Source
	maxAttempts int
	logger      zerolog.Logger
	onEnd       func(c *attemptCycle, result string)

	mu       sync.Mutex
	runCount int
	handle   *Handle
	ended    bool
}

func newAttemptCycle(id string, source Source, maxAttempts int, logger zerolog.Logger, onEnd func(*attemptCycle, string)) *attemptCycle {
	return &attemptCycle{
		id:          id,
		source:      source,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("cycle_id", id).Logger(),
		onEnd:       onEnd,
	}
}

// attach records the executor handle running the cycle.
func (c *attemptCycle) attach(h *Handle) {
	c.mu.Lock()
	c.handle = h
	ended := c.ended
	c.mu.Unlock()
	if ended {
		h.Cancel()
	}
}

// run is the executor task: one invocation per scheduled attempt.
func (c *attemptCycle) run(h *Handle) {
	c.mu.Lock()
	if c.handle == nil {
		c.handle = h
	}
	if c.ended {
		c.mu.Unlock()
		h.Cancel()
		return
	}
	if c.runCount >= c.maxAttempts {
		c.mu.Unlock()
		c.logger.Info().Int("attempts", c.maxAttempts).Msg("Attempt limit reached, giving up until tomorrow")
		c.end(cycleExhausted)
		return
	}
	c.runCount++
	attempt := c.runCount
	c.mu.Unlock()

	token := ""
	if cached := c.source.CachedStrip(); cached != nil {
		token = cached.CacheToken()
	}

	c.logger.Info().Int("attempt", attempt).Int("max_attempts", c.maxAttempts).Str("etag", token).Msg("Fetching strip")
	c.source.FetchNow(strip.WithCycleID(context.Background(), c.id), token)
}

// StripUpdated ends the cycle as soon as a real strip is available.
// MISSING notifications leave the remaining attempts scheduled.
func (c *attemptCycle) StripUpdated(e strip.Event) {
	if e.Strip == nil || e.Strip.IsMissing() {
		c.logger.Debug().Err(e.Err).Msg("Attempt did not produce a strip")
		return
	}
	c.logger.Info().Str("etag", e.Strip.CacheToken()).Msg("Strip received, ending attempt cycle")
	c.end(cycleSucceeded)
}

// cancel ends the cycle from outside, e.g. on Start or Stop.
func (c *attemptCycle) cancel() {
	c.end(cycleCancelled)
}

func (c *attemptCycle) end(result string) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	h := c.handle
	c.mu.Unlock()

	h.Cancel()
	c.source.RemoveListener(c)
	if c.onEnd != nil {
		c.onEnd(c, result)
	}
}

func (c *attemptCycle) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCount
}

var _ strip.Listener = (*attemptCycle)(nil)

// Source is the strip service as seen by the scheduler.
type Source interface {
	AddListener(l strip.Listener)
	RemoveListener(l strip.Listener)
	FetchNow(ctx context.Context, previousToken string)
	CachedStrip() *model.Strip
}
