// Package schedule downloads the strip once a day at a configured local
// time, retrying a bounded number of times.
package schedule

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robertmeta/strip-cli/metrics"
	"github.com/robertmeta/strip-cli/model"
	"github.com/rs/zerolog"
)

// DefaultCheckInterval is how often the scheduler looks at the clock.
const DefaultCheckInterval = 10 * time.Minute

// State describes what the scheduler is doing.
type State int

const (
	Idle State = iota
	Armed
	AttemptingFetch
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case AttemptingFetch:
		return "attempting_fetch"
	default:
		return "idle"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithCheckInterval replaces DefaultCheckInterval.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.checkInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records attempt cycle results.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = c }
}

// Scheduler owns one handle for the periodic check and at most one attempt
// cycle. Start and Stop cancel both before anything new is installed.
type Scheduler struct {
	source        Source
	now           func() time.Time
	checkInterval time.Duration
	logger        zerolog.Logger
	metrics       *metrics.Collector

	mu       sync.Mutex
	settings model.FetchSettings
	check    *Handle
	cycle    *attemptCycle
}

// New creates an idle Scheduler for source.
func New(source Source, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:        source,
		now:           time.Now,
		checkInterval: DefaultCheckInterval,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("module", "Scheduler").Logger()
	return s
}

// Start replaces the current schedule with one derived from settings. With
// downloads disabled the scheduler ends up Idle. Settings out of bounds are
// rejected: the old schedule is still cancelled and the scheduler stays Idle.
func (s *Scheduler) Start(settings model.FetchSettings) error {
	err := settings.Validate()

	s.mu.Lock()
	check, cycle := s.detachLocked()
	s.settings = settings
	if err == nil && settings.Enabled {
		s.check = scheduleWithFixedDelay(0, s.checkInterval, s.checkTask)
	}
	s.mu.Unlock()

	check.Cancel()
	if cycle != nil {
		cycle.cancel()
	}

	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("Rejected download settings, scheduler idle")
		return fmt.Errorf("invalid download settings: %w", err)
	case !settings.Enabled:
		s.logger.Info().Msg("Unattended download disabled")
	default:
		s.logger.Info().
			Str("time", settings.TimeOfDay()).
			Int("max_attempts", settings.MaxAttempts).
			Int("interval_minutes", settings.RetryIntervalMinutes).
			Msg("Unattended download armed")
	}
	return nil
}

// Stop cancels the periodic check and any attempt cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	check, cycle := s.detachLocked()
	s.mu.Unlock()

	check.Cancel()
	if cycle != nil {
		cycle.cancel()
	}
	if check != nil {
		s.logger.Info().Msg("Scheduler stopped")
	}
}

// State reports what the scheduler is doing.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.cycle != nil:
		return AttemptingFetch
	case s.check != nil:
		return Armed
	default:
		return Idle
	}
}

// NextDownload returns when the next download is due under the current
// settings. ok is false when the scheduler is not armed.
func (s *Scheduler) NextDownload() (next time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.check == nil {
		return time.Time{}, false
	}
	return NextDownload(s.now(), s.settings.LocalTimeOfDayMinutes), true
}

func (s *Scheduler) detachLocked() (*Handle, *attemptCycle) {
	check, cycle := s.check, s.cycle
	s.check, s.cycle = nil, nil
	return check, cycle
}

// checkTask schedules an attempt cycle when the download time falls within
// the next check interval.
func (s *Scheduler) checkTask(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.check != h || h.Cancelled() {
		return
	}

	delay := DelayBeforeNextDownload(s.now(), s.settings.LocalTimeOfDayMinutes)
	s.logger.Debug().Dur("delay", delay).Msg("Checked download time")
	if delay >= s.checkInterval {
		return
	}

	previous := s.cycle
	if previous != nil {
		// Cancel without calling back into the scheduler while locked.
		s.cycle = nil
		go previous.cancel()
	}

	cycle := newAttemptCycle(newCycleID(s.now()), s.source, s.settings.MaxAttempts, s.logger, s.cycleEnded)
	s.cycle = cycle
	s.source.AddListener(cycle)
	cycle.attach(scheduleWithFixedDelay(delay, s.settings.RetryInterval(), cycle.run))

	s.logger.Info().Str("cycle_id", cycle.id).Dur("delay", delay).Msg("Attempt cycle scheduled")
}

func (s *Scheduler) cycleEnded(c *attemptCycle, result string) {
	s.metrics.ObserveCycle(result)
	s.logger.Info().Str("cycle_id", c.id).Str("result", result).Int("attempts", c.attempts()).Msg("Attempt cycle ended")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycle == c {
		s.cycle = nil
	}
}

func newCycleID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
