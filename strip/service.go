// Package strip holds the current strip, runs fetches on behalf of the
// scheduler and the CLI, and notifies listeners of the results.
package strip

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robertmeta/strip-cli/fetch"
	"github.com/robertmeta/strip-cli/metrics"
	"github.com/robertmeta/strip-cli/model"
	"github.com/robertmeta/strip-cli/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrDisclaimerNotAcknowledged is returned by Fetch until the user has
// acknowledged the download disclaimer.
var ErrDisclaimerNotAcknowledged = errors.New("disclaimer has not been acknowledged")

// Fetcher runs the download protocol.
type Fetcher interface {
	FetchStrip(ctx context.Context, previousToken string) (fetch.Outcome, error)
}

// Archive persists strips and the fetch history. *store.Store implements it.
type Archive interface {
	SaveStrip(strip *model.Strip) (int64, error)
	LatestStrip() (*model.Strip, error)
	RecordAttempt(a *model.FetchAttempt) error
}

// Options configures a Service.
type Options struct {
	Fetcher                Fetcher
	Archive                Archive
	Metrics                *metrics.Collector
	Logger                 zerolog.Logger
	Now                    func() time.Time
	DisclaimerAcknowledged bool
}

// Service owns the current strip.
type Service struct {
	fetcher Fetcher
	archive Archive
	metrics *metrics.Collector
	logger  zerolog.Logger
	now     func() time.Time

	acknowledged atomic.Bool
	group        singleflight.Group
	wg           sync.WaitGroup

	mu        sync.Mutex
	current   *model.Strip
	listeners []Listener
}

type cycleIDKey struct{}

// WithCycleID tags fetches started with ctx as part of an attempt cycle.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey{}, id)
}

// CycleID returns the attempt cycle id carried by ctx, if any.
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleIDKey{}).(string)
	return id
}

// NewService creates a Service. When an archive is configured the newest
// archived strip becomes the current strip.
func NewService(opts Options) (*Service, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("strip service requires a fetcher")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		fetcher: opts.Fetcher,
		archive: opts.Archive,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("module", "StripService").Logger(),
		now:     opts.Now,
	}
	s.acknowledged.Store(opts.DisclaimerAcknowledged)

	if s.archive != nil {
		latest, err := s.archive.LatestStrip()
		switch {
		case err == nil:
			s.current = latest
			s.logger.Debug().Str("etag", latest.CacheToken()).Time("retrieved_at", latest.RetrievedAt()).Msg("Loaded archived strip")
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, err
		}
	}
	return s, nil
}

// SetDisclaimerAcknowledged enables or disables fetching.
func (s *Service) SetDisclaimerAcknowledged(ack bool) {
	s.acknowledged.Store(ack)
}

// CachedStrip returns the current strip, or nil if none has been retrieved.
func (s *Service) CachedStrip() *model.Strip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CachedToken returns the cache token of the current strip, or "".
func (s *Service) CachedToken() string {
	if current := s.CachedStrip(); current != nil {
		return current.CacheToken()
	}
	return ""
}

// FetchNow starts a fetch in the background. Listeners are notified when it
// completes with a new strip or fails. Cancelling ctx does not abort a fetch
// that has started; only its values are used.
func (s *Service) FetchNow(ctx context.Context, previousToken string) {
	cycleID := CycleID(ctx)
	if !s.acknowledged.Load() {
		s.logger.Warn().Msg("Disclaimer not acknowledged, not fetching strip")
		s.record(cycleID, model.OutcomeSkipped, ErrDisclaimerNotAcknowledged.Error(), previousToken)
		return
	}

	detached := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.run(detached, previousToken)
	}()
}

// Fetch runs a fetch synchronously and returns its outcome. Listeners are
// notified as for FetchNow.
func (s *Service) Fetch(ctx context.Context, previousToken string) (fetch.Outcome, error) {
	if !s.acknowledged.Load() {
		return fetch.Outcome{}, ErrDisclaimerNotAcknowledged
	}
	return s.run(ctx, previousToken)
}

// Wait blocks until background fetches have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

type result struct {
	outcome fetch.Outcome
}

// run collapses concurrent fetches for the same token into one protocol run.
func (s *Service) run(ctx context.Context, previousToken string) (fetch.Outcome, error) {
	v, err, shared := s.group.Do(previousToken, func() (interface{}, error) {
		outcome, err := s.fetchAndPublish(ctx, previousToken)
		return result{outcome: outcome}, err
	})
	if shared {
		s.logger.Debug().Str("previous_etag", previousToken).Msg("Joined in-flight fetch")
	}
	return v.(result).outcome, err
}

func (s *Service) fetchAndPublish(ctx context.Context, previousToken string) (fetch.Outcome, error) {
	cycleID := CycleID(ctx)
	logger := s.logger.With().Str("cycle_id", cycleID).Logger()

	outcome, err := s.fetcher.FetchStrip(ctx, previousToken)
	at := s.now()

	if err != nil {
		logger.Warn().Err(err).Msg("Strip fetch failed")
		s.record(cycleID, model.OutcomeFailed, err.Error(), previousToken)
		s.metrics.ObserveFetch(model.OutcomeFailed, nil, at)
		s.broadcast(Event{Strip: model.MissingStrip(), Outcome: model.OutcomeFailed, CycleID: cycleID, Err: err, At: at})
		return fetch.Outcome{Kind: model.OutcomeFailed}, err
	}

	s.metrics.ObserveFetch(outcome.Kind, outcome.Strip, at)

	if outcome.Kind != model.OutcomeNewStrip || outcome.Strip == nil {
		logger.Info().Str("etag", previousToken).Msg("No new strip available")
		s.record(cycleID, model.OutcomeNotModified, "", previousToken)
		return outcome, nil
	}

	// Archive first so the published strip already carries its id.
	strip := outcome.Strip
	if s.archive != nil {
		id, err := s.archive.SaveStrip(strip)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to archive strip")
		} else {
			strip = strip.WithID(id)
			outcome.Strip = strip
		}
	}

	s.mu.Lock()
	s.current = strip
	s.mu.Unlock()

	s.record(cycleID, model.OutcomeNewStrip, "", strip.CacheToken())
	logger.Info().Str("etag", strip.CacheToken()).Int("bytes", strip.Size()).Msg("New strip available")

	s.broadcast(Event{Strip: strip, Outcome: model.OutcomeNewStrip, CycleID: cycleID, At: at})
	return outcome, nil
}

func (s *Service) record(cycleID string, outcome model.Outcome, message, token string) {
	if s.archive == nil {
		return
	}
	attempt := &model.FetchAttempt{
		CycleID:     cycleID,
		AttemptedAt: s.now(),
		Outcome:     outcome,
		Message:     message,
		CacheToken:  token,
	}
	if err := s.archive.RecordAttempt(attempt); err != nil {
		s.logger.Error().Err(err).Msg("Failed to record fetch attempt")
	}
}
