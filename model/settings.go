package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	MinutesPerDay = 24 * 60

	MinMaxFetchAttempts     = 1
	MaxMaxFetchAttempts     = 10
	DefaultMaxFetchAttempts = 5

	MinFetchIntervalMinutes     = 1
	MaxFetchIntervalMinutes     = 60
	DefaultFetchIntervalMinutes = 10

	// PublisherTimeZone is where the strip site rolls over to a new strip.
	PublisherTimeZone = "America/Los_Angeles"
)

var validate = validator.New()

// FetchSettings controls unattended downloads.
type FetchSettings struct {
	Enabled               bool `json:"fetch_strip_automatically" yaml:"fetch_strip_automatically"`
	LocalTimeOfDayMinutes int  `json:"local_download_time_minutes" yaml:"local_download_time_minutes" validate:"min=0,max=1439"`
	MaxAttempts           int  `json:"max_fetch_attempts" yaml:"max_fetch_attempts" validate:"min=1,max=10"`
	RetryIntervalMinutes  int  `json:"fetch_interval_minutes" yaml:"fetch_interval_minutes" validate:"min=1,max=60"`
}

// NewFetchSettings returns validated settings.
func NewFetchSettings(enabled bool, localTimeOfDayMinutes, maxAttempts, retryIntervalMinutes int) (FetchSettings, error) {
	s := FetchSettings{
		Enabled:               enabled,
		LocalTimeOfDayMinutes: localTimeOfDayMinutes,
		MaxAttempts:           maxAttempts,
		RetryIntervalMinutes:  retryIntervalMinutes,
	}
	if err := s.Validate(); err != nil {
		return FetchSettings{}, err
	}
	return s, nil
}

// DefaultFetchSettings returns disabled settings with default timings.
func DefaultFetchSettings() FetchSettings {
	return FetchSettings{
		LocalTimeOfDayMinutes: DefaultLocalDownloadTime(time.Now()),
		MaxAttempts:           DefaultMaxFetchAttempts,
		RetryIntervalMinutes:  DefaultFetchIntervalMinutes,
	}
}

// Validate checks that every field is within its bounds.
func (s FetchSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid fetch settings: %s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("invalid fetch settings: %w", err)
	}
	return nil
}

// RetryInterval returns the spacing between attempts.
func (s FetchSettings) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalMinutes) * time.Minute
}

// TimeOfDay formats the download time as HH:MM.
func (s FetchSettings) TimeOfDay() string {
	return fmt.Sprintf("%02d:%02d", s.LocalTimeOfDayMinutes/60, s.LocalTimeOfDayMinutes%60)
}

// ParseTimeOfDay parses "HH:MM" into minutes past midnight.
func ParseTimeOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (expected HH:MM): %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DefaultLocalDownloadTime returns the local minute of day at which it is
// midnight in PublisherTimeZone at instant now.
func DefaultLocalDownloadTime(now time.Time) int {
	loc, err := time.LoadLocation(PublisherTimeZone)
	if err != nil {
		// No zone database: assume standard time.
		loc = time.FixedZone("PST", -8*60*60)
	}
	_, localOffset := now.Zone()
	_, publisherOffset := now.In(loc).Zone()

	difference := localOffset - publisherOffset
	if difference < 0 {
		difference += MinutesPerDay * 60
	}
	return (difference / 60) % MinutesPerDay
}

// Settings is the persisted application state.
type Settings struct {
	DisclaimerAcknowledged bool          `json:"disclaimer_acknowledged" yaml:"disclaimer_acknowledged"`
	Fetch                  FetchSettings `json:"unattended_download" yaml:",inline"`
}

// DefaultSettings returns settings for a fresh installation.
func DefaultSettings() Settings {
	return Settings{Fetch: DefaultFetchSettings()}
}

// Validate checks the embedded fetch settings.
func (s Settings) Validate() error {
	return s.Fetch.Validate()
}

// Effective returns the fetch settings the scheduler should run with:
// unattended downloads stay off until the disclaimer is acknowledged.
func (s Settings) Effective() FetchSettings {
	f := s.Fetch
	if !s.DisclaimerAcknowledged {
		f.Enabled = false
	}
	return f
}
