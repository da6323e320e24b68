// Package model defines the core data structures for strip-cli.
package model

import (
	"time"
)

// Strip is a downloaded cartoon. Two strips are the same strip when their
// cache tokens are equal; bytes and URI do not take part in equality.
// A Strip is read-only once built.
type Strip struct {
	id          int64
	cacheToken  string
	sourceURI   string
	retrievedAt time.Time
	imageBytes  []byte
}

var missing = &Strip{imageBytes: []byte{}}

// MissingStrip returns the value standing for "no strip available", e.g.
// after a failed fetch.
func MissingStrip() *Strip {
	return missing
}

// NewStrip creates a strip holding a private copy of imageBytes.
func NewStrip(imageBytes []byte, cacheToken, sourceURI string, retrievedAt time.Time) *Strip {
	b := make([]byte, len(imageBytes))
	copy(b, imageBytes)
	return &Strip{
		cacheToken:  cacheToken,
		sourceURI:   sourceURI,
		retrievedAt: retrievedAt,
		imageBytes:  b,
	}
}

// WithID returns a copy of s carrying the archive id.
func (s *Strip) WithID(id int64) *Strip {
	c := *s
	c.id = id
	return &c
}

// ID is the archive row id, or 0 for a strip that was never archived.
func (s *Strip) ID() int64 {
	if s == nil {
		return 0
	}
	return s.id
}

// CacheToken is the normalised ETag the strip was served with.
func (s *Strip) CacheToken() string {
	return s.token()
}

// SourceURI is the image URL the bytes were downloaded from.
func (s *Strip) SourceURI() string {
	if s == nil {
		return ""
	}
	return s.sourceURI
}

// RetrievedAt is when the image was downloaded.
func (s *Strip) RetrievedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.retrievedAt
}

// Bytes returns a copy of the image data.
func (s *Strip) Bytes() []byte {
	b := make([]byte, len(s.imageBytes))
	copy(b, s.imageBytes)
	return b
}

// Size returns the length of the image data in bytes.
func (s *Strip) Size() int {
	return len(s.imageBytes)
}

// Equal reports whether both strips carry the same cache token.
// A nil strip is treated like MissingStrip.
func (s *Strip) Equal(other *Strip) bool {
	return s.token() == other.token()
}

// IsMissing reports whether s is indistinguishable from MissingStrip.
func (s *Strip) IsMissing() bool {
	return s.Equal(missing)
}

// ImageType sniffs the image data.
func (s *Strip) ImageType() ImageType {
	if s == nil {
		return ImageUnknown
	}
	return Sniff(s.imageBytes)
}

// Age returns how long ago the strip was retrieved.
func (s *Strip) Age() time.Duration {
	return time.Since(s.RetrievedAt())
}

func (s *Strip) token() string {
	if s == nil {
		return ""
	}
	return s.cacheToken
}

// Outcome names the result of one fetch attempt as recorded in the history.
type Outcome string

const (
	OutcomeNewStrip    Outcome = "new_strip"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
)

// FetchAttempt is one recorded fetch attempt.
type FetchAttempt struct {
	ID          int64     `json:"id"`
	CycleID     string    `json:"cycle_id,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
	Outcome     Outcome   `json:"outcome"`
	Message     string    `json:"message,omitempty"`
	CacheToken  string    `json:"cache_token,omitempty"`
}

// Succeeded returns true if the attempt produced a new strip.
func (a *FetchAttempt) Succeeded() bool {
	return a.Outcome == OutcomeNewStrip
}
