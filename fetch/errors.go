package fetch

import (
	"errors"
	"fmt"
)

// Failure kinds. A *FetchError always wraps exactly one of these.
var (
	ErrNetwork               = errors.New("network error")
	ErrUnexpectedStatus      = errors.New("unexpected HTTP status")
	ErrNoImageURLFound       = errors.New("no image URL found")
	ErrUnrecognizedImageData = errors.New("unrecognized image data")
)

// FetchError describes a failed fetch attempt.
type FetchError struct {
	Kind       error
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind, e.URL)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: got HTTP status code %d when fetching %s", e.Kind, e.StatusCode, e.URL)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func networkError(url string, err error) *FetchError {
	return &FetchError{Kind: ErrNetwork, URL: url, Err: err}
}

func statusError(url string, code int) *FetchError {
	return &FetchError{Kind: ErrUnexpectedStatus, URL: url, StatusCode: code}
}

func imageDataError(url, reason string) *FetchError {
	return &FetchError{Kind: ErrUnrecognizedImageData, URL: url, Reason: reason}
}
