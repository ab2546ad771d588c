package scraper

import (
	"errors"
	"fmt"
)

// ErrExtractionMismatch marks a row or table that failed heuristic validation.
// It is used for skip decisions and is never surfaced as a run failure.
var ErrExtractionMismatch = errors.New("extraction mismatch")

// ConfigurationError reports settings that make a source impossible to run.
type ConfigurationError struct {
	Source string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Source, e.Reason)
}

// TransportError wraps network and TLS failures after every client strategy
// has been attempted.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AutomationError is raised by the browser driver when a step cannot complete.
type AutomationError struct {
	Step   string
	Reason string
	Err    error
}

func (e *AutomationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("automation failed at %s: %s: %v", e.Step, e.Reason, e.Err)
	}
	return fmt.Sprintf("automation failed at %s: %s", e.Step, e.Reason)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// PurgeError reports a retention deletion failure for one source.
type PurgeError struct {
	Source string
	Err    error
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("purge %s: %v", e.Source, e.Err)
}

func (e *PurgeError) Unwrap() error {
	return e.Err
}
