// Package browser drives a real Chromium instance for sources that require a
// session. Callers work against the Page interface so flows can be tested
// with scripted fakes.
package browser

import (
	"context"
	"time"
)

// Page is a single browser tab. Selectors are CSS queries.
type Page interface {
	// Navigate loads url and waits for the body to be ready.
	Navigate(ctx context.Context, url string) error
	// URL returns the current document's location.
	URL(ctx context.Context) (string, error)
	// HTML returns the current document's outer HTML.
	HTML(ctx context.Context) (string, error)
	// Exists reports whether sel matches at least one element.
	Exists(ctx context.Context, sel string) (bool, error)
	// Click clicks the first element matching sel.
	Click(ctx context.Context, sel string) error
	// ClickText clicks the first element matching sel whose text contains
	// text, compared case-insensitively. It reports whether one was found.
	ClickText(ctx context.Context, sel, text string) (bool, error)
	// SetValue fills the first element matching sel.
	SetValue(ctx context.Context, sel, value string) error
	// SelectValue picks an option and dispatches input and change events.
	SelectValue(ctx context.Context, sel, value string) error
	// IsChecked reports the checked state of the first element matching sel.
	IsChecked(ctx context.Context, sel string) (bool, error)
	// WaitVisible blocks until sel is visible or timeout elapses.
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	// Back navigates one step back in history.
	Back(ctx context.Context) error
	// Close releases the browser. It is safe to call more than once.
	Close() error
}

// Launcher starts one browser and returns its page.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}
