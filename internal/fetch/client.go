// Package fetch implements dual-mode HTTP retrieval for government portals:
// a standard client with stock TLS and a legacy client that tolerates the
// outdated TLS setups some portals still run. A Selector routes known legacy
// hosts straight to the legacy client; everything else tries the standard
// client first and falls back to the legacy one on any failure.
package fetch

import (
	"context"
	"fmt"
	"net/http"
)

// Client retrieves a URL body.
type Client interface {
	// Mode names the client for logs and metrics.
	Mode() string
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Client modes.
const (
	ModeStandard = "standard"
	ModeLegacy   = "legacy"
)

// StatusError reports an HTTP response with status >= 400. It is never
// retried inside this package.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Retriable reports whether the caller may retry later (5xx).
func (e *StatusError) Retriable() bool {
	return e.Code >= http.StatusInternalServerError
}
