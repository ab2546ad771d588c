package fetch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/scraper"
)

// Fetcher combines the two client strategies behind a selector.
type Fetcher struct {
	standard Client
	legacy   Client
	selector *Selector
	limiter  *HostLimiter
	logger   *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithLimiter enables per-host politeness.
func WithLimiter(l *HostLimiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFetcher wires both clients to a selector.
func NewFetcher(standard, legacy Client, selector *Selector, opts ...Option) *Fetcher {
	f := &Fetcher{
		standard: standard,
		legacy:   legacy,
		selector: selector,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the body of rawURL. Legacy hosts go straight to the legacy
// client; other hosts try the standard client and fall back to the legacy
// client on any failure. When every attempted client fails the error is a
// *scraper.TransportError wrapping each client's error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return nil, err
	}

	if f.selector.IsLegacy(rawURL) {
		body, err := f.attempt(ctx, f.legacy, rawURL)
		if err != nil {
			return nil, &scraper.TransportError{URL: rawURL, Err: err}
		}
		return body, nil
	}

	body, stdErr := f.attempt(ctx, f.standard, rawURL)
	if stdErr == nil {
		return body, nil
	}
	if ctx.Err() != nil {
		return nil, &scraper.TransportError{URL: rawURL, Err: stdErr}
	}

	f.logger.Debug("standard fetch failed, retrying with legacy client",
		zap.String("url", rawURL), zap.Error(stdErr))
	metrics.ObserveFallback(rawURL)
	body, legacyErr := f.attempt(ctx, f.legacy, rawURL)
	if legacyErr != nil {
		return nil, &scraper.TransportError{
			URL: rawURL,
			Err: fmt.Errorf("standard: %w; legacy: %w", stdErr, legacyErr),
		}
	}
	return body, nil
}

func (f *Fetcher) attempt(ctx context.Context, client Client, rawURL string) ([]byte, error) {
	body, err := client.Fetch(ctx, rawURL)
	if err != nil {
		metrics.ObserveFetch(rawURL, client.Mode(), "error", 0)
		return nil, fmt.Errorf("%s client: %w", client.Mode(), err)
	}
	metrics.ObserveFetch(rawURL, client.Mode(), "ok", len(body))
	return body, nil
}
