package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// ClientConfig controls collector behavior shared by both modes.
type ClientConfig struct {
	UserAgent    string
	Timeout      time.Duration
	// MaxRedirects of 0 uses the default; a negative value disables redirects.
	MaxRedirects int
}

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 5
)

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	switch {
	case c.MaxRedirects == 0:
		c.MaxRedirects = defaultMaxRedirects
	case c.MaxRedirects < 0:
		c.MaxRedirects = 0
	}
	return c
}

// CollyClient implements Client on top of a gocolly collector.
type CollyClient struct {
	mode          string
	cfg           ClientConfig
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewStandardClient builds a client with stock TLS verification.
func NewStandardClient(cfg ClientConfig) *CollyClient {
	return newCollyClient(ModeStandard, cfg, newHTTPTransport(nil))
}

// NewLegacyClient builds a client pinned to TLS 1.2 with a restricted RSA
// cipher list and certificate verification disabled.
func NewLegacyClient(cfg ClientConfig) *CollyClient {
	return newCollyClient(ModeLegacy, cfg, newHTTPTransport(LegacyTLSConfig()))
}

// LegacyTLSConfig is the permissive TLS profile used by the legacy client.
func LegacyTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // legacy portals serve incomplete or expired chains
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
			tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_RSA_WITH_AES_128_CBC_SHA,
			tls.TLS_RSA_WITH_AES_256_CBC_SHA,
		},
	}
}

func newCollyClient(mode string, cfg ClientConfig, transport http.RoundTripper) *CollyClient {
	cfg = cfg.withDefaults()
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(transport)
	return &CollyClient{mode: mode, cfg: cfg, baseCollector: c}
}

// Mode implements Client.
func (c *CollyClient) Mode() string {
	return c.mode
}

// Fetch executes a single GET and returns the body. Responses with status
// >= 400 produce a *StatusError.
func (c *CollyClient) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := c.buildCollector()
	c.configureHooks(collector, rawURL, &body, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s fetch canceled: %w", c.mode, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, fmt.Errorf("%s visit failed: %w", c.mode, err)
		}
		return body, nil
	}
}

func (c *CollyClient) buildCollector() *colly.Collector {
	collector := c.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	limit := c.cfg.MaxRedirects
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) > limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	})
	return collector
}

func (c *CollyClient) configureHooks(hooks collectorHooks, rawURL string, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= http.StatusBadRequest {
			*fetchErr = &StatusError{URL: rawURL, Code: r.StatusCode}
			return
		}
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = &StatusError{URL: rawURL, Code: r.StatusCode}
			return
		}
		if err == nil {
			err = errors.New("unknown collector error")
		}
		*fetchErr = fmt.Errorf("%s request failed: %w", c.mode, err)
	})
}

func newHTTPTransport(tlsConfig *tls.Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
