package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchTotal == nil || sourceRunsTotal == nil || httpRequestsTotal == nil || activeRuns == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveFetch("https://Portal.gob.pe/normas", "legacy", "ok", 2048)
	ObserveFallback("https://portal.gob.pe/normas")
	ObserveSourceRun("oece", "skipped", time.Second)
	ObserveSourceRun("oece", "success", 2*time.Second)
	ObserveAlerts("oece", "found", 3)
	ObserveAlerts("oece", "found", 0)
	ObservePurge("oece", 4)
	ObserveAutomationFailure("login")

	if val := testutil.ToFloat64(fetchTotal.WithLabelValues("portal.gob.pe", "legacy", "ok")); val != 1 {
		t.Errorf("expected one legacy fetch, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("portal.gob.pe")); val != 2048 {
		t.Errorf("expected 2048 bytes, got %f", val)
	}
	if val := testutil.ToFloat64(sourceRunsTotal.WithLabelValues("oece", "skipped")); val != 1 {
		t.Errorf("expected one skipped run, got %f", val)
	}
	if val := testutil.ToFloat64(alertsTotal.WithLabelValues("oece", "found")); val != 3 {
		t.Errorf("expected 3 alerts found, got %f", val)
	}
	if val := testutil.ToFloat64(purgedAlertsTotal.WithLabelValues("oece")); val != 4 {
		t.Errorf("expected 4 purged alerts, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
