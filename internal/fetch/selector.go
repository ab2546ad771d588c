package fetch

import (
	"net/url"
	"strings"
)

// Selector decides which client mode serves a URL.
type Selector struct {
	legacy map[string]struct{}
}

// NewSelector builds a selector for the given legacy domains. Entries may be
// bare hosts or URLs; matching is case-insensitive.
func NewSelector(legacyHosts []string) *Selector {
	s := &Selector{legacy: make(map[string]struct{}, len(legacyHosts))}
	for _, h := range legacyHosts {
		if host := normalizeHost(h); host != "" {
			s.legacy[host] = struct{}{}
		}
	}
	return s
}

// IsLegacy reports whether rawURL's host equals a legacy domain or is a
// subdomain of one.
func (s *Selector) IsLegacy(rawURL string) bool {
	if s == nil || len(s.legacy) == 0 {
		return false
	}
	host := normalizeHost(rawURL)
	for host != "" {
		if _, ok := s.legacy[host]; ok {
			return true
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
	}
	return false
}

// Mode returns ModeLegacy or ModeStandard for rawURL.
func (s *Selector) Mode(rawURL string) string {
	if s.IsLegacy(rawURL) {
		return ModeLegacy
	}
	return ModeStandard
}

func normalizeHost(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Hostname(), ".")
}
