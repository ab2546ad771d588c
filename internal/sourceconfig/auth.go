package sourceconfig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

// IsMaskedPassword reports whether p is a placeholder that must never replace
// a stored password: empty, or made only of asterisks.
func IsMaskedPassword(p string) bool {
	if p == "" {
		return true
	}
	return strings.Trim(p, "*") == ""
}

// MaskAuth returns a copy of a that is safe to hand to API clients.
func MaskAuth(a scraper.AuthSettings) scraper.AuthSettings {
	if a.Password != "" {
		a.Password = MaskedPassword
	}
	return a
}

// GetAuth returns the authenticated-mode settings of source with the real
// password. Callers exposing it externally should pass it through MaskAuth.
func (s *Store) GetAuth(ctx context.Context, source string) (scraper.AuthSettings, error) {
	var (
		out  scraper.AuthSettings
		errs []error
	)
	get := func(field string) string {
		raw, ok, err := s.kv.Get(ctx, key(source, authPrefix, field))
		if err != nil {
			errs = append(errs, fmt.Errorf("get %s: %w", key(source, authPrefix, field), err))
			return ""
		}
		if !ok {
			return ""
		}
		return raw
	}
	if raw := get(fieldEnabled); raw != "" {
		out.Enabled = s.parseBool(source, "auth.enabled", raw)
	}
	out.Username = get(fieldUsername)
	out.Password = get(fieldPassword)
	out.EntityFilter = get(fieldEntityFilter)
	if raw := get(fieldTargetYear); raw != "" {
		if y, err := strconv.Atoi(raw); err == nil {
			out.TargetYear = y
		}
	}
	return out, errors.Join(errs...)
}

// UpdateAuth applies patch. A password that is empty or masked is ignored so
// round-tripping a masked form never erases the stored credential.
func (s *Store) UpdateAuth(ctx context.Context, source string, patch scraper.AuthSettingsPatch) error {
	var errs []error
	set := func(field, value string) {
		if err := s.kv.Set(ctx, key(source, authPrefix, field), value); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", key(source, authPrefix, field), err))
		}
	}
	if patch.Enabled != nil {
		set(fieldEnabled, strconv.FormatBool(*patch.Enabled))
	}
	if patch.Username != nil {
		set(fieldUsername, strings.TrimSpace(*patch.Username))
	}
	if patch.Password != nil && !IsMaskedPassword(*patch.Password) {
		set(fieldPassword, *patch.Password)
	}
	if patch.EntityFilter != nil {
		set(fieldEntityFilter, strings.TrimSpace(*patch.EntityFilter))
	}
	if patch.TargetYear != nil {
		set(fieldTargetYear, strconv.Itoa(*patch.TargetYear))
	}
	return errors.Join(errs...)
}
