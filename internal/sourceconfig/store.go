// Package sourceconfig persists per-source scheduling settings and the
// authenticated-mode credentials on top of a flat key/value backend.
//
// Every field lives under its own key (for example "oece.frequency"), so
// concurrent writers touching different sources or different fields never
// contend on a shared lock, and a failed write leaves the other fields intact.
package sourceconfig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

// KV is the settings backend. Get reports ok=false for missing keys.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Defaults applied to sources that have never been configured.
const (
	DefaultFrequency     = scraper.FrequencyDaily
	DefaultRetentionDays = 30

	// MaskedPassword is what readers see in place of a stored password.
	MaskedPassword = "********"
)

const (
	fieldEnabled       = "enabled"
	fieldFrequency     = "frequency"
	fieldRetentionDays = "retention_days"
	fieldLastRun       = "last_run"
	fieldLastSuccess   = "last_success"
	fieldLastError     = "last_error"

	fieldLastAlertsFound       = "last_alerts_found"
	fieldLastAlertsDistributed = "last_alerts_distributed"
	fieldLastDurationMs        = "last_duration_ms"

	authPrefix        = "auth"
	fieldUsername     = "username"
	fieldPassword     = "password"
	fieldEntityFilter = "entity_filter"
	fieldTargetYear   = "target_year"
	timestampLayout   = time.RFC3339Nano
)

// Store reads and writes SourceConfig values.
type Store struct {
	kv     KV
	logger *zap.Logger
}

// NewStore wraps kv. A nil logger is replaced with a no-op logger.
func NewStore(kv KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, logger: logger}
}

func key(source string, parts ...string) string {
	return source + "." + strings.Join(parts, ".")
}

// Get returns the configuration for source, filling in defaults for missing
// keys. Malformed stored values are logged and treated as missing.
func (s *Store) Get(ctx context.Context, source string) (scraper.SourceConfig, error) {
	cfg := scraper.SourceConfig{
		Enabled:       false,
		Frequency:     DefaultFrequency,
		RetentionDays: DefaultRetentionDays,
	}
	var errs []error

	if raw, ok, err := s.kv.Get(ctx, key(source, fieldEnabled)); err != nil {
		errs = append(errs, fmt.Errorf("get %s: %w", key(source, fieldEnabled), err))
	} else if ok {
		cfg.Enabled = s.parseBool(source, fieldEnabled, raw)
	}
	if raw, ok, err := s.kv.Get(ctx, key(source, fieldFrequency)); err != nil {
		errs = append(errs, fmt.Errorf("get %s: %w", key(source, fieldFrequency), err))
	} else if ok && raw != "" {
		cfg.Frequency = scraper.Frequency(raw)
	}
	if raw, ok, err := s.kv.Get(ctx, key(source, fieldRetentionDays)); err != nil {
		errs = append(errs, fmt.Errorf("get %s: %w", key(source, fieldRetentionDays), err))
	} else if ok {
		if n, perr := strconv.Atoi(raw); perr == nil && n > 0 {
			cfg.RetentionDays = n
		} else {
			s.logger.Warn("ignoring malformed retention", zap.String("source", source), zap.String("value", raw))
		}
	}
	cfg.LastRun, errs = s.getTime(ctx, source, fieldLastRun, errs)
	cfg.LastSuccess, errs = s.getTime(ctx, source, fieldLastSuccess, errs)
	if raw, ok, err := s.kv.Get(ctx, key(source, fieldLastError)); err != nil {
		errs = append(errs, fmt.Errorf("get %s: %w", key(source, fieldLastError), err))
	} else if ok {
		cfg.LastError = raw
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, nil
}

func (s *Store) getTime(ctx context.Context, source, field string, errs []error) (*time.Time, []error) {
	raw, ok, err := s.kv.Get(ctx, key(source, field))
	if err != nil {
		return nil, append(errs, fmt.Errorf("get %s: %w", key(source, field), err))
	}
	if !ok || raw == "" {
		return nil, errs
	}
	ts, err := time.Parse(timestampLayout, raw)
	if err != nil {
		s.logger.Warn("ignoring malformed timestamp",
			zap.String("source", source), zap.String("field", field), zap.String("value", raw))
		return nil, errs
	}
	return &ts, errs
}

func (s *Store) parseBool(source, field, raw string) bool {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed flag",
			zap.String("source", source), zap.String("field", field), zap.String("value", raw))
		return false
	}
	return b
}

// Update writes only the fields present in patch. Each field is an
// independent write; failures are joined and returned after every write has
// been attempted.
func (s *Store) Update(ctx context.Context, source string, patch scraper.SourceConfigPatch) error {
	var errs []error
	set := func(field, value string) {
		if err := s.kv.Set(ctx, key(source, field), value); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", key(source, field), err))
		}
	}
	if patch.Enabled != nil {
		set(fieldEnabled, strconv.FormatBool(*patch.Enabled))
	}
	if patch.Frequency != nil {
		set(fieldFrequency, string(*patch.Frequency))
	}
	if patch.RetentionDays != nil {
		set(fieldRetentionDays, strconv.Itoa(*patch.RetentionDays))
	}
	if patch.LastRun != nil {
		set(fieldLastRun, patch.LastRun.UTC().Format(timestampLayout))
	}
	if patch.LastSuccess != nil {
		set(fieldLastSuccess, patch.LastSuccess.UTC().Format(timestampLayout))
	}
	if patch.LastError != nil {
		set(fieldLastError, *patch.LastError)
	}
	return errors.Join(errs...)
}

// RecordRun stores the outcome of a completed (non-skipped) run. lastRun and
// the run counters are always written; success additionally sets lastSuccess
// and clears lastError.
func (s *Store) RecordRun(ctx context.Context, source string, result scraper.SourceRunResult, now time.Time) error {
	patch := scraper.SourceConfigPatch{LastRun: &now}
	if result.Success {
		cleared := ""
		patch.LastSuccess = &now
		patch.LastError = &cleared
	} else {
		msg := result.Error
		if msg == "" {
			msg = "unknown error"
		}
		patch.LastError = &msg
	}
	var errs []error
	for field, value := range map[string]string{
		fieldLastAlertsFound:       strconv.Itoa(result.AlertsFound),
		fieldLastAlertsDistributed: strconv.Itoa(result.AlertsDistributed),
		fieldLastDurationMs:        strconv.FormatInt(result.DurationMs, 10),
	} {
		if err := s.kv.Set(ctx, key(source, field), value); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", key(source, field), err))
		}
	}
	if err := s.Update(ctx, source, patch); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats returns the counters of the last recorded run. ok is false when the
// source has never run.
func (s *Store) Stats(ctx context.Context, source string) (scraper.RunStats, bool, error) {
	var (
		stats scraper.RunStats
		found bool
		errs  []error
	)
	read := func(field string) int64 {
		raw, ok, err := s.kv.Get(ctx, key(source, field))
		if err != nil {
			errs = append(errs, fmt.Errorf("get %s: %w", key(source, field), err))
			return 0
		}
		if !ok {
			return 0
		}
		found = true
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Warn("ignoring malformed counter",
				zap.String("source", source), zap.String("field", field), zap.String("value", raw))
			return 0
		}
		return n
	}
	stats.AlertsFound = int(read(fieldLastAlertsFound))
	stats.AlertsDistributed = int(read(fieldLastAlertsDistributed))
	stats.DurationMs = read(fieldLastDurationMs)
	if len(errs) > 0 {
		return stats, found, errors.Join(errs...)
	}
	return stats, found, nil
}

// Seed writes cfg for source when the source has never been configured. It
// reports whether anything was written.
func (s *Store) Seed(ctx context.Context, source string, cfg scraper.SourceConfig) (bool, error) {
	_, ok, err := s.kv.Get(ctx, key(source, fieldEnabled))
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", source, err)
	}
	if ok {
		return false, nil
	}
	freq := cfg.Frequency
	if freq == "" {
		freq = DefaultFrequency
	}
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	enabled := cfg.Enabled
	if err := s.Update(ctx, source, scraper.SourceConfigPatch{
		Enabled:       &enabled,
		Frequency:     &freq,
		RetentionDays: &retention,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// ShouldRun decides whether an unforced run is due. Forced runs always
// proceed; disabled sources never run unforced; a source that has never run
// is always due.
func ShouldRun(cfg scraper.SourceConfig, force bool, now time.Time) bool {
	if force {
		return true
	}
	if !cfg.Enabled {
		return false
	}
	if cfg.LastRun == nil {
		return true
	}
	return now.Sub(*cfg.LastRun) >= cfg.Frequency.Threshold()
}
