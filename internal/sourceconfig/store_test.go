package sourceconfig

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

func TestGetDefaultsForUnknownSource(t *testing.T) {
	t.Parallel()

	store := NewStore(NewMemoryKV(), nil)
	cfg, err := store.Get(context.Background(), scraper.SourceOECE)
	require.NoError(t, err)
	require.False(t, cfg.Enabled)
	require.Equal(t, scraper.FrequencyDaily, cfg.Frequency)
	require.Equal(t, 30, cfg.RetentionDays)
	require.Nil(t, cfg.LastRun)
	require.Nil(t, cfg.LastSuccess)
	require.Empty(t, cfg.LastError)
}

func TestUpdateMergesProvidedFieldsOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryKV(), nil)
	enabled := true
	weekly := scraper.FrequencyWeekly
	require.NoError(t, store.Update(ctx, scraper.SourceElPeruano, scraper.SourceConfigPatch{
		Enabled:   &enabled,
		Frequency: &weekly,
	}))

	retention := 7
	require.NoError(t, store.Update(ctx, scraper.SourceElPeruano, scraper.SourceConfigPatch{
		RetentionDays: &retention,
	}))

	cfg, err := store.Get(ctx, scraper.SourceElPeruano)
	require.NoError(t, err)
	require.True(t, cfg.Enabled)
	require.Equal(t, scraper.FrequencyWeekly, cfg.Frequency)
	require.Equal(t, 7, cfg.RetentionDays)

	other, err := store.Get(ctx, scraper.SourceOECE)
	require.NoError(t, err)
	require.False(t, other.Enabled, "sources must not share keys")
}

func TestUpdatePartialFailureKeepsOtherFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := &flakyKV{MemoryKV: NewMemoryKV(), failKey: "oece.frequency"}
	store := NewStore(kv, nil)

	enabled := true
	hourly := scraper.FrequencyHourly
	retention := 90
	err := store.Update(ctx, scraper.SourceOECE, scraper.SourceConfigPatch{
		Enabled:       &enabled,
		Frequency:     &hourly,
		RetentionDays: &retention,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "oece.frequency")

	cfg, err := store.Get(ctx, scraper.SourceOECE)
	require.NoError(t, err)
	require.True(t, cfg.Enabled)
	require.Equal(t, 90, cfg.RetentionDays)
	require.Equal(t, scraper.FrequencyDaily, cfg.Frequency)
}

func TestRecordRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryKV(), nil)
	first := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	_, ok, err := store.Stats(ctx, scraper.SourceSEACE)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.RecordRun(ctx, scraper.SourceSEACE, scraper.SourceRunResult{
		Success: true, AlertsFound: 7, AlertsDistributed: 3, DurationMs: 1500,
	}, first))
	stats, ok, err := store.Stats(ctx, scraper.SourceSEACE)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, scraper.RunStats{AlertsFound: 7, AlertsDistributed: 3, DurationMs: 1500}, stats)

	cfg, err := store.Get(ctx, scraper.SourceSEACE)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastRun)
	require.True(t, cfg.LastRun.Equal(first))
	require.NotNil(t, cfg.LastSuccess)
	require.Empty(t, cfg.LastError)

	second := first.Add(2 * time.Hour)
	require.NoError(t, store.RecordRun(ctx, scraper.SourceSEACE, scraper.SourceRunResult{
		Success: false,
		Error:   "automation failed at login: invalid credentials",
	}, second))
	cfg, err = store.Get(ctx, scraper.SourceSEACE)
	require.NoError(t, err)
	require.True(t, cfg.LastRun.Equal(second))
	require.True(t, cfg.LastSuccess.Equal(first), "last success must survive a failure")
	require.Contains(t, cfg.LastError, "invalid credentials")

	stats, _, err = store.Stats(ctx, scraper.SourceSEACE)
	require.NoError(t, err)
	require.Zero(t, stats.AlertsFound, "counters follow the latest run")
}

func TestSeedOnlyWritesUnconfiguredSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryKV(), nil)
	wrote, err := store.Seed(ctx, scraper.SourceOECE, scraper.SourceConfig{Enabled: true, Frequency: scraper.FrequencyHourly})
	require.NoError(t, err)
	require.True(t, wrote)

	disabled := false
	require.NoError(t, store.Update(ctx, scraper.SourceOECE, scraper.SourceConfigPatch{Enabled: &disabled}))

	wrote, err = store.Seed(ctx, scraper.SourceOECE, scraper.SourceConfig{Enabled: true})
	require.NoError(t, err)
	require.False(t, wrote)

	cfg, err := store.Get(ctx, scraper.SourceOECE)
	require.NoError(t, err)
	require.False(t, cfg.Enabled)
	require.Equal(t, scraper.FrequencyHourly, cfg.Frequency)
	require.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
}

func TestGetIgnoresMalformedValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "oece.enabled", "maybe"))
	require.NoError(t, kv.Set(ctx, "oece.retention_days", "-3"))
	require.NoError(t, kv.Set(ctx, "oece.last_run", "yesterday"))

	cfg, err := NewStore(kv, nil).Get(ctx, scraper.SourceOECE)
	require.NoError(t, err)
	require.False(t, cfg.Enabled)
	require.Equal(t, DefaultRetentionDays, cfg.RetentionDays)
	require.Nil(t, cfg.LastRun)
}

func TestShouldRunProperty(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	thresholds := map[scraper.Frequency]int{
		scraper.FrequencyHourly: 1,
		scraper.FrequencyDaily:  24,
		scraper.FrequencyWeekly: 168,
		"fortnightly":           24,
	}
	for freq, hours := range thresholds {
		for elapsed := 0; elapsed <= 200; elapsed++ {
			last := now.Add(-time.Duration(elapsed) * time.Hour)
			enabled := scraper.SourceConfig{Enabled: true, Frequency: freq, LastRun: &last}
			require.Equal(t, elapsed >= hours, ShouldRun(enabled, false, now), "freq=%s elapsed=%d", freq, elapsed)

			disabled := enabled
			disabled.Enabled = false
			require.False(t, ShouldRun(disabled, false, now))
			require.True(t, ShouldRun(disabled, true, now))
		}
	}

	never := scraper.SourceConfig{Enabled: true, Frequency: scraper.FrequencyWeekly}
	require.True(t, ShouldRun(never, false, now))
}

func TestShouldRunScenarios(t *testing.T) {
	t.Parallel()

	now := time.Now()
	twentyFiveHoursAgo := now.Add(-25 * time.Hour)
	tenHoursAgo := now.Add(-10 * time.Hour)

	due := scraper.SourceConfig{Enabled: true, Frequency: scraper.FrequencyDaily, LastRun: &twentyFiveHoursAgo}
	require.True(t, ShouldRun(due, false, now))

	recent := scraper.SourceConfig{Enabled: true, Frequency: scraper.FrequencyDaily, LastRun: &tenHoursAgo}
	require.False(t, ShouldRun(recent, false, now))
}

func TestMemoryKVConcurrentWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(NewMemoryKV(), nil)
	var wg sync.WaitGroup
	for _, source := range scraper.AllSources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				days := i
				_ = store.Update(ctx, source, scraper.SourceConfigPatch{RetentionDays: &days})
			}
		}()
	}
	wg.Wait()
	for _, source := range scraper.AllSources {
		cfg, err := store.Get(ctx, source)
		require.NoError(t, err)
		require.Equal(t, 50, cfg.RetentionDays)
	}
}

type flakyKV struct {
	*MemoryKV
	failKey string
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if strings.EqualFold(key, f.failKey) {
		return errors.New("backend unavailable")
	}
	return f.MemoryKV.Set(ctx, key, value)
}
