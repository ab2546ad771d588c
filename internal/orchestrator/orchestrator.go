// Package orchestrator runs source jobs concurrently inside one log session,
// persists what they extract and applies the retention purge.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/sessionlog"
	"github.com/JakeFAU/govwatch/internal/sourceconfig"
	"github.com/JakeFAU/govwatch/internal/storage"
)

// SessionSource labels orchestration-level entries in the session log.
const SessionSource = "orchestrator"

// Source extracts alerts, and optionally tenders, from one portal.
type Source interface {
	Name() string
	Extract(ctx context.Context, log *sessionlog.Logger) (scraper.Output, error)
}

// ConfigStore is the slice of sourceconfig.Store the orchestrator needs.
type ConfigStore interface {
	Get(ctx context.Context, source string) (scraper.SourceConfig, error)
	RecordRun(ctx context.Context, source string, result scraper.SourceRunResult, now time.Time) error
}

// Options wires the orchestrator. Publisher and Tenders are optional.
type Options struct {
	Sources   []Source
	Config    ConfigStore
	Bus       *sessionlog.Bus
	Tenders   scraper.TenderRepository
	Alerts    scraper.AlertStore
	Publisher scraper.Publisher
	Topic     string
	Clock     scraper.Clock
	Logger    *zap.Logger
}

// Orchestrator coordinates source jobs. It is safe for concurrent runs.
type Orchestrator struct {
	sources   map[string]Source
	order     []string
	config    ConfigStore
	bus       *sessionlog.Bus
	tenders   scraper.TenderRepository
	alerts    scraper.AlertStore
	publisher scraper.Publisher
	topic     string
	clock     scraper.Clock
	logger    *zap.Logger
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New validates opts and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("config store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("session log bus is required")
	}
	if opts.Alerts == nil {
		return nil, errors.New("alert store is required")
	}
	o := &Orchestrator{
		sources:   make(map[string]Source, len(opts.Sources)),
		config:    opts.Config,
		bus:       opts.Bus,
		tenders:   opts.Tenders,
		alerts:    opts.Alerts,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if o.clock == nil {
		o.clock = utcClock{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.topic == "" {
		o.topic = "govwatch-alerts"
	}
	for _, src := range opts.Sources {
		name := src.Name()
		if _, dup := o.sources[name]; dup {
			return nil, fmt.Errorf("duplicate source %q", name)
		}
		o.sources[name] = src
		o.order = append(o.order, name)
	}
	return o, nil
}

// Names lists the registered sources in launch order.
func (o *Orchestrator) Names() []string {
	return append([]string(nil), o.order...)
}

// Resolve expands an empty selection to every source, drops duplicates and
// rejects unknown names.
func (o *Orchestrator) Resolve(names []string) ([]string, error) {
	if len(names) == 0 {
		return o.Names(), nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		if _, ok := o.sources[n]; !ok {
			return nil, fmt.Errorf("unknown source %q", n)
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

// Run starts a session and executes it to completion.
func (o *Orchestrator) Run(ctx context.Context, opts scraper.RunOptions) scraper.OrchestratorResult {
	return o.RunSession(ctx, o.Begin(opts), opts)
}

// Begin opens the session a run will log into. Background callers use the
// id before the run starts.
func (o *Orchestrator) Begin(opts scraper.RunOptions) string {
	id := o.bus.StartSession(SessionSource)
	o.bus.Log(id, sessionlog.LevelInfo, SessionSource, "Run requested", map[string]any{
		"force":     opts.Force,
		"run_purge": opts.RunPurge,
		"sources":   opts.Sources,
	})
	return id
}

// RunSession executes the requested sources concurrently in sessionID, purges
// when asked, and always ends the session. It never returns an error; every
// failure is reported in the result.
func (o *Orchestrator) RunSession(ctx context.Context, sessionID string, opts scraper.RunOptions) scraper.OrchestratorResult {
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	start := o.clock.Now()
	log := o.bus.Logger(sessionID, SessionSource)
	result := scraper.OrchestratorResult{
		SessionID: sessionID,
		Results:   make(map[string]scraper.SourceRunResult),
		Errors:    []string{},
	}

	names, unknown := o.partition(opts.Sources)
	for _, n := range unknown {
		result.Results[n] = scraper.SourceRunResult{Source: n, Error: "unknown source"}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: unknown source", n))
		log.Warn("Unknown source requested", "source", n)
	}

	runs := make([]scraper.SourceRunResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs[i] = o.runJob(ctx, sessionID, name, opts.Force)
		}()
	}
	wg.Wait()

	for _, r := range runs {
		result.Results[r.Source] = r
		if !r.Success {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", r.Source, r.Error))
		}
	}

	if opts.RunPurge {
		purged, errs := o.purge(ctx, names, log)
		result.PurgeCount = &purged
		for _, err := range errs {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	for _, r := range result.Results {
		result.Totals.Sources++
		if !r.Success {
			result.Totals.Failed++
		}
		result.Totals.AlertsFound += r.AlertsFound
		result.Totals.AlertsDistributed += r.AlertsDistributed
	}
	result.Success = len(result.Errors) == 0
	result.DurationMs = o.clock.Now().Sub(start).Milliseconds()

	if result.Success {
		log.Success("Run finished", "alerts_found", result.Totals.AlertsFound,
			"alerts_distributed", result.Totals.AlertsDistributed, "duration_ms", result.DurationMs)
	} else {
		log.Error("Run finished with errors", "errors", len(result.Errors), "failed_sources", result.Totals.Failed)
	}
	o.logger.Info("orchestration finished",
		zap.String("session_id", sessionID),
		zap.Bool("success", result.Success),
		zap.Int("alerts_found", result.Totals.AlertsFound),
		zap.Int("alerts_distributed", result.Totals.AlertsDistributed),
		zap.Strings("errors", result.Errors),
	)
	o.bus.EndSession(sessionID, result.Success)
	return result
}

func (o *Orchestrator) partition(requested []string) (known, unknown []string) {
	if len(requested) == 0 {
		return o.Names(), nil
	}
	seen := make(map[string]bool, len(requested))
	for _, n := range requested {
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := o.sources[n]; ok {
			known = append(known, n)
		} else {
			unknown = append(unknown, n)
		}
	}
	return known, unknown
}

func (o *Orchestrator) runJob(ctx context.Context, sessionID, name string, force bool) scraper.SourceRunResult {
	log := o.bus.Logger(sessionID, name)
	start := o.clock.Now()

	res, ran := o.execute(ctx, name, force, log, start)
	res.Source = name
	res.DurationMs = o.clock.Now().Sub(start).Milliseconds()

	outcome := "failure"
	switch {
	case res.Skipped:
		outcome = "skipped"
	case res.Success:
		outcome = "success"
	}
	metrics.ObserveSourceRun(name, outcome, time.Duration(res.DurationMs)*time.Millisecond)

	if ran {
		if err := o.config.RecordRun(ctx, name, res, o.clock.Now()); err != nil {
			log.Warn("Could not record run", "error", err.Error())
			o.logger.Warn("record run failed", zap.String("source", name), zap.Error(err))
		}
	}
	return res
}

// execute runs one source. ran is false when the job was gated off.
func (o *Orchestrator) execute(
	ctx context.Context,
	name string,
	force bool,
	log *sessionlog.Logger,
	now time.Time,
) (res scraper.SourceRunResult, ran bool) {
	defer func() {
		if r := recover(); r != nil {
			res = scraper.SourceRunResult{AlertsFound: res.AlertsFound, Error: fmt.Sprintf("panic: %v", r)}
			ran = true
			log.Error("Source job panicked", "panic", fmt.Sprint(r))
			o.logger.Error("source job panicked", zap.String("source", name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	cfg, err := o.config.Get(ctx, name)
	if err != nil {
		log.Error("Could not read source configuration", "error", err.Error())
		return scraper.SourceRunResult{Error: err.Error()}, true
	}
	if !sourceconfig.ShouldRun(cfg, force, now) {
		reason := "not due"
		if !cfg.Enabled {
			reason = "disabled"
		}
		log.Info("Source skipped", "reason", reason, "frequency", string(cfg.Frequency))
		return scraper.SourceRunResult{Success: true, Skipped: true}, false
	}

	log.Info("Extraction started", "force", force)
	out, err := o.sources[name].Extract(ctx, log)
	if err != nil {
		log.Error("Extraction failed", "error", err.Error(), "partial_tenders", len(out.Tenders))
		msg := err.Error()
		// Tenders read before the failure are still current; their alerts are
		// left for the next successful run.
		if uerr := o.upsertTenders(ctx, out.Tenders, log); uerr != nil {
			msg += "; " + uerr.Error()
		}
		return scraper.SourceRunResult{Error: msg}, true
	}
	res.AlertsFound = len(out.Alerts)
	metrics.ObserveAlerts(name, "found", res.AlertsFound)
	log.Info("Extraction finished", "alerts", len(out.Alerts), "tenders", len(out.Tenders))

	if err := o.upsertTenders(ctx, out.Tenders, log); err != nil {
		res.Error = err.Error()
		return res, true
	}

	saved, err := o.alerts.Save(ctx, name, out.Alerts)
	if err != nil {
		log.Error("Could not store alerts", "error", err.Error())
		res.Error = fmt.Sprintf("store alerts: %v", err)
		return res, true
	}
	res.AlertsDistributed = len(saved)
	metrics.ObserveAlerts(name, "distributed", len(saved))
	o.publish(ctx, log, name, saved)

	res.Success = true
	log.Success("Source finished", "alerts_found", res.AlertsFound, "alerts_distributed", res.AlertsDistributed)
	return res, true
}

func (o *Orchestrator) upsertTenders(ctx context.Context, tenders []scraper.TenderRecord, log *sessionlog.Logger) error {
	if len(tenders) == 0 {
		return nil
	}
	if o.tenders == nil {
		log.Warn("No tender repository configured, tenders dropped", "tenders", len(tenders))
		return nil
	}
	for _, t := range tenders {
		if err := o.tenders.UpsertTender(ctx, t); err != nil {
			log.Error("Tender upsert failed", "nomenclatura", t.Nomenclatura, "error", err.Error())
			return fmt.Errorf("upsert tender %s: %w", t.Nomenclatura, err)
		}
	}
	log.Info("Tenders upserted", "count", len(tenders))
	return nil
}

// publish fans new alerts out. Delivery failures are logged and do not fail
// the job; the alerts are already stored.
func (o *Orchestrator) publish(ctx context.Context, log *sessionlog.Logger, source string, alerts []scraper.NormalizedAlert) {
	if o.publisher == nil || len(alerts) == 0 {
		return
	}
	failed := 0
	for _, a := range alerts {
		ev := AlertEvent{SessionID: log.SessionID(), Source: source, Alert: a}
		if _, err := o.publisher.Publish(ctx, o.topic, ev); err != nil {
			failed++
			o.logger.Warn("alert publish failed", zap.String("source", source), zap.Error(err))
		}
	}
	if failed > 0 {
		log.Warn("Some alerts were not published", "failed", failed, "total", len(alerts))
	}
}

func (o *Orchestrator) purge(ctx context.Context, names []string, log *sessionlog.Logger) (int64, []error) {
	var total int64
	var errs []error
	now := o.clock.Now()
	for _, name := range names {
		cfg, err := o.config.Get(ctx, name)
		if err != nil {
			errs = append(errs, &scraper.PurgeError{Source: name, Err: err})
			continue
		}
		if cfg.RetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -cfg.RetentionDays)
		n, err := o.alerts.PurgeRead(ctx, name, cutoff)
		if err != nil {
			perr := &scraper.PurgeError{Source: name, Err: err}
			log.Error("Purge failed", "source", name, "error", err.Error())
			errs = append(errs, perr)
			continue
		}
		total += n
		metrics.ObservePurge(name, n)
		log.Info("Purged read alerts", "source", name, "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return total, errs
}

// AlertEvent is the message published for every newly stored alert.
type AlertEvent struct {
	SessionID string                  `json:"session_id"`
	Source    string                  `json:"source"`
	Alert     scraper.NormalizedAlert `json:"alert"`
}

// Attributes exposes routing attributes to Pub/Sub subscribers.
func (e AlertEvent) Attributes() map[string]string {
	return map[string]string{"source": e.Source, "tipo": e.Alert.Tipo}
}

// Key is the partition key used by Kafka.
func (e AlertEvent) Key() string {
	return storage.Fingerprint(e.Source, e.Alert)
}

// Abandon ends a session opened by Begin whose run will never execute.
func (o *Orchestrator) Abandon(sessionID, reason string) {
	o.bus.Log(sessionID, sessionlog.LevelError, SessionSource, "Run was not started", map[string]any{"reason": reason})
	o.bus.EndSession(sessionID, false)
}
