// Package scheduler triggers periodic orchestrator runs from a cron spec.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

// DefaultSpec runs the sweep hourly; per-source frequency gating decides what
// actually executes.
const DefaultSpec = "@every 1h"

// Submitter queues a run and returns its session id.
type Submitter interface {
	Submit(ctx context.Context, opts scraper.RunOptions) (string, error)
}

// Scheduler fires unforced runs on a cron schedule.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	cron     *cron.Cron
	submit   Submitter
	opts     scraper.RunOptions
	logger   *zap.Logger
	ctx      context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPurge toggles the retention purge on scheduled runs.
func WithPurge(enabled bool) Option {
	return func(s *Scheduler) { s.opts.RunPurge = enabled }
}

// WithSources restricts scheduled runs to names. Empty means every source.
func WithSources(names []string) Option {
	return func(s *Scheduler) { s.opts.Sources = append([]string(nil), names...) }
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates spec and builds a stopped Scheduler. Runs are never forced.
func New(spec string, submit Submitter, opts ...Option) (*Scheduler, error) {
	if submit == nil {
		return nil, fmt.Errorf("scheduler: submitter is required")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	s := &Scheduler{
		spec:     spec,
		schedule: schedule,
		submit:   submit,
		opts:     scraper.RunOptions{RunPurge: true},
		logger:   zap.NewNop(),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.opts.Force = false
	cl := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.cron.Schedule(schedule, cron.FuncJob(s.fire))
	return s, nil
}

// Next reports when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start begins firing. ctx bounds the submissions made by the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info("scheduler started",
		zap.String("spec", s.spec),
		zap.Time("next_run", s.Next(time.Now())),
		zap.Bool("run_purge", s.opts.RunPurge),
	)
	s.cron.Start()
}

// Stop halts the schedule. The returned context is done once a running
// submission has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) fire() {
	if s.ctx.Err() != nil {
		return
	}
	id, err := s.submit.Submit(s.ctx, s.opts)
	if err != nil {
		s.logger.Error("scheduled run not queued", zap.String("session_id", id), zap.Error(err))
		return
	}
	s.logger.Info("scheduled run queued", zap.String("session_id", id), zap.Strings("sources", s.opts.Sources))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
