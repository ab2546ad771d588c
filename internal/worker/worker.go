// Package worker executes queued background runs.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/queue"
	"github.com/JakeFAU/govwatch/internal/scraper"
)

// Runner executes a run inside an already opened session.
type Runner interface {
	RunSession(ctx context.Context, sessionID string, opts scraper.RunOptions) scraper.OrchestratorResult
}

// Worker consumes queue items and hands them to the runner.
type Worker struct {
	id     int
	queue  queue.Queue
	runner Runner
	logger *zap.Logger
	done   func(scraper.OrchestratorResult)
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithCompletion registers a callback invoked after every run.
func WithCompletion(fn func(scraper.OrchestratorResult)) Option {
	return func(w *Worker) { w.done = fn }
}

// New constructs a Worker.
func New(id int, q queue.Queue, runner Runner, opts ...Option) *Worker {
	w := &Worker{id: id, queue: q, runner: runner, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.Int("worker", id))
	return w
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("session_id", item.SessionID))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("background run panicked",
				zap.String("session_id", item.SessionID),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
		}
	}()
	if w.runner == nil {
		w.logger.Error("no runner configured", zap.String("session_id", item.SessionID))
		return
	}
	res := w.runner.RunSession(ctx, item.SessionID, item.Options)
	w.logger.Info("background run finished",
		zap.String("session_id", item.SessionID),
		zap.Bool("success", res.Success),
		zap.Int64("duration_ms", res.DurationMs),
	)
	if w.done != nil {
		w.done(res)
	}
}
