// Package dispatcher fans background runs out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/govwatch/internal/queue"
	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/worker"
)

// Starter opens sessions ahead of a run and closes ones that never ran.
type Starter interface {
	Begin(opts scraper.RunOptions) string
	Abandon(sessionID, reason string)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue          queue.Queue
	workers        []*worker.Worker
	starter        Starter
	enqueueTimeout time.Duration
	now            func() time.Time
}

// New creates a Dispatcher. starter may be nil when Submit is unused.
func New(q queue.Queue, workers []*worker.Worker, starter Starter) *Dispatcher {
	return &Dispatcher{
		queue:          q,
		workers:        workers,
		starter:        starter,
		enqueueTimeout: 2 * time.Second,
		now:            time.Now,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item queue.Item) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit opens a session for opts and queues the run. The session id is
// usable for log polling as soon as Submit returns. When the queue does not
// accept the run in time the session is closed as failed.
func (d *Dispatcher) Submit(ctx context.Context, opts scraper.RunOptions) (string, error) {
	if d.starter == nil {
		return "", fmt.Errorf("dispatcher has no session starter")
	}
	id := d.starter.Begin(opts)
	enqueueCtx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()
	if err := d.Enqueue(enqueueCtx, queue.Item{SessionID: id, Options: opts, EnqueuedAt: d.now().UTC()}); err != nil {
		d.starter.Abandon(id, err.Error())
		return id, err
	}
	return id, nil
}
