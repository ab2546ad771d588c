package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/queue"
	"github.com/JakeFAU/govwatch/internal/scraper"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []queue.Item
	errs  []error
}

func (q *fakeQueue) Enqueue(_ context.Context, item queue.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

// Dequeue replays scripted errors first, then items, then reports closed.
func (q *fakeQueue) Dequeue(ctx context.Context) (queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return queue.Item{}, err
	}
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		return queue.Item{}, err
	}
	if len(q.items) == 0 {
		return queue.Item{}, queue.ErrClosed
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

type scriptedRunner struct {
	mu    sync.Mutex
	calls []queue.Item
	panic bool
}

func (r *scriptedRunner) RunSession(_ context.Context, id string, opts scraper.RunOptions) scraper.OrchestratorResult {
	r.mu.Lock()
	r.calls = append(r.calls, queue.Item{SessionID: id, Options: opts})
	shouldPanic := r.panic && len(r.calls) == 1
	r.mu.Unlock()
	if shouldPanic {
		panic("browser crashed")
	}
	return scraper.OrchestratorResult{SessionID: id, Success: true}
}

func TestWorkerProcessesItemsUntilClosed(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{
		errs: []error{errors.New("transient")},
		items: []queue.Item{
			{SessionID: "s1", Options: scraper.RunOptions{Force: true}},
			{SessionID: "s2", Options: scraper.RunOptions{RunPurge: true}},
		},
	}
	runner := &scriptedRunner{}
	var results []scraper.OrchestratorResult
	w := New(1, q, runner, WithLogger(zap.NewNop()), WithCompletion(func(r scraper.OrchestratorResult) {
		results = append(results, r)
	}))

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on closed queue")
	}

	require.Len(t, runner.calls, 2)
	require.Equal(t, "s1", runner.calls[0].SessionID)
	require.True(t, runner.calls[0].Options.Force)
	require.True(t, runner.calls[1].Options.RunPurge)
	require.Len(t, results, 2)
}

func TestWorkerSurvivesRunnerPanic(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{items: []queue.Item{{SessionID: "s1"}, {SessionID: "s2"}}}
	runner := &scriptedRunner{panic: true}
	w := New(2, q, runner)
	w.Run(context.Background())

	require.Len(t, runner.calls, 2)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &scriptedRunner{}
	New(3, &fakeQueue{items: []queue.Item{{SessionID: "never"}}}, runner).Run(ctx)
	require.Empty(t, runner.calls)
}
