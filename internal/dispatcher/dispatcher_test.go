package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/queue"
	"github.com/JakeFAU/govwatch/internal/queue/memory"
	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	q := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(1, q, nil)
	dispatch := New(q, []*worker.Worker{w}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-q.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, nil)
	err := dispatch.Enqueue(context.Background(), queue.Item{SessionID: "s"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestDispatcherSubmitRunsInBackground(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	runner := &recordingRunner{ran: make(chan string, 1)}
	starter := &fakeStarter{}
	dispatch := New(q, []*worker.Worker{worker.New(1, q, runner)}, starter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatch.Run(ctx)

	id, err := dispatch.Submit(context.Background(), scraper.RunOptions{Sources: []string{scraper.SourceOECE}})
	require.NoError(t, err)
	require.Equal(t, "session-1", id)

	select {
	case got := <-runner.ran:
		require.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("queued run never executed")
	}
	require.Empty(t, starter.abandoned())
}

func TestDispatcherSubmitAbandonsWhenQueueRejects(t *testing.T) {
	t.Parallel()

	starter := &fakeStarter{}
	dispatch := New(&errorQueue{err: errors.New("full")}, nil, starter)

	id, err := dispatch.Submit(context.Background(), scraper.RunOptions{})
	require.Error(t, err)
	require.Equal(t, []string{id}, starter.abandoned())

	_, err = New(&errorQueue{}, nil, nil).Submit(context.Background(), scraper.RunOptions{})
	require.Error(t, err)
}

type fakeStarter struct {
	mu     sync.Mutex
	n      int
	closed []string
}

func (s *fakeStarter) Begin(scraper.RunOptions) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("session-%d", s.n)
}

func (s *fakeStarter) Abandon(id, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
}

func (s *fakeStarter) abandoned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

type recordingRunner struct {
	ran chan string
}

func (r *recordingRunner) RunSession(_ context.Context, id string, _ scraper.RunOptions) scraper.OrchestratorResult {
	r.ran <- id
	return scraper.OrchestratorResult{SessionID: id, Success: true}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, queue.Item) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (queue.Item, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return queue.Item{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, queue.Item) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (queue.Item, error) {
	return queue.Item{}, nil
}
