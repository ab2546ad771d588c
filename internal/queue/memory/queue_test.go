package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/govwatch/internal/queue"
	"github.com/JakeFAU/govwatch/internal/scraper"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan queue.Item, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := queue.Item{SessionID: "session-1", Options: scraper.RunOptions{Force: true}}
	require.NoError(t, q.Enqueue(context.Background(), item))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "session-1", got.SessionID)
		require.True(t, got.Options.Force)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue(1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), queue.Item{SessionID: "primed"}))
	require.Equal(t, 1, qEnqueue.Len())
	err = qEnqueue.Enqueue(ctx, queue.Item{})
	require.EqualError(t, err, "enqueue canceled: context canceled")
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), queue.Item{SessionID: "pending"}))
	q.Close()

	require.True(t, errors.Is(q.Enqueue(context.Background(), queue.Item{}), queue.ErrClosed))
	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "pending", item.SessionID)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, queue.ErrClosed)
	// Closing twice should be safe.
	q.Close()
}
