package sessionlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEntry(1))
	hub.Emit(sampleEntry(2))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEntry(1))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     HubConfig{},
		entries: make(chan Entry),
		logger:  zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEntry(1))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(0), hub.dropped.Load(), "drop counter resets once the warning is logged")
}

func TestHubDiscardsInvalidEntries(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{MaxBatchEvents: 1}, sink)
	hub.Emit(Entry{ID: 1, Timestamp: time.Now(), Level: "verbose"})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubFlushOnClose ensures Close drains any buffered entries before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEntry(1))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	hub.Emit(sampleEntry(2))
	require.Len(t, sink.Batches(), 1, "emits after close are ignored")
}

func TestHubGroupsBatchesBySession(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)

	first := sampleEntry(1)
	other := sampleEntry(2)
	other.SessionID = "s-2"
	third := sampleEntry(3)
	hub.Emit(first)
	hub.Emit(other)
	hub.Emit(third)
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 2)
	require.Equal(t, []int64{1, 3}, entryIDs(batches[0]))
	require.Equal(t, []int64{2}, entryIDs(batches[1]))
}

func TestHubFlushesSessionOnEnd(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(HubConfig{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	open := sampleEntry(1)
	open.SessionID = "s-2"
	hub.Emit(open)
	hub.Emit(sampleEntry(2))
	end := sampleEntry(3)
	end.Metadata = map[string]any{MetaEvent: EventSessionEnd}
	hub.Emit(end)

	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []int64{2, 3}, entryIDs(sink.Batches()[0]), "only the ended session is flushed early")
}

func entryIDs(batch []Entry) []int64 {
	ids := make([]int64, 0, len(batch))
	for _, e := range batch {
		ids = append(ids, e.ID)
	}
	return ids
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Entry
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Entry{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Entry(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Entry, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Entry(nil), b...)
	}
	return out
}

func sampleEntry(id int64) Entry {
	return Entry{
		ID:        id,
		SessionID: "s-1",
		Timestamp: time.Now(),
		Level:     LevelInfo,
		Source:    "oece",
		Message:   "sample",
	}
}
