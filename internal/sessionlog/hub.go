package sessionlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HubConfig controls how the Hub buffers entries before handing them to sinks.
type HubConfig struct {
	// BufferSize is the capacity of the intake channel (default 4096).
	BufferSize     int
	// MaxBatchEvents flushes a session once this many of its entries are pending (default 200).
	MaxBatchEvents int
	// MaxBatchWait is how often smaller pending groups are flushed (default 500ms).
	MaxBatchWait   time.Duration
	// SinkTimeout bounds each Consume call (default 5s).
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 200
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub hands entries to sinks from a background goroutine. Pending entries are
// grouped by session and every Consume call carries a single session's
// entries in append order. A session's group is flushed as soon as its end
// entry arrives. Emit never blocks; when the buffer is full entries are
// dropped.
type Hub struct {
	cfg     HubConfig
	sinks   []Sink
	entries chan Entry
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	dropLog rate.Sometimes
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts its batching goroutine.
func NewHub(cfg HubConfig, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		entries: make(chan Entry, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues an entry without blocking.
func (h *Hub) Emit(entry Entry) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := entry.Validate(); err != nil {
		h.logger.Debug("discarding invalid log entry", zap.Error(err))
		return
	}
	select {
	case h.entries <- entry:
	default:
		h.dropped.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("session log entries dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.String("session_id", entry.SessionID))
		})
	}
}

// Close drains buffered entries, flushes and closes sinks, and waits for the
// background goroutine. Safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session log hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	buf := newPending()
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	for {
		select {
		case entry := <-h.entries:
			h.accept(buf, entry)
		case <-ticker.C:
			h.flushAll(buf)
		case <-h.stopCh:
			for {
				select {
				case entry := <-h.entries:
					h.accept(buf, entry)
				default:
					h.flushAll(buf)
					h.closeSinks()
					return
				}
			}
		}
	}
}

func (h *Hub) accept(buf *pending, entry Entry) {
	if buf.add(entry) >= h.cfg.MaxBatchEvents || endsSession(entry) {
		h.deliver(buf.take(entry.SessionID))
	}
}

func (h *Hub) flushAll(buf *pending) {
	for _, group := range buf.takeAll() {
		h.deliver(group)
	}
}

func (h *Hub) deliver(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("session log sink consume failed",
				zap.String("session_id", batch[0].SessionID), zap.Int("entries", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("session log sink close failed", zap.Error(err))
		}
	}
}

func endsSession(e Entry) bool {
	ev, _ := e.Metadata[MetaEvent].(string)
	return ev == EventSessionEnd
}

// pending holds unflushed entries per session, keeping sessions in the order
// they first logged since their last flush.
type pending struct {
	groups map[string][]Entry
	order  []string
}

func newPending() *pending {
	return &pending{groups: make(map[string][]Entry)}
}

func (p *pending) add(e Entry) int {
	group, ok := p.groups[e.SessionID]
	if !ok {
		p.order = append(p.order, e.SessionID)
	}
	group = append(group, e)
	p.groups[e.SessionID] = group
	return len(group)
}

func (p *pending) take(sessionID string) []Entry {
	group, ok := p.groups[sessionID]
	if !ok {
		return nil
	}
	delete(p.groups, sessionID)
	for i, id := range p.order {
		if id == sessionID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return group
}

func (p *pending) takeAll() [][]Entry {
	if len(p.order) == 0 {
		return nil
	}
	out := make([][]Entry, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.groups[id])
	}
	p.groups = make(map[string][]Entry)
	p.order = p.order[:0]
	return out
}
