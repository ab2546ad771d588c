package sessionlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

// Config controls the bus.
//   - HistorySize: capacity of the cross-session ring buffer (default 500).
//   - TTL: how long a terminated session stays queryable (default 5m).
//   - IDGenerator: session id source (defaults to a counter).
//   - Clock: time source (defaults to time.Now in UTC).
//   - Hub: batching settings for the sink hub.
type Config struct {
	HistorySize int
	TTL         time.Duration
	IDGenerator scraper.IDGenerator
	Clock       scraper.Clock
	Logger      *zap.Logger
	Hub         HubConfig
}

const (
	defaultHistorySize = 500
	defaultTTL         = 5 * time.Minute
)

// Bus owns every live session and the recent-entry history. It is safe for
// concurrent use; sessions are locked individually so unrelated sources never
// serialize on each other.
type Bus struct {
	cfg    Config
	logger *zap.Logger
	hub    *Hub

	mu       sync.RWMutex
	sessions map[string]*session

	historyMu sync.Mutex
	history   []Entry
	head      int
	size      int

	nextID      atomic.Int64
	nextSession atomic.Int64
	closed      atomic.Bool
}

type session struct {
	mu           sync.Mutex
	id           string
	source       string
	startedAt    time.Time
	endedAt      *time.Time
	status       Status
	logs         []Entry
	listeners    map[int]Listener
	nextListener int
	expiry       *time.Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewBus builds a bus that forwards every entry to sinks through a Hub.
func NewBus(cfg Config, sinks ...Sink) *Bus {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Hub.Logger == nil {
		cfg.Hub.Logger = logger
	}
	return &Bus{
		cfg:      cfg,
		logger:   logger,
		hub:      NewHub(cfg.Hub, sinks...),
		sessions: make(map[string]*session),
		history:  make([]Entry, cfg.HistorySize),
	}
}

// StartSession opens a running session for source and logs an opening entry.
func (b *Bus) StartSession(source string) string {
	id := b.newSessionID()
	now := b.cfg.Clock.Now()
	s := &session{
		id:        id,
		source:    source,
		startedAt: now,
		status:    StatusRunning,
		listeners: make(map[int]Listener),
	}
	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()

	b.Log(id, LevelInfo, source, "Session started", map[string]any{MetaEvent: EventSessionOpen})
	return id
}

func (b *Bus) newSessionID() string {
	if b.cfg.IDGenerator != nil {
		id, err := b.cfg.IDGenerator.NewID()
		if err == nil && id != "" {
			return id
		}
		b.logger.Warn("session id generation failed, using counter", zap.Error(err))
	}
	return fmt.Sprintf("session-%d", b.nextSession.Add(1))
}

// Log appends an entry. Unknown session ids only reach the global history and
// sinks. Listeners of the session are notified synchronously in append order.
func (b *Bus) Log(sessionID string, level Level, source, message string, metadata map[string]any) Entry {
	if !level.Valid() {
		level = LevelInfo
	}
	entry := Entry{
		SessionID: sessionID,
		Level:     level,
		Source:    source,
		Message:   message,
		Metadata:  cloneMetadata(metadata),
	}

	s := b.lookup(sessionID)
	if s == nil {
		entry.ID = b.nextID.Add(1)
		entry.Timestamp = b.cfg.Clock.Now()
		b.record(entry)
		return entry
	}

	s.mu.Lock()
	entry.ID = b.nextID.Add(1)
	entry.Timestamp = b.cfg.Clock.Now()
	s.logs = append(s.logs, entry)
	b.record(entry)
	for _, id := range s.listenerOrder() {
		s.listeners[id](Event{Kind: KindLog, Entry: entry, Status: s.status})
	}
	s.mu.Unlock()
	return entry
}

func (b *Bus) record(entry Entry) {
	b.historyMu.Lock()
	b.history[b.head] = entry
	b.head = (b.head + 1) % len(b.history)
	if b.size < len(b.history) {
		b.size++
	}
	b.historyMu.Unlock()
	b.hub.Emit(entry)
}

// Subscribe registers l for future events of sessionID. There is no replay of
// earlier entries; read Session for history. The returned func is idempotent.
// Subscribing to an unknown or terminated session returns a no-op.
func (b *Bus) Subscribe(sessionID string, l Listener) func() {
	s := b.lookup(sessionID)
	if s == nil || l == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return func() {}
	}
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// EndSession moves a running session to its terminal status, logs a closing
// entry, signals listeners, drops them and schedules deletion after the TTL.
// It reports false when the session is unknown or already terminated.
func (b *Bus) EndSession(sessionID string, success bool) bool {
	s := b.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return false
	}
	now := b.cfg.Clock.Now()
	status, level, msg := StatusCompleted, LevelSuccess, "Session completed"
	if !success {
		status, level, msg = StatusFailed, LevelError, "Session failed"
	}
	s.status = status
	s.endedAt = &now
	s.mu.Unlock()

	b.Log(sessionID, level, s.source, msg, map[string]any{
		MetaEvent:     EventSessionEnd,
		"status":      string(status),
		"duration_ms": now.Sub(s.startedAt).Milliseconds(),
	})

	s.mu.Lock()
	for _, id := range s.listenerOrder() {
		s.listeners[id](Event{Kind: KindSessionEnd, Status: status})
	}
	s.listeners = make(map[int]Listener)
	if !b.closed.Load() {
		s.expiry = time.AfterFunc(b.cfg.TTL, func() { b.forget(sessionID) })
	}
	s.mu.Unlock()
	return true
}

func (b *Bus) forget(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}

func (b *Bus) lookup(sessionID string) *session {
	if sessionID == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[sessionID]
}

// Session returns a copy of the session and its accumulated logs.
func (b *Bus) Session(sessionID string) (Snapshot, bool) {
	s := b.lookup(sessionID)
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(0), true
}

// LogsAfter returns the session's entries with ID greater than afterID along
// with the current status.
func (b *Bus) LogsAfter(sessionID string, afterID int64) (Snapshot, bool) {
	s := b.lookup(sessionID)
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(afterID), true
}

// Recent returns up to n of the most recent entries across all sessions,
// oldest first. n <= 0 returns the whole history.
func (b *Bus) Recent(n int) []Entry {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]Entry, 0, n)
	start := (b.head - n + len(b.history)) % len(b.history)
	for i := 0; i < n; i++ {
		out = append(out, b.history[(start+i)%len(b.history)])
	}
	return out
}

// Logger returns a helper bound to sessionID and source.
func (b *Bus) Logger(sessionID, source string) *Logger {
	return &Logger{bus: b, sessionID: sessionID, source: source}
}

// Close cancels pending session expiries and drains the sink hub.
func (b *Bus) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.RLock()
	for _, s := range b.sessions {
		s.mu.Lock()
		if s.expiry != nil {
			s.expiry.Stop()
		}
		s.mu.Unlock()
	}
	b.mu.RUnlock()
	if err := b.hub.Close(ctx); err != nil {
		return fmt.Errorf("close session log bus: %w", err)
	}
	return nil
}

func (s *session) snapshot(afterID int64) Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Source:    s.source,
		StartedAt: s.startedAt,
		Status:    s.status,
		Logs:      make([]Entry, 0, len(s.logs)),
	}
	if s.endedAt != nil {
		ended := *s.endedAt
		snap.EndedAt = &ended
	}
	for _, e := range s.logs {
		if e.ID > afterID {
			snap.Logs = append(snap.Logs, e)
		}
	}
	return snap
}

// listenerOrder returns listener ids in registration order.
func (s *session) listenerOrder() []int {
	ids := make([]int, 0, len(s.listeners))
	for i := 0; i < s.nextListener; i++ {
		if _, ok := s.listeners[i]; ok {
			ids = append(ids, i)
		}
	}
	return ids
}

func cloneMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
