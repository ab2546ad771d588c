package sessionlog

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Level grades a log entry.
type Level string

// Supported entry levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelDebug   Level = "debug"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelSuccess, LevelWarning, LevelError, LevelDebug:
		return true
	}
	return false
}

// ZapLevel maps l onto the zap severity scale. Success entries are info.
func (l Level) ZapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Status is the lifecycle state of a session.
type Status string

// Session statuses. A session leaves StatusRunning exactly once.
const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Metadata keys the bus sets on lifecycle entries.
const (
	MetaEvent        = "event"
	EventSessionOpen = "session_start"
	EventSessionEnd  = "session_end"
)

// Entry is one immutable log line. IDs are unique across the bus and increase
// in append order within a session, so clients can poll with "after id".
type Entry struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate performs coarse validation before an entry is handed to sinks.
func (e Entry) Validate() error {
	if e.ID <= 0 {
		return errors.New("entry id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Level.Valid() {
		return fmt.Errorf("unknown level %q", e.Level)
	}
	return nil
}

// EventKind distinguishes what a listener is being told.
type EventKind int

// Listener event kinds.
const (
	// KindLog carries a newly appended entry.
	KindLog EventKind = iota
	// KindSessionEnd is the synthetic signal sent once when a session terminates.
	KindSessionEnd
)

// Event is what listeners receive.
type Event struct {
	Kind   EventKind
	Entry  Entry
	Status Status
}

// Listener receives events synchronously, in append order, while the
// session's lock is held. Listeners must not log to the same session.
type Listener func(Event)

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    Status     `json:"status"`
	Logs      []Entry    `json:"logs"`
}
