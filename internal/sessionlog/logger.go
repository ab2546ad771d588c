package sessionlog

import "fmt"

// Logger writes to one session on behalf of one source. A nil Logger, or one
// without a bus, discards everything, which keeps extractors usable in tests.
type Logger struct {
	bus       *Bus
	sessionID string
	source    string
}

// SessionID returns the bound session.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// WithSource returns a logger for the same session under another source label.
func (l *Logger) WithSource(source string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{bus: l.bus, sessionID: l.sessionID, source: source}
}

// Info logs at info level. keysAndValues are alternating metadata pairs.
func (l *Logger) Info(msg string, keysAndValues ...any) {
	l.log(LevelInfo, msg, keysAndValues)
}

// Success logs a positive milestone.
func (l *Logger) Success(msg string, keysAndValues ...any) {
	l.log(LevelSuccess, msg, keysAndValues)
}

// Warn logs at warning level.
func (l *Logger) Warn(msg string, keysAndValues ...any) {
	l.log(LevelWarning, msg, keysAndValues)
}

// Error logs at error level.
func (l *Logger) Error(msg string, keysAndValues ...any) {
	l.log(LevelError, msg, keysAndValues)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keysAndValues ...any) {
	l.log(LevelDebug, msg, keysAndValues)
}

func (l *Logger) log(level Level, msg string, keysAndValues []any) {
	if l == nil || l.bus == nil {
		return
	}
	l.bus.Log(l.sessionID, level, l.source, msg, pairs(keysAndValues))
}

func pairs(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 < len(kv) {
			out[key] = kv[i+1]
		} else {
			out[key] = nil
		}
	}
	return out
}
