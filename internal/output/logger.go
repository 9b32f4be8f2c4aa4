package output

import (
	"fmt"
	"time"
)

// Logger is a leveled front end over an EventEmitter. Every line becomes an
// EventLog event, so --json runs get logs in the same NDJSON stream as the
// batch events. A nil *Logger discards everything.
type Logger struct {
	emitter EventEmitter
	batchID string
	now     func() time.Time
}

func NewLogger(emitter EventEmitter) *Logger {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Logger{emitter: emitter, now: time.Now}
}

// WithBatch returns a logger whose events carry batchID.
func (l *Logger) WithBatch(batchID string) *Logger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.batchID = batchID
	return &clone
}

func (l *Logger) Emitter() EventEmitter {
	if l == nil {
		return NopEmitter{}
	}
	return l.emitter
}

func (l *Logger) Debug(format string, args ...any)   { l.log(LevelDebug, format, args...) }
func (l *Logger) Verbose(format string, args ...any) { l.log(LevelVerbose, format, args...) }
func (l *Logger) Info(format string, args ...any)    { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)    { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any)   { l.log(LevelError, format, args...) }

// Event emits a named event stamped with the logger's clock and batch id.
func (l *Logger) Event(level Level, name EventName, message string, details map[string]any) {
	if l == nil {
		return
	}
	_ = l.emitter.Emit(Event{
		Timestamp: l.now(),
		Level:     level,
		Event:     name,
		BatchID:   l.batchID,
		Message:   message,
		Details:   details,
	})
}

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	l.Event(level, EventLog, message, nil)
}
