package output

import "time"

type Level string

const (
	LevelDebug   Level = "debug"
	LevelVerbose Level = "verbose"
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

type EventName string

const (
	EventLog             EventName = "log"
	EventDaemonStarted   EventName = "daemon_started"
	EventDaemonConnected EventName = "daemon_connected"
	EventBatchStarted    EventName = "batch_started"
	EventBatchProgress   EventName = "batch_progress"
	EventJobFailed       EventName = "job_failed"
	EventJobRetried      EventName = "job_retried"
	EventBatchFinished   EventName = "batch_finished"
	EventDaemonStopped   EventName = "daemon_stopped"
)

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Event     EventName      `json:"event"`
	BatchID   string         `json:"batch_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}
