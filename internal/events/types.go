package events

// Event type constants for kelindar/event.
const (
	TypeStallWarning uint32 = iota + 1
	TypeProcessStarted
	TypeProcessExited
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StallWarningEvent is published every time the stall monitor fires.
type StallWarningEvent struct {
	ProcessID string `json:"process_id" example:"main" doc:"Monitored process identifier"`
	Message   string `json:"message" doc:"Warning text"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Warning timestamp"`
}

// Type returns the event type identifier for StallWarningEvent.
func (e StallWarningEvent) Type() uint32 { return TypeStallWarning }

// ProcessStartedEvent is published once the child process is running.
type ProcessStartedEvent struct {
	ProcessID string `json:"process_id" example:"main" doc:"Monitored process identifier"`
	PID       int    `json:"pid" example:"4242" doc:"Operating system process id"`
	Command   string `json:"command" example:"make test" doc:"Command line"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Start timestamp"`
}

// Type returns the event type identifier for ProcessStartedEvent.
func (e ProcessStartedEvent) Type() uint32 { return TypeProcessStarted }

// ProcessExitedEvent is published after the child process has exited.
type ProcessExitedEvent struct {
	ProcessID string `json:"process_id" example:"main" doc:"Monitored process identifier"`
	ExitCode  int    `json:"exit_code" example:"0" doc:"Exit code"`
	Error     string `json:"error,omitempty" doc:"Exit error, if any"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Exit timestamp"`
}

// Type returns the event type identifier for ProcessExitedEvent.
func (e ProcessExitedEvent) Type() uint32 { return TypeProcessExited }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"process" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
