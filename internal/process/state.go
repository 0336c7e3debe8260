package process

import "time"

// State represents the current state of the supervised child.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not started yet
	StateStarting State = "starting" // Being started
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Stop signal sent
	StateExited   State = "exited"   // Exited on its own or after a stop
	StateError    State = "error"    // Failed to start or wait
)

// Info contains information about the supervised child.
type Info struct {
	ID        string
	State     State
	Command   string
	PID       int
	StartedAt time.Time
	ExitedAt  time.Time
	ExitCode  int
	LastError error
}
