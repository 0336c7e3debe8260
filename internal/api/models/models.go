package models

import (
	"time"

	"github.com/smazurov/stallwatch/internal/events"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-09T10:30:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Status models
type ProcessData struct {
	ID        string    `json:"id" example:"build" doc:"Process identifier"`
	State     string    `json:"state" example:"running" enum:"idle,starting,running,stopping,exited,error" doc:"Lifecycle state"`
	Command   string    `json:"command,omitempty" example:"make test" doc:"Command line"`
	PID       int       `json:"pid,omitempty" example:"4242" doc:"Operating system process id"`
	StartedAt time.Time `json:"started_at,omitzero" doc:"When the child started"`
	ExitedAt  time.Time `json:"exited_at,omitzero" doc:"When the child exited"`
	ExitCode  *int      `json:"exit_code,omitempty" example:"0" doc:"Exit code once exited"`
	Error     string    `json:"error,omitempty" doc:"Last error"`
}

type StallData struct {
	Enabled          bool      `json:"enabled" doc:"Whether stall detection is active"`
	Armed            bool      `json:"armed" doc:"Whether the monitor is currently watching"`
	Stalled          bool      `json:"stalled" doc:"At least one interval elapsed without output"`
	Interval         string    `json:"interval,omitempty" example:"30m0s" doc:"Warning interval"`
	StalledIntervals int       `json:"stalled_intervals" example:"0" doc:"Consecutive intervals without output"`
	StalledFor       string    `json:"stalled_for,omitempty" example:"1h0m0s" doc:"Time without output, in whole intervals"`
	LastActivity     time.Time `json:"last_activity,omitzero" doc:"Last output or arm time"`
}

type ActivityData struct {
	OutputLines   int       `json:"output_lines" example:"1520" doc:"Output lines seen from the child"`
	StallWarnings int       `json:"stall_warnings" example:"0" doc:"Stall warnings emitted"`
	LastOutput    time.Time `json:"last_output,omitzero" doc:"When the child last printed a line"`
}

type StatusData struct {
	Process  ProcessData   `json:"process" doc:"Supervised child"`
	Stall    StallData     `json:"stall" doc:"Stall monitor"`
	Activity *ActivityData `json:"activity,omitempty" doc:"Output counters, absent before the child starts"`
}

type StatusResponse struct {
	Body StatusData
}

// Log models
type LogsRequest struct {
	Limit int `query:"limit" minimum:"0" maximum:"1000" default:"100" doc:"Maximum number of entries, newest last (0 = all)"`
}

type LogsData struct {
	Entries []events.LogEntryEvent `json:"entries" doc:"Buffered log entries"`
	Count   int                    `json:"count" example:"100" doc:"Number of entries returned"`
}

type LogsResponse struct {
	Body LogsData
}

type LogsTextResponse struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// ConnectedEvent is the first message on every SSE stream.
type ConnectedEvent struct {
	Message   string `json:"message" example:"SSE connection established" doc:"Greeting"`
	Timestamp string `json:"timestamp" example:"2025-01-09T10:30:00Z" doc:"Connection timestamp"`
}
