// Package logging provides structured logging with per-module log level configuration.
//
// Initialize once at startup, then ask for module loggers:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"stall":   "debug",
//			"process": "warn",
//		},
//	})
//	logger := logging.GetLogger("stall").With("process_id", id)
//
// Records go to stdout when it is a terminal, pipe or file, to the systemd
// journal when [github.com/coreos/go-systemd/v22/journal.Enabled] reports it,
// and always to an in-memory RingBuffer of recent entries. The ring buffer is
// what the status API serves from /api/logs, so the last lines a stalled child
// printed are available without shelling into the host:
//
//	journalctl -t stallwatch MODULE=process PROCESS_ID=build
//
// Levels can be changed at runtime with UpdateLevels; loggers already handed
// out follow the change because each module owns a slog.LevelVar.
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	stall = "debug"
//	process = "warn"
package logging
