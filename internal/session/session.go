// Package session supervises one child process with stall detection.
package session

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/smazurov/stallwatch/internal/api"
	"github.com/smazurov/stallwatch/internal/events"
	"github.com/smazurov/stallwatch/internal/logging"
	"github.com/smazurov/stallwatch/internal/metrics"
	"github.com/smazurov/stallwatch/internal/metrics/exporters"
	"github.com/smazurov/stallwatch/internal/process"
	"github.com/smazurov/stallwatch/internal/stall"
	"github.com/smazurov/stallwatch/internal/systemd"
)

// ErrNoCommand is returned by New when no command is configured.
var ErrNoCommand = errors.New("no command to run")

const serverStopTimeout = 2 * time.Second

// Options configures a Session.
type Options struct {
	ProcessID string

	// Args takes precedence over Command.
	Args    []string
	Command string
	Dir     string
	Env     []string

	// StallDetect is the resolved feature gate.
	StallDetect   bool
	StallInterval time.Duration

	GracefulTimeout time.Duration

	// Passthrough mirrors child output to our stdout/stderr.
	Passthrough bool

	// Listen enables the status server when non-empty.
	Listen       string
	AuthUsername string
	AuthPassword string

	// Sinks receive warnings in addition to the log and event sinks.
	Sinks []stall.WarningSink

	// Alarm overrides the default timer alarm.
	Alarm stall.Alarm

	EventBus *events.Bus
	Logger   logging.Logger
}

// Session wires a process, its stall monitor, the event bus and the
// optional status server.
type Session struct {
	id       string
	listen   string
	bus      *events.Bus
	monitor  *stall.Monitor
	proc     *process.Process
	server   *api.Server
	notifier *systemd.Notifier
	logger   logging.Logger
	listener net.Listener
}

// New builds a session. Nothing runs until Run.
func New(opts Options) (*Session, error) {
	if len(opts.Args) == 0 && opts.Command == "" {
		return nil, ErrNoCommand
	}

	id := opts.ProcessID
	if id == "" {
		id = "main"
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("session").With("process_id", id)
	}

	bus := opts.EventBus
	if bus == nil {
		bus = events.New()
	}

	s := &Session{
		id:       id,
		listen:   opts.Listen,
		bus:      bus,
		logger:   logger,
		notifier: systemd.NewNotifier(id, logging.GetLogger("systemd")),
	}

	sinks := stall.Sinks{
		stall.NewLogSink(logging.GetLogger("stall").With("process_id", id)),
		stall.NewEventSink(bus, id),
		s.notifier,
	}
	sinks = append(sinks, opts.Sinks...)

	monitorOpts := &stall.Options{
		Enabled:   opts.StallDetect,
		Interval:  opts.StallInterval,
		Sink:      sinks,
		ProcessID: id,
	}
	if opts.Alarm != nil {
		s.monitor = stall.NewMonitor(monitorOpts, opts.Alarm)
	} else {
		s.monitor = stall.NewDefaultMonitor(monitorOpts)
	}

	procOpts := process.Options{
		ID:              id,
		Args:            opts.Args,
		Command:         opts.Command,
		Dir:             opts.Dir,
		Env:             opts.Env,
		Output:          process.MultiOutput{process.OutputFunc(s.countActivity), s.monitor},
		GracefulTimeout: opts.GracefulTimeout,
		OnStart:         s.started,
		OnExit:          s.exited,
	}
	if opts.Passthrough {
		procOpts.Stdout = os.Stdout
		procOpts.Stderr = os.Stderr
	}
	s.proc = process.New(procOpts)
	s.proc.SetLogParser(logging.GetLogger("child").With("process_id", id), nil)

	if opts.Listen != "" {
		s.server = api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			EventBus:          bus,
			Source:            s,
			PrometheusHandler: exporters.HTTPHandler(),
		})
	}

	return s, nil
}

// Bus returns the session event bus.
func (s *Session) Bus() *events.Bus {
	return s.bus
}

// Monitor returns the stall monitor.
func (s *Session) Monitor() *stall.Monitor {
	return s.monitor
}

// Addr returns the status server address once Run has started listening.
func (s *Session) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ProcessInfo implements api.StatusSource.
func (s *Session) ProcessInfo() process.Info {
	return s.proc.Info()
}

// MonitorStatus implements api.StatusSource.
func (s *Session) MonitorStatus() stall.Status {
	return s.monitor.Status()
}

// Listen binds the status server address so Addr is known before Run.
// Run calls it when needed.
func (s *Session) Listen() error {
	if s.server == nil || s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Run starts the status server and the child, blocks until the child
// exits, and returns its exit code.
func (s *Session) Run(ctx context.Context) int {
	if s.server != nil {
		if err := s.Listen(); err != nil {
			s.logger.Error("Failed to start status server", "addr", s.listen, "error", err)
			return process.ExitCodeStartFailure
		}

		logging.SetLogCallback(func(entry logging.LogEntry) {
			s.bus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})
		defer logging.SetLogCallback(nil)

		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := s.server.Serve(s.listener); err != nil {
				s.logger.Error("Status server failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
			defer cancel()
			if err := s.server.Stop(stopCtx); err != nil {
				s.logger.Warn("Status server shutdown failed", "error", err)
			}
			<-served
		}()
	}

	defer metrics.Delete(s.id)

	return s.proc.Run(ctx)
}

func (s *Session) started(pid int) {
	metrics.SetProcessRunning(s.id, true)
	s.bus.Publish(events.ProcessStartedEvent{
		ProcessID: s.id,
		PID:       pid,
		Command:   s.proc.CommandLine(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
	s.monitor.Initialize()
	s.notifier.Ready(pid)
}

func (s *Session) exited(exitCode int, err error) {
	s.monitor.Dispose()
	metrics.SetProcessRunning(s.id, false)

	ev := events.ProcessExitedEvent{
		ProcessID: s.id,
		ExitCode:  exitCode,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(ev)
	s.notifier.Stopping(exitCode)
}

func (s *Session) countActivity(_, _ string) {
	metrics.RecordActivity(s.id, time.Now())
}
