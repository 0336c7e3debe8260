package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/stallwatch/internal/logging"
)

// ErrEmptyCommand is returned when neither Args nor Command name a program.
var ErrEmptyCommand = errors.New("empty command")

// Exit codes reported by Run when the child did not produce its own.
const (
	ExitCodeStartFailure = 1
	ExitCodeKilled       = 137
)

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// OutputFunc adapts a function to OutputHandler.
type OutputFunc func(source, line string)

// HandleLine implements OutputHandler.
func (f OutputFunc) HandleLine(source, line string) { f(source, line) }

// MultiOutput delivers each line to every handler in order.
type MultiOutput []OutputHandler

// HandleLine implements OutputHandler.
func (m MultiOutput) HandleLine(source, line string) {
	for _, h := range m {
		if h != nil {
			h.HandleLine(source, line)
		}
	}
}

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// Options configures a Process.
type Options struct {
	// ID labels logs, events and metrics.
	ID string

	// Args is the argv of the child. Takes precedence over Command.
	Args []string

	// Command is a shell-like command string, split with quote handling.
	Command string

	Dir string
	Env []string

	// Output receives every stdout/stderr line.
	Output OutputHandler

	// Stdout and Stderr, when set, receive a copy of each line.
	Stdout io.Writer
	Stderr io.Writer

	// GracefulTimeout is how long to wait after SIGINT before SIGKILL. Default 5s.
	GracefulTimeout time.Duration

	OnStart func(pid int)
	OnExit  func(exitCode int, err error)

	Logger logging.Logger
}

// Process manages the lifecycle of a single subprocess.
type Process struct {
	id              string
	args            []string
	command         string
	dir             string
	env             []string
	cmd             *exec.Cmd
	logger          logging.Logger
	processLogger   logging.Logger // logger for process output (nil = use logger)
	logParser       LogParser      // parses process output for log level (nil = no parsing)
	outputHandler   OutputHandler
	stdout          io.Writer
	stderr          io.Writer
	writeMu         sync.Mutex
	onStart         func(pid int)
	onExit          func(exitCode int, err error)
	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after Kill() before giving up

	stateMu sync.RWMutex
	info    Info
}

// New creates a process from opts. The child is not started until Run.
func New(opts Options) *Process {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("process").With("process_id", opts.ID)
	}
	graceful := opts.GracefulTimeout
	if graceful <= 0 {
		graceful = 5 * time.Second
	}
	return &Process{
		id:              opts.ID,
		args:            opts.Args,
		command:         opts.Command,
		dir:             opts.Dir,
		env:             opts.Env,
		logger:          logger,
		outputHandler:   opts.Output,
		stdout:          opts.Stdout,
		stderr:          opts.Stderr,
		onStart:         opts.OnStart,
		onExit:          opts.OnExit,
		gracefulTimeout: graceful,
		killTimeout:     5 * time.Second,
		info:            Info{ID: opts.ID, State: StateIdle},
	}
}

// CommandLine returns the command as it will be executed.
func (p *Process) CommandLine() string {
	if len(p.args) > 0 {
		return strings.Join(p.args, " ")
	}
	return strings.TrimSpace(p.command)
}

// SetLogParser sets a custom logger and log parser for process output.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.info
}

// Running reports whether the child is currently running.
func (p *Process) Running() bool {
	return p.Info().State == StateRunning
}

// runningProcess holds channels for monitoring a running subprocess.
type runningProcess struct {
	processDone <-chan error
}

func (p *Process) argv() ([]string, error) {
	if len(p.args) > 0 {
		return p.args, nil
	}
	args, err := parseCommand(p.command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return args, nil
}

// startProcess starts the subprocess and returns a channel reporting its exit.
func (p *Process) startProcess(args []string) (*runningProcess, error) {
	p.cmd = exec.Command(args[0], args[1:]...)
	p.cmd.Dir = p.dir
	if len(p.env) > 0 {
		p.cmd.Env = append(os.Environ(), p.env...)
	}
	p.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", args[0], err)
	}

	outputDone := make(chan struct{}, 2)
	go func() {
		p.streamOutput(stdout, "stdout", p.stdout)
		outputDone <- struct{}{}
	}()
	go func() {
		p.streamOutput(stderr, "stderr", p.stderr)
		outputDone <- struct{}{}
	}()

	// Pipes must be drained before Wait closes them
	processDone := make(chan error, 1)
	go func() {
		<-outputDone
		<-outputDone
		processDone <- p.cmd.Wait()
	}()

	return &runningProcess{processDone: processDone}, nil
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError (128+signal when
// the child died from a signal), or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return ExitCodeStartFailure
}

// Run starts the subprocess and blocks until it exits, ctx is cancelled, or
// a SIGINT/SIGTERM is received. Returns the exit code of the subprocess.
func (p *Process) Run(ctx context.Context) int {
	args, err := p.argv()
	if err != nil {
		p.logger.Error("Invalid command", "error", err)
		return p.finish(ExitCodeStartFailure, err)
	}

	p.setState(StateStarting, func(i *Info) { i.Command = strings.Join(args, " ") })

	rp, err := p.startProcess(args)
	if err != nil {
		p.logger.Error("Failed to start process", "error", err, "command", p.CommandLine())
		return p.finish(ExitCodeStartFailure, err)
	}

	pid := p.cmd.Process.Pid
	p.setState(StateRunning, func(i *Info) {
		i.PID = pid
		i.StartedAt = time.Now()
	})
	p.logger.Info("Process started", "pid", pid, "command", p.CommandLine())
	if p.onStart != nil {
		p.onStart(pid)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		p.logger.Info("Context cancelled, shutting down process")
		p.sendStopSignal()
		return p.finish(p.waitForExit(rp.processDone, p.gracefulTimeout), nil)
	case sig := <-sigChan:
		p.logger.Info("Received shutdown signal", "signal", sig.String())
		p.sendStopSignal()
		return p.finish(p.waitForExit(rp.processDone, p.gracefulTimeout), nil)
	case processErr := <-rp.processDone:
		exitCode := exitCodeFromError(processErr)
		var exitErr *exec.ExitError
		if processErr != nil && !errors.As(processErr, &exitErr) {
			p.logger.Error("Process exited with error", "error", processErr)
		} else {
			processErr = nil
		}
		p.logger.Info("Process exited", "exit_code", exitCode)
		return p.finish(exitCode, processErr)
	}
}

// finish records the exit and runs the exit hook.
func (p *Process) finish(exitCode int, err error) int {
	state := StateExited
	if err != nil {
		state = StateError
	}
	p.setState(state, func(i *Info) {
		i.ExitCode = exitCode
		i.ExitedAt = time.Now()
		i.LastError = err
	})
	if p.onExit != nil {
		p.onExit(exitCode, err)
	}
	return exitCode
}

func (p *Process) setState(state State, update func(*Info)) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.info.State = state
	if update != nil {
		update(&p.info)
	}
}

// sendStopSignal sends SIGINT to the child's process group without waiting.
func (p *Process) sendStopSignal() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	p.setState(StateStopping, nil)
	pid := p.cmd.Process.Pid
	p.logger.Info("Sending SIGINT to process", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}
}

// waitForExit waits for the process to exit with a timeout, force-killing if needed.
func (p *Process) waitForExit(processDone <-chan error, timeout time.Duration) int {
	select {
	case err := <-processDone:
		return exitCodeFromError(err)
	case <-time.After(timeout):
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", timeout)
		if p.cmd.Process != nil {
			if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				p.logger.Error("Failed to kill process", "error", err)
			}
		}
		select {
		case <-processDone:
		case <-time.After(p.killTimeout):
			p.logger.Error("Process did not exit after kill signal")
		}
		return ExitCodeKilled
	}
}

// maxLineSize bounds a delivered line. Longer lines are split into pieces
// of this size so the pipe keeps draining and each piece counts as output.
const maxLineSize = 1024 * 1024

// streamOutput reads lines from the child, hands them to the output
// handler, copies them to mirror and logs them. It reads until EOF.
func (p *Process) streamOutput(reader io.Reader, source string, mirror io.Writer) {
	br := bufio.NewReaderSize(reader, 64*1024)
	var line []byte

	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				p.emitLine(source, string(line), mirror)
			}
			if !errors.Is(err, io.EOF) {
				p.logger.Warn("Error reading output", "source", source, "error", err)
			}
			return
		}

		line = append(line, chunk...)
		if isPrefix && len(line) < maxLineSize {
			continue
		}
		p.emitLine(source, string(line), mirror)
		line = line[:0]
	}
}

func (p *Process) emitLine(source, line string, mirror io.Writer) {
	if p.outputHandler != nil {
		p.outputHandler.HandleLine(source, line)
	}

	if mirror != nil {
		p.writeMu.Lock()
		_, _ = fmt.Fprintln(mirror, line)
		p.writeMu.Unlock()
	}

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	level, msg := "debug", line
	if p.logParser != nil {
		level, msg = p.logParser(line)
	}

	switch level {
	case "fatal", "error":
		logger.Error(msg, "source", source)
	case "warning", "warn":
		logger.Warn(msg, "source", source)
	case "info":
		logger.Info(msg, "source", source)
	default:
		logger.Debug(msg, "source", source)
	}
}

// parseCommand parses a command string into arguments.
// Handles quoted strings and basic escaping.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	hasArg := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				hasArg = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case (r == ' ' || r == '\t') && !inQuote:
			if hasArg {
				args = append(args, current.String())
				current.Reset()
				hasArg = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			hasArg = true
		default:
			current.WriteRune(r)
			hasArg = true
		}
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	if hasArg {
		args = append(args, current.String())
	}

	return args, nil
}
