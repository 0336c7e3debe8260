package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcess creates a Process with short timeouts for testing.
func newTestProcess(command string) *Process {
	p := New(Options{ID: "test", Command: command, Logger: testLogger()})
	p.gracefulTimeout = 100 * time.Millisecond
	p.killTimeout = 100 * time.Millisecond
	return p
}

// runAsync runs Run in a goroutine and returns an exit code channel.
func runAsync(ctx context.Context, p *Process) <-chan int {
	done := make(chan int, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	return done
}

// waitForExit waits for exit code with timeout, fails test on timeout.
func waitForExit(t *testing.T, done <-chan int, timeout time.Duration) int {
	t.Helper()
	select {
	case exitCode := <-done:
		return exitCode
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
		return -1
	}
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) HandleLine(source, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, source+":"+line)
}

func (r *lineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestGracefulShutdown(t *testing.T) {
	// Process that handles SIGINT
	p := newTestProcess(`sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.1; done"`)
	p.gracefulTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)
	time.Sleep(100 * time.Millisecond)
	cancel()

	if exitCode := waitForExit(t, done, time.Second); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
	if state := p.Info().State; state != StateExited {
		t.Errorf("State = %q, want %q", state, StateExited)
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	// Process that ignores SIGINT
	p := newTestProcess(`sh -c "trap '' INT; sleep 10"`)
	p.gracefulTimeout = 50 * time.Millisecond
	p.killTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)
	time.Sleep(50 * time.Millisecond)
	cancel()

	if exitCode := waitForExit(t, done, time.Second); exitCode != ExitCodeKilled {
		t.Errorf("expected exit code %d, got %d", ExitCodeKilled, exitCode)
	}
}

func TestContextCancellation(t *testing.T) {
	p := newTestProcess("sleep 10")

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	cancel()
	exitCode := waitForExit(t, done, 500*time.Millisecond)

	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("shutdown took too long: %v", elapsed)
	}
	// sleep dies from SIGINT
	if exitCode != 130 {
		t.Errorf("expected exit code 130, got %d", exitCode)
	}
}

func TestProcessAlreadyExited(t *testing.T) {
	p := newTestProcess("true")

	if exitCode := p.Run(context.Background()); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
	p.sendStopSignal() // Should not panic, process already exited
}

func TestProcessExitWithError(t *testing.T) {
	p := newTestProcess("sh -c 'exit 42'")
	if exitCode := p.Run(context.Background()); exitCode != 42 {
		t.Errorf("expected exit code 42, got %d", exitCode)
	}
	info := p.Info()
	if info.State != StateExited || info.ExitCode != 42 || info.LastError != nil {
		t.Errorf("Info() = %+v, want exited with code 42 and no error", info)
	}
}

func TestRunWithInvalidCommand(t *testing.T) {
	p := newTestProcess(`echo "unclosed`)
	if exitCode := p.Run(context.Background()); exitCode != ExitCodeStartFailure {
		t.Errorf("expected exit code 1 for parse error, got %d", exitCode)
	}
	if p.Info().State != StateError {
		t.Errorf("State = %q, want %q", p.Info().State, StateError)
	}
}

func TestRunWithEmptyCommand(t *testing.T) {
	var gotErr error
	p := New(Options{
		Command: "   ",
		Logger:  testLogger(),
		OnExit:  func(_ int, err error) { gotErr = err },
	})
	if exitCode := p.Run(context.Background()); exitCode != ExitCodeStartFailure {
		t.Errorf("expected exit code 1 for empty command, got %d", exitCode)
	}
	if !errors.Is(gotErr, ErrEmptyCommand) {
		t.Errorf("OnExit err = %v, want ErrEmptyCommand", gotErr)
	}
}

func TestRunWithNonExistentCommand(t *testing.T) {
	started := false
	p := New(Options{
		Args:    []string{"/nonexistent/command/that/does/not/exist"},
		Logger:  testLogger(),
		OnStart: func(int) { started = true },
	})
	if exitCode := p.Run(context.Background()); exitCode != ExitCodeStartFailure {
		t.Errorf("expected exit code 1 for start error, got %d", exitCode)
	}
	if started {
		t.Error("OnStart must not run when the child fails to start")
	}
	if p.Info().LastError == nil {
		t.Error("expected LastError to be recorded")
	}
}

func TestHooks(t *testing.T) {
	var pid, exitCode int
	exited := false
	p := New(Options{
		Args:    []string{"sh", "-c", "exit 3"},
		Logger:  testLogger(),
		OnStart: func(got int) { pid = got },
		OnExit: func(code int, err error) {
			exited = true
			exitCode = code
			if err != nil {
				t.Errorf("OnExit err = %v, want nil for a normal exit", err)
			}
		},
	})

	p.Run(context.Background())

	if pid <= 0 {
		t.Errorf("OnStart pid = %d, want > 0", pid)
	}
	if !exited || exitCode != 3 {
		t.Errorf("OnExit called=%v code=%d, want true/3", exited, exitCode)
	}
	if p.Info().PID != pid {
		t.Errorf("Info().PID = %d, want %d", p.Info().PID, pid)
	}
}

func TestRunningState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	running := make(chan bool, 1)
	var p *Process
	p = New(Options{
		Args:    []string{"sleep", "10"},
		Logger:  testLogger(),
		OnStart: func(int) { running <- p.Running() },
	})
	p.gracefulTimeout = 100 * time.Millisecond

	if p.Running() {
		t.Fatal("Running() before Run")
	}
	done := runAsync(ctx, p)

	if !<-running {
		t.Error("Running() should be true once started")
	}
	cancel()
	waitForExit(t, done, time.Second)
	if p.Running() {
		t.Error("Running() should be false after exit")
	}
}

func TestOutputHandler(t *testing.T) {
	rec := &lineRecorder{}
	p := New(Options{
		Command: `sh -c "echo line1; echo line2; echo oops 1>&2"`,
		Output:  rec,
		Logger:  testLogger(),
	})

	if exitCode := p.Run(context.Background()); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}

	lines := rec.Lines()
	joined := strings.Join(lines, ",")
	for _, want := range []string{"stdout:line1", "stdout:line2", "stderr:oops"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %v", want, lines)
		}
	}
}

func TestAllOutputDeliveredBeforeExit(t *testing.T) {
	rec := &lineRecorder{}
	var atExit int
	p := New(Options{
		Command: `sh -c "for i in 1 2 3 4 5 6 7 8 9 10; do echo $i; done"`,
		Output:  rec,
		Logger:  testLogger(),
		OnExit:  func(int, error) { atExit = len(rec.Lines()) },
	})

	p.Run(context.Background())

	if atExit != 10 {
		t.Errorf("lines delivered before OnExit = %d, want 10", atExit)
	}
}

func TestOversizedLineKeepsDraining(t *testing.T) {
	const longLine = 3000000

	var mu sync.Mutex
	var pieces []int
	var tail []string
	p := New(Options{
		Args:   []string{"sh", "-c", `head -c 3000000 /dev/zero | tr '\0' a; echo; echo after`},
		Output: OutputFunc(func(_, line string) {
			mu.Lock()
			defer mu.Unlock()
			if line != "" && strings.Trim(line, "a") == "" {
				pieces = append(pieces, len(line))
			} else {
				tail = append(tail, line)
			}
		}),
		Logger: testLogger(),
	})

	done := runAsync(context.Background(), p)
	if exitCode := waitForExit(t, done, 10*time.Second); exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}

	mu.Lock()
	defer mu.Unlock()

	total := 0
	for _, n := range pieces {
		if n > maxLineSize {
			t.Errorf("piece of %d bytes exceeds %d", n, maxLineSize)
		}
		total += n
	}
	if total != longLine {
		t.Errorf("delivered %d bytes of the long line, want %d", total, longLine)
	}
	if len(pieces) < 3 {
		t.Errorf("expected the long line split into at least 3 pieces, got %d", len(pieces))
	}
	if len(tail) != 1 || tail[0] != "after" {
		t.Errorf("lines after the long one = %q, want [after]", tail)
	}
}

func TestStreamOutputFinalLineWithoutNewline(t *testing.T) {
	rec := &lineRecorder{}
	p := New(Options{Output: rec, Logger: testLogger()})

	p.streamOutput(strings.NewReader("one\r\ntwo"), "stdout", nil)

	if got := rec.Lines(); !reflect.DeepEqual(got, []string{"stdout:one", "stdout:two"}) {
		t.Errorf("lines = %q", got)
	}
}

func TestMirrorWriters(t *testing.T) {
	var stdout, stderr bytes.Buffer
	p := New(Options{
		Command: `sh -c "echo out; echo err 1>&2"`,
		Stdout:  &stdout,
		Stderr:  &stderr,
		Logger:  testLogger(),
	})
	p.Run(context.Background())

	if stdout.String() != "out\n" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "out\n")
	}
	if stderr.String() != "err\n" {
		t.Errorf("stderr = %q, want %q", stderr.String(), "err\n")
	}
}

func TestMultiOutput(t *testing.T) {
	a, b := &lineRecorder{}, &lineRecorder{}
	var seen []string
	multi := MultiOutput{a, nil, OutputFunc(func(_, line string) { seen = append(seen, line) }), b}

	multi.HandleLine("stdout", "hello")

	if len(a.Lines()) != 1 || len(b.Lines()) != 1 || len(seen) != 1 {
		t.Errorf("fan-out failed: a=%v b=%v func=%v", a.Lines(), b.Lines(), seen)
	}
}

func TestEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	p := New(Options{
		Args:   []string{"sh", "-c", `echo "$STALLWATCH_TEST_VAR"; pwd`},
		Env:    []string{"STALLWATCH_TEST_VAR=hello"},
		Dir:    dir,
		Stdout: &out,
		Logger: testLogger(),
	})
	p.Run(context.Background())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[0] != "hello" || !strings.HasSuffix(lines[1], strings.TrimPrefix(dir, "/private")) {
		t.Errorf("output = %q", out.String())
	}
}

func TestStreamOutputLogLevels(t *testing.T) {
	cmd := `echo "[error] error message" && echo "[warning] warn message" && echo "plain message"`
	p := newTestProcess("sh -c '" + cmd + "'")
	p.SetLogParser(testLogger(), func(line string) (string, string) {
		if strings.HasPrefix(line, "[") {
			end := strings.Index(line, "]")
			return line[1:end], strings.TrimSpace(line[end+1:])
		}
		return "info", line
	})
	if exitCode := p.Run(context.Background()); exitCode != 0 {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
}

func TestCommandLine(t *testing.T) {
	if got := New(Options{Args: []string{"make", "test"}}).CommandLine(); got != "make test" {
		t.Errorf("CommandLine() = %q", got)
	}
	if got := New(Options{Command: "  go test ./... "}).CommandLine(); got != "go test ./..." {
		t.Errorf("CommandLine() = %q", got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`echo hello\ world`, []string{"echo", "hello world"}},
		{`sh -c "exit 1"`, []string{"sh", "-c", "exit 1"}},
		{`printf '%s' "it's"`, []string{"printf", "%s", "it's"}},
		{"a\tb", []string{"a", "b"}},
		{`echo ""`, []string{"echo", ""}},
		{"", nil},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.in)
		if err != nil {
			t.Errorf("parseCommand(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseCommand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := parseCommand(`echo "unclosed`); err == nil {
		t.Error("expected error for unclosed quote")
	}
}

func TestExitCodeFromError(t *testing.T) {
	if got := exitCodeFromError(nil); got != 0 {
		t.Errorf("nil error -> %d, want 0", got)
	}
	if got := exitCodeFromError(errors.New("wait failed")); got != ExitCodeStartFailure {
		t.Errorf("plain error -> %d, want %d", got, ExitCodeStartFailure)
	}
}
