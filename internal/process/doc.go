// Package process runs and supervises a single child process.
//
// Process wraps os/exec:
//   - Command from an argv slice or a quoted command string
//   - Child runs in its own process group
//   - Line-by-line stdout/stderr delivery to an OutputHandler
//   - Graceful shutdown with SIGINT and a configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out (exit code 137)
//   - OnStart/OnExit hooks and a State snapshot for status reporting
//
// Example:
//
//	p := process.New(process.Options{
//	    ID:     "build",
//	    Args:   []string{"make", "test"},
//	    Output: monitor,
//	    OnExit: func(code int, err error) { log.Printf("exit %d", code) },
//	})
//	os.Exit(p.Run(ctx))
package process
