// Package systemd reports session state to the service manager.
package systemd

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/stallwatch/internal/logging"
)

// Notifier sends sd_notify messages for the supervised child.
// Every method is a no-op when NOTIFY_SOCKET is unset.
type Notifier struct {
	processID string
	logger    logging.Logger

	mu      sync.Mutex
	stopped bool
}

// NewNotifier creates a notifier for processID.
func NewNotifier(processID string, logger logging.Logger) *Notifier {
	return &Notifier{processID: processID, logger: logger}
}

// Enabled reports whether a service manager is listening.
func (n *Notifier) Enabled() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}

// Ready signals that the child is running.
func (n *Notifier) Ready(pid int) {
	n.send(daemon.SdNotifyReady, fmt.Sprintf("STATUS=%s running (pid %d)", n.processID, pid))
}

// Warning implements stall.WarningSink by surfacing the warning as unit status.
func (n *Notifier) Warning(message string) {
	n.send(fmt.Sprintf("STATUS=%s stalled: %s", n.processID, firstLine(message)))
}

// Stopping signals that the child has exited. Later calls are ignored.
func (n *Notifier) Stopping(exitCode int) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.mu.Unlock()

	n.send(daemon.SdNotifyStopping, fmt.Sprintf("STATUS=%s exited with code %d", n.processID, exitCode))
}

func (n *Notifier) send(states ...string) {
	if !n.Enabled() {
		return
	}
	n.mu.Lock()
	stopped := n.stopped
	n.mu.Unlock()
	if stopped && states[0] != daemon.SdNotifyStopping {
		return
	}

	sent, err := daemon.SdNotify(false, strings.Join(states, "\n"))
	if err != nil {
		n.logger.Warn("sd_notify failed", "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", states[0])
	}
}

// STATUS= is a single line
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
