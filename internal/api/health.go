package api

import (
	"errors"
	"fmt"

	"github.com/smazurov/stallwatch/internal/process"
)

var (
	errStalled    = errors.New("no output within the stall interval")
	errNotRunning = errors.New("process is not running")
)

// registerHealthChecks wires the probes. /ready also runs the liveness checks.
func (s *Server) registerHealthChecks() {
	s.health.AddLivenessCheck("output", func() error {
		if s.source == nil {
			return nil
		}
		status := s.source.MonitorStatus()
		if status.StalledIntervals > 0 {
			return fmt.Errorf("%w: %s without output", errStalled, status.StalledFor)
		}
		return nil
	})

	s.health.AddReadinessCheck("process", func() error {
		if s.source == nil {
			return errNotRunning
		}
		info := s.source.ProcessInfo()
		if info.State != process.StateRunning {
			return fmt.Errorf("%w: state %s", errNotRunning, info.State)
		}
		return nil
	})
}
