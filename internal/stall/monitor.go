package stall

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/stallwatch/internal/logging"
	"github.com/smazurov/stallwatch/internal/metrics"
)

// DefaultInterval is the stall interval used when Options.Interval is zero.
const DefaultInterval = 30 * time.Minute

// WarningSink receives stall warnings. Delivery is fire-and-forget.
type WarningSink interface {
	Warning(message string)
}

// Activity is a single observation of output on the monitored stream.
// Only its arrival matters to the Monitor.
type Activity struct {
	Source string
	Line   string
	At     time.Time
}

// Options configures a new Monitor.
type Options struct {
	// Enabled is the resolved feature gate. A disabled monitor is inert.
	Enabled bool

	// Interval between warnings while stalled. Zero means DefaultInterval.
	Interval time.Duration

	// Sink receives warnings. A nil sink disables the monitor.
	Sink WarningSink

	// ProcessID labels logs and metrics.
	ProcessID string

	// Logger for monitor diagnostics. If nil, uses the "stall" module logger.
	Logger logging.Logger
}

// Status is a point-in-time view of a Monitor.
type Status struct {
	Enabled          bool
	Armed            bool
	Disposed         bool
	Interval         time.Duration
	StalledIntervals int
	StalledFor       time.Duration
	LastActivity     time.Time
}

// Monitor warns when the monitored stream stays silent for a full interval,
// and keeps warning every interval until activity resumes.
type Monitor struct {
	enabled   bool
	processID string
	interval  time.Duration
	alarm     Alarm
	sink      WarningSink
	logger    logging.Logger
	now       func() time.Time

	mu               sync.Mutex
	stalledIntervals int
	lastReset        time.Time
	armed            bool
	disposed         bool
}

// NewMonitor creates a monitor driving the given alarm. The alarm is owned
// by the monitor from here on and is released by Dispose.
// The alarm is neither wired nor started when the monitor is disabled.
func NewMonitor(opts *Options, alarm Alarm) *Monitor {
	if opts == nil || !opts.Enabled || opts.Sink == nil || alarm == nil {
		return &Monitor{}
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("stall").With("process_id", opts.ProcessID)
	}

	m := &Monitor{
		enabled:   true,
		processID: opts.ProcessID,
		interval:  interval,
		alarm:     alarm,
		sink:      opts.Sink,
		logger:    logger,
		now:       time.Now,
	}

	alarm.OnFire(m.fire)
	alarm.SetAutoRepeat(true)
	alarm.SetInterval(interval)

	return m
}

// NewDefaultMonitor creates a monitor backed by a TimerAlarm.
func NewDefaultMonitor(opts *Options) *Monitor {
	if opts == nil || !opts.Enabled || opts.Sink == nil {
		return NewMonitor(opts, nil)
	}
	return NewMonitor(opts, NewTimerAlarm())
}

// Enabled reports whether stall detection is active for this monitor.
func (m *Monitor) Enabled() bool {
	return m.enabled
}

// Initialize arms the monitor as if the process had just produced output,
// so the first window starts at process start.
func (m *Monitor) Initialize() {
	if !m.enabled {
		return
	}
	m.logger.Info("Stall detection armed", "interval", m.interval)
	m.reset()
}

// OnActivity restarts the full stall window.
func (m *Monitor) OnActivity(_ Activity) {
	if !m.enabled {
		return
	}
	m.reset()
}

// HandleLine implements process.OutputHandler.
func (m *Monitor) HandleLine(source, line string) {
	if !m.enabled {
		return
	}
	m.OnActivity(Activity{Source: source, Line: line, At: m.now()})
}

// Dispose releases the alarm. It never fails and is safe to call repeatedly.
func (m *Monitor) Dispose() {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.armed = false
	m.mu.Unlock()

	m.releaseAlarm()
}

// Stalled reports whether at least one interval elapsed since the last activity.
func (m *Monitor) Stalled() bool {
	if !m.enabled {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalledIntervals > 0
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() Status {
	if !m.enabled {
		return Status{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Enabled:          true,
		Armed:            m.armed,
		Disposed:         m.disposed,
		Interval:         m.interval,
		StalledIntervals: m.stalledIntervals,
		StalledFor:       time.Duration(m.stalledIntervals) * m.interval,
		LastActivity:     m.lastReset,
	}
}

// reset zeroes the stall counter and restarts the alarm so the next firing
// is a full interval away.
func (m *Monitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}

	if m.stalledIntervals > 0 {
		m.logger.Info("Output resumed", "stalled_for", time.Duration(m.stalledIntervals)*m.interval)
	}

	m.stalledIntervals = 0
	m.armed = true
	m.alarm.Stop()
	// Stamped after Stop: a firing that got past Stop carries an earlier or equal time.
	m.lastReset = m.now()
	m.alarm.Start()

	metrics.SetStallIntervals(m.processID, 0)
}

// fire is the alarm callback.
func (m *Monitor) fire(firedAt time.Time) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	// A firing not after the latest reset lost the race with OnActivity.
	if m.disposed || !m.armed || !firedAt.After(m.lastReset) {
		m.mu.Unlock()
		return
	}
	m.stalledIntervals++
	count := m.stalledIntervals
	metrics.SetStallIntervals(m.processID, count)
	m.mu.Unlock()

	metrics.IncStallWarnings(m.processID)

	m.sink.Warning(Message(time.Duration(count) * m.interval))
}

func (m *Monitor) releaseAlarm() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Debug("Alarm release panicked", "panic", r)
		}
	}()
	if err := m.alarm.Close(); err != nil {
		m.logger.Debug("Alarm release failed", "error", err)
	}
}

// Message renders the warning for a stall of the given length.
func Message(stalledFor time.Duration) string {
	minutes := strconv.FormatFloat(stalledFor.Minutes(), 'f', -1, 64)
	return fmt.Sprintf("No output has been detected in the last %s minutes and the process has not yet exited. "+
		"This step may have stalled and might require some investigation.", minutes)
}
