package stall

import (
	"errors"
	"sync"
	"time"
)

// ErrAlarmClosed is returned when closing an alarm that is already closed.
var ErrAlarmClosed = errors.New("alarm already closed")

// Alarm is a periodic timer driven by the Monitor.
// Implementations must deliver firings on their own goroutine and must
// tolerate Stop/Start being called from inside the OnFire callback's caller.
type Alarm interface {
	// Start arms the alarm. The first firing happens one interval later.
	Start()

	// Stop disarms the alarm. Pending firings are dropped.
	Stop()

	// SetInterval sets the firing period.
	SetInterval(d time.Duration)

	// SetAutoRepeat controls whether the alarm re-arms after each firing.
	SetAutoRepeat(repeat bool)

	// OnFire registers the firing callback. firedAt is the instant the
	// interval elapsed, captured before the callback is scheduled.
	OnFire(callback func(firedAt time.Time))

	// Close releases the alarm. The alarm is unusable afterwards.
	Close() error
}

// TimerAlarm is the default Alarm built on time.AfterFunc.
type TimerAlarm struct {
	mu         sync.Mutex
	interval   time.Duration
	autoRepeat bool
	callback   func(firedAt time.Time)
	timer      *time.Timer
	generation uint64
	running    bool
	closed     bool
}

// NewTimerAlarm creates a stopped, non-repeating TimerAlarm.
func NewTimerAlarm() *TimerAlarm {
	return &TimerAlarm{}
}

// Start implements Alarm.
func (a *TimerAlarm) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.running || a.interval <= 0 {
		return
	}
	a.running = true
	a.schedule()
}

// Stop implements Alarm.
func (a *TimerAlarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// SetInterval implements Alarm.
func (a *TimerAlarm) SetInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interval = d
}

// SetAutoRepeat implements Alarm.
func (a *TimerAlarm) SetAutoRepeat(repeat bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoRepeat = repeat
}

// OnFire implements Alarm.
func (a *TimerAlarm) OnFire(callback func(firedAt time.Time)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = callback
}

// Close implements Alarm.
func (a *TimerAlarm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAlarmClosed
	}
	a.stopLocked()
	a.closed = true
	a.callback = nil
	return nil
}

// Running reports whether the alarm is armed.
func (a *TimerAlarm) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// schedule arms a new timer for the current generation (must hold lock).
func (a *TimerAlarm) schedule() {
	a.generation++
	gen := a.generation
	a.timer = time.AfterFunc(a.interval, func() {
		a.elapsed(gen, time.Now())
	})
}

func (a *TimerAlarm) stopLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.running = false
	a.generation++
}

// elapsed runs on the timer goroutine. The callback is invoked without
// holding the lock so it may call back into Stop/Start.
func (a *TimerAlarm) elapsed(gen uint64, firedAt time.Time) {
	a.mu.Lock()
	if !a.running || gen != a.generation {
		a.mu.Unlock()
		return
	}
	if a.autoRepeat {
		a.schedule()
	} else {
		a.running = false
		a.timer = nil
	}
	callback := a.callback
	a.mu.Unlock()

	if callback != nil {
		callback(firedAt)
	}
}
