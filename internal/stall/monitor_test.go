package stall

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/smazurov/stallwatch/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAlarm is fired by hand.
type fakeAlarm struct {
	mu         sync.Mutex
	interval   time.Duration
	autoRepeat bool
	callback   func(time.Time)
	running    bool
	starts     int
	stops      int
	closes     int
	closeErr   error
	closePanic bool

	// onStop runs after Stop with the registered callback, modelling a
	// timer that elapses while it is being stopped.
	onStop func(callback func(time.Time))
}

func (a *fakeAlarm) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	a.running = true
}

func (a *fakeAlarm) Stop() {
	a.mu.Lock()
	a.stops++
	a.running = false
	onStop, cb := a.onStop, a.callback
	a.mu.Unlock()
	if onStop != nil && cb != nil {
		onStop(cb)
	}
}

func (a *fakeAlarm) SetInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interval = d
}

func (a *fakeAlarm) SetAutoRepeat(repeat bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoRepeat = repeat
}

func (a *fakeAlarm) OnFire(callback func(time.Time)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = callback
}

func (a *fakeAlarm) Close() error {
	a.mu.Lock()
	a.closes++
	panics, err := a.closePanic, a.closeErr
	a.mu.Unlock()
	if panics {
		panic("close exploded")
	}
	return err
}

// fire delivers a firing stamped at firedAt if the alarm is running.
func (a *fakeAlarm) fire(firedAt time.Time) {
	a.mu.Lock()
	cb, running := a.callback, a.running
	a.mu.Unlock()
	if running && cb != nil {
		cb(firedAt)
	}
}

func (a *fakeAlarm) counts() (starts, stops, closes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops, a.closes
}

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSink) Warning(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *recordingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type harness struct {
	monitor *Monitor
	alarm   *fakeAlarm
	sink    *recordingSink
	clock   *fakeClock
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()
	h := &harness{
		alarm: &fakeAlarm{},
		sink:  &recordingSink{},
		clock: &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	h.monitor = NewMonitor(&Options{
		Enabled:   true,
		Interval:  interval,
		Sink:      h.sink,
		ProcessID: t.Name(),
	}, h.alarm)
	require.True(t, h.monitor.Enabled())
	h.monitor.now = h.clock.Now
	return h
}

// tick advances the clock by one interval and fires the alarm.
func (h *harness) tick(d time.Duration) {
	h.alarm.fire(h.clock.Advance(d))
}

func TestNewMonitorConfiguresAlarm(t *testing.T) {
	h := newHarness(t, time.Second)

	assert.Equal(t, time.Second, h.alarm.interval)
	assert.True(t, h.alarm.autoRepeat)
	assert.NotNil(t, h.alarm.callback)

	starts, _, _ := h.alarm.counts()
	assert.Zero(t, starts, "alarm must not start before Initialize")
}

func TestNewMonitorDefaultInterval(t *testing.T) {
	h := newHarness(t, 0)
	assert.Equal(t, DefaultInterval, h.alarm.interval)
	assert.Equal(t, DefaultInterval, h.monitor.Status().Interval)
}

func TestNoWarningWhileActive(t *testing.T) {
	const interval = time.Second
	h := newHarness(t, interval)
	h.monitor.Initialize()

	for range 50 {
		h.clock.Advance(interval - time.Millisecond)
		h.monitor.OnActivity(Activity{Source: "stdout"})
	}

	assert.Empty(t, h.sink.Messages())
	assert.False(t, h.monitor.Stalled())
}

func TestWarnsOncePerStalledInterval(t *testing.T) {
	const interval = time.Second
	h := newHarness(t, interval)
	h.monitor.Initialize()

	for range 3 {
		h.tick(interval)
	}

	assert.Equal(t, []string{
		Message(1 * interval),
		Message(2 * interval),
		Message(3 * interval),
	}, h.sink.Messages())

	status := h.monitor.Status()
	assert.Equal(t, 3, status.StalledIntervals)
	assert.Equal(t, 3*interval, status.StalledFor)
	assert.True(t, h.monitor.Stalled())
}

func TestActivityRestartsFullWindow(t *testing.T) {
	const interval = time.Second
	h := newHarness(t, interval)
	h.monitor.Initialize()

	h.tick(interval)
	h.tick(interval)
	require.Len(t, h.sink.Messages(), 2)

	h.clock.Advance(interval / 2)
	h.monitor.HandleLine("stdout", "still here")
	assert.False(t, h.monitor.Stalled())
	assert.Equal(t, h.clock.Now(), h.monitor.Status().LastActivity, "line activity uses the monitor clock")

	starts, stops, _ := h.alarm.counts()
	assert.Equal(t, 2, starts, "activity must restart the alarm")
	assert.Equal(t, 2, stops)

	h.tick(interval)
	msgs := h.sink.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Message(interval), msgs[2], "count restarts after activity")
}

// Timeline: initialize at 0, warnings at 1000 and 2000, activity at 2500,
// nothing until 3500.
func TestScenarioOneSecondInterval(t *testing.T) {
	const interval = 1000 * time.Millisecond
	h := newHarness(t, interval)

	h.monitor.Initialize()
	h.tick(1000 * time.Millisecond)
	h.tick(1000 * time.Millisecond)

	msgs := h.sink.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "in the last 0.016666666666666666 minutes")
	assert.Contains(t, msgs[1], "in the last 0.03333333333333333 minutes")

	h.clock.Advance(500 * time.Millisecond)
	h.monitor.OnActivity(Activity{})

	// A firing stamped before the reset is the old timer losing the race.
	h.alarm.fire(h.clock.Now().Add(-time.Millisecond))
	assert.Len(t, h.sink.Messages(), 2)

	h.tick(1000 * time.Millisecond)
	msgs = h.sink.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Message(interval), msgs[2])
}

func TestStaleFiringDropped(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.monitor.Initialize()

	scheduled := h.clock.Advance(time.Minute)
	h.clock.Advance(time.Nanosecond)
	h.monitor.OnActivity(Activity{})

	h.alarm.fire(scheduled)
	assert.Empty(t, h.sink.Messages())
	assert.Zero(t, h.monitor.Status().StalledIntervals)
}

func TestFiringDuringResetDropped(t *testing.T) {
	const interval = time.Hour

	tests := []struct {
		name      string
		wallClock bool
	}{
		{"fake clock", false},
		{"wall clock", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, interval)
			now := h.clock.Now
			if tt.wallClock {
				now = time.Now
				h.monitor.now = time.Now
			}
			h.monitor.Initialize()
			h.clock.Advance(interval)

			var wg sync.WaitGroup
			h.alarm.mu.Lock()
			h.alarm.onStop = func(cb func(time.Time)) {
				firedAt := now()
				wg.Add(1)
				go func() {
					defer wg.Done()
					cb(firedAt)
				}()
			}
			h.alarm.mu.Unlock()

			h.monitor.OnActivity(Activity{Source: "stdout"})
			wg.Wait()

			assert.Empty(t, h.sink.Messages())
			assert.Zero(t, h.monitor.Status().StalledIntervals)
		})
	}
}

func TestFiringBeforeInitializeIgnored(t *testing.T) {
	h := newHarness(t, time.Minute)

	h.alarm.mu.Lock()
	cb := h.alarm.callback
	h.alarm.mu.Unlock()
	cb(h.clock.Advance(time.Minute))

	assert.Empty(t, h.sink.Messages())
}

func TestDisabledMonitorIsInert(t *testing.T) {
	tests := []struct {
		name string
		opts *Options
	}{
		{"nil options", nil},
		{"gate off", &Options{Enabled: false, Interval: time.Second, Sink: &recordingSink{}}},
		{"nil sink", &Options{Enabled: true, Interval: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alarm := &fakeAlarm{}
			m := NewMonitor(tt.opts, alarm)

			assert.False(t, m.Enabled())
			assert.Nil(t, alarm.callback, "disabled monitor must not wire the alarm")

			m.Initialize()
			m.OnActivity(Activity{})
			m.HandleLine("stderr", "x")
			alarm.fire(time.Now())
			m.Dispose()
			m.Dispose()

			starts, stops, closes := alarm.counts()
			assert.Zero(t, starts)
			assert.Zero(t, stops)
			assert.Zero(t, closes)
			assert.False(t, m.Stalled())
			assert.Equal(t, Status{}, m.Status())
		})
	}
}

func TestNilAlarmDisables(t *testing.T) {
	m := NewMonitor(&Options{Enabled: true, Sink: &recordingSink{}}, nil)
	assert.False(t, m.Enabled())
	assert.NotPanics(t, func() {
		m.Initialize()
		m.OnActivity(Activity{})
		m.Dispose()
	})
}

func TestDisposeIsIdempotent(t *testing.T) {
	h := newHarness(t, time.Second)
	h.monitor.Initialize()

	h.monitor.Dispose()
	h.monitor.Dispose()

	_, _, closes := h.alarm.counts()
	assert.Equal(t, 1, closes)

	status := h.monitor.Status()
	assert.True(t, status.Disposed)
	assert.False(t, status.Armed)

	h.tick(time.Second)
	h.monitor.OnActivity(Activity{})
	assert.Empty(t, h.sink.Messages())
}

func TestDisposeWithoutInitialize(t *testing.T) {
	h := newHarness(t, time.Second)
	assert.NotPanics(t, h.monitor.Dispose)
}

func TestDisposeSwallowsAlarmFailures(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		h := newHarness(t, time.Second)
		h.alarm.closeErr = errors.New("release failed")
		h.monitor.Initialize()
		assert.NotPanics(t, h.monitor.Dispose)
	})

	t.Run("panic", func(t *testing.T) {
		h := newHarness(t, time.Second)
		h.alarm.closePanic = true
		h.monitor.Initialize()
		assert.NotPanics(t, h.monitor.Dispose)
		assert.NotPanics(t, h.monitor.Dispose)
	})
}

func TestDisposeConcurrentWithFiring(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.monitor.Initialize()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			h.tick(time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		h.monitor.Dispose()
	}()
	wg.Wait()

	count := len(h.sink.Messages())
	h.tick(time.Millisecond)
	assert.Len(t, h.sink.Messages(), count, "no warnings after dispose")
}

func TestConcurrentActivity(t *testing.T) {
	h := newHarness(t, time.Second)
	h.monitor.Initialize()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					h.monitor.OnActivity(Activity{})
				} else {
					_ = h.monitor.Status()
				}
			}
		}()
	}
	wg.Wait()

	assert.False(t, h.monitor.Stalled())
}

func TestStallGaugeFollowsMonitor(t *testing.T) {
	const interval = time.Second
	h := newHarness(t, interval)
	h.monitor.now = time.Now
	h.monitor.Initialize()
	t.Cleanup(func() { metrics.Delete(t.Name()) })

	for range 200 {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.alarm.fire(time.Now().Add(interval))
		}()
		go func() {
			defer wg.Done()
			h.monitor.OnActivity(Activity{})
		}()
		wg.Wait()

		got := metrics.Get(t.Name())
		require.NotNil(t, got)
		require.Equal(t, h.monitor.Status().StalledIntervals, got.StallIntervals,
			"gauge must match the monitor after racing fire and reset")
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		stalled time.Duration
		minutes string
	}{
		{30 * time.Minute, "30"},
		{60 * time.Minute, "60"},
		{90 * time.Second, "1.5"},
		{time.Second, "0.016666666666666666"},
	}
	for _, tt := range tests {
		want := "No output has been detected in the last " + tt.minutes +
			" minutes and the process has not yet exited. This step may have stalled and might require some investigation."
		assert.Equal(t, want, Message(tt.stalled))
	}
}

func TestDefaultMonitorWithTimerAlarm(t *testing.T) {
	sink := &recordingSink{}
	m := NewDefaultMonitor(&Options{
		Enabled:   true,
		Interval:  20 * time.Millisecond,
		Sink:      sink,
		ProcessID: "timer",
	})
	defer m.Dispose()

	m.Initialize()
	require.Eventually(t, func() bool {
		return len(sink.Messages()) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	msgs := sink.Messages()
	assert.Equal(t, Message(20*time.Millisecond), msgs[0])
	assert.Equal(t, Message(40*time.Millisecond), msgs[1])
}

func TestDefaultMonitorDisabled(t *testing.T) {
	m := NewDefaultMonitor(&Options{Enabled: false, Sink: &recordingSink{}})
	assert.False(t, m.Enabled())
	m.Initialize()
	m.Dispose()
}
