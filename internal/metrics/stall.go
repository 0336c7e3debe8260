// Package metrics provides Prometheus metrics for monitored processes.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stallIntervals = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stallwatch",
		Name:      "stall_intervals",
		Help:      "Consecutive stall intervals elapsed without output",
	}, []string{"process_id"})

	stallWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stallwatch",
		Name:      "stall_warnings_total",
		Help:      "Total stall warnings emitted",
	}, []string{"process_id"})

	activityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stallwatch",
		Name:      "activity_events_total",
		Help:      "Total output activity events observed",
	}, []string{"process_id"})

	lastActivity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stallwatch",
		Name:      "last_activity_timestamp_seconds",
		Help:      "Unix time of the most recent output activity",
	}, []string{"process_id"})

	processRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stallwatch",
		Name:      "process_running",
		Help:      "Whether the monitored process is running (1) or not (0)",
	}, []string{"process_id"})

	// Current values per process, served by /api/status.
	cache   = make(map[string]*ProcessMetrics)
	cacheMu sync.RWMutex
)

// ProcessMetrics holds current metric values for a process.
type ProcessMetrics struct {
	StallIntervals int
	StallWarnings  int
	ActivityEvents int
	LastActivity   time.Time
	Running        bool
}

// SetStallIntervals sets the current consecutive stall interval count.
func SetStallIntervals(processID string, count int) {
	stallIntervals.WithLabelValues(processID).Set(float64(count))
	updateCache(processID, func(m *ProcessMetrics) { m.StallIntervals = count })
}

// IncStallWarnings counts an emitted stall warning.
func IncStallWarnings(processID string) {
	stallWarnings.WithLabelValues(processID).Inc()
	updateCache(processID, func(m *ProcessMetrics) { m.StallWarnings++ })
}

// RecordActivity counts an activity event observed at the given time.
func RecordActivity(processID string, at time.Time) {
	activityEvents.WithLabelValues(processID).Inc()
	lastActivity.WithLabelValues(processID).Set(float64(at.UnixNano()) / float64(time.Second))
	updateCache(processID, func(m *ProcessMetrics) {
		m.ActivityEvents++
		m.LastActivity = at
	})
}

// SetProcessRunning records whether the process is running.
func SetProcessRunning(processID string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	processRunning.WithLabelValues(processID).Set(v)
	updateCache(processID, func(m *ProcessMetrics) { m.Running = running })
}

// Delete removes all metrics for a process.
func Delete(processID string) {
	stallIntervals.DeleteLabelValues(processID)
	stallWarnings.DeleteLabelValues(processID)
	activityEvents.DeleteLabelValues(processID)
	lastActivity.DeleteLabelValues(processID)
	processRunning.DeleteLabelValues(processID)

	cacheMu.Lock()
	delete(cache, processID)
	cacheMu.Unlock()
}

// Get returns current metric values for a process.
func Get(processID string) *ProcessMetrics {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	if m, ok := cache[processID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

func updateCache(processID string, update func(*ProcessMetrics)) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	m, ok := cache[processID]
	if !ok {
		m = &ProcessMetrics{}
		cache[processID] = m
	}
	update(m)
}
