// Package stall detects a monitored stream going silent.
//
// A Monitor owns a repeating Alarm. Every activity signal restarts the alarm
// with a full interval. Each firing without intervening activity increments
// a stall counter and sends a warning whose reported duration grows with the
// counter:
//
//	monitor := stall.NewDefaultMonitor(&stall.Options{
//	    Enabled:   cfg.Features.StallDetectEnabled(),
//	    Interval:  30 * time.Minute,
//	    Sink:      stall.NewLogSink(logger),
//	    ProcessID: "build",
//	})
//	monitor.Initialize()
//	defer monitor.Dispose()
//
//	proc := process.NewProcessWithOutput("build", "make test", logger, monitor)
//
// A disabled monitor (feature gate off, missing sink) is inert: every method
// is a no-op and the alarm is never started.
package stall
