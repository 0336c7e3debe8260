package stall

import (
	"time"

	"github.com/smazurov/stallwatch/internal/events"
	"github.com/smazurov/stallwatch/internal/logging"
)

// LogSink writes warnings to a logger at warn level.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Warning implements WarningSink.
func (s *LogSink) Warning(message string) {
	s.logger.Warn(message)
}

// EventSink publishes warnings on the event bus.
type EventSink struct {
	bus       *events.Bus
	processID string
}

// NewEventSink creates a sink that publishes StallWarningEvent for processID.
func NewEventSink(bus *events.Bus, processID string) *EventSink {
	return &EventSink{bus: bus, processID: processID}
}

// Warning implements WarningSink.
func (s *EventSink) Warning(message string) {
	s.bus.Publish(events.StallWarningEvent{
		ProcessID: s.processID,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Sinks fans a warning out to every sink in order.
// A panicking sink does not prevent delivery to the rest.
type Sinks []WarningSink

// Warning implements WarningSink.
func (s Sinks) Warning(message string) {
	for _, sink := range s {
		if sink != nil {
			deliver(sink, message)
		}
	}
}

func deliver(sink WarningSink, message string) {
	defer func() { _ = recover() }()
	sink.Warning(message)
}
