package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/stallwatch/internal/api/models"
	"github.com/smazurov/stallwatch/internal/events"
)

// registerSSERoutes registers the lifecycle and stall warning SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stall warnings and process lifecycle events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":       models.ConnectedEvent{},
		"stall-warning":   events.StallWarningEvent{},
		"process-started": events.ProcessStartedEvent{},
		"process-exited":  events.ProcessExitedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.StallWarningEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProcessStartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.ProcessExitedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(models.ConnectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		forward(ctx, eventCh, send)
	})
}
