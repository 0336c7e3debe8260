package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/stallwatch/internal/api/models"
	"github.com/smazurov/stallwatch/internal/metrics"
	"github.com/smazurov/stallwatch/internal/process"
	"github.com/smazurov/stallwatch/internal/stall"
)

func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Supervised process state and stall monitor status",
		Tags:        []string{"status"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		if s.source == nil {
			return nil, huma.Error503ServiceUnavailable("no process is being supervised")
		}
		info := s.source.ProcessInfo()
		return &models.StatusResponse{
			Body: models.StatusData{
				Process:  processData(info),
				Stall:    stallData(s.source.MonitorStatus()),
				Activity: activityData(metrics.Get(info.ID)),
			},
		}, nil
	})
}

func processData(info process.Info) models.ProcessData {
	data := models.ProcessData{
		ID:        info.ID,
		State:     string(info.State),
		Command:   info.Command,
		PID:       info.PID,
		StartedAt: info.StartedAt,
		ExitedAt:  info.ExitedAt,
	}
	if info.State == process.StateExited || info.State == process.StateError {
		code := info.ExitCode
		data.ExitCode = &code
	}
	if info.LastError != nil {
		data.Error = info.LastError.Error()
	}
	return data
}

func stallData(status stall.Status) models.StallData {
	data := models.StallData{
		Enabled:          status.Enabled,
		Armed:            status.Armed,
		Stalled:          status.StalledIntervals > 0,
		StalledIntervals: status.StalledIntervals,
		LastActivity:     status.LastActivity,
	}
	if status.Enabled {
		data.Interval = status.Interval.String()
		data.StalledFor = status.StalledFor.String()
	}
	return data
}

func activityData(m *metrics.ProcessMetrics) *models.ActivityData {
	if m == nil {
		return nil
	}
	return &models.ActivityData{
		OutputLines:   m.ActivityEvents,
		StallWarnings: m.StallWarnings,
		LastOutput:    m.LastActivity,
	}
}
