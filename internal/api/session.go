package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/videobuf/internal/api/models"
	"github.com/smazurov/videobuf/internal/capture"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session",
		Description: "Get the state and counters of the capture session",
		Tags:        []string{"session"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(ctx context.Context, input *struct{}) (*models.SessionResponse, error) {
		if s.session == nil {
			return nil, huma.Error503ServiceUnavailable("No capture session")
		}
		return &models.SessionResponse{Body: s.session.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "stop-session",
		Method:        http.MethodPost,
		Path:          "/api/session/stop",
		Summary:       "Stop Session",
		Description:   "Ask the capture session to stop streaming and release its buffers",
		Tags:          []string{"session"},
		DefaultStatus: http.StatusAccepted,
		Security:      withAuth(),
		Errors:        []int{401, 409, 503},
	}, func(ctx context.Context, input *struct{}) (*models.SessionStopResponse, error) {
		if s.session == nil {
			return nil, huma.Error503ServiceUnavailable("No capture session")
		}
		status := s.session.Status()
		if status.State == capture.StateStopped {
			return nil, huma.Error409Conflict("Session already stopped")
		}
		s.session.Stop()
		s.logger.Info("Session stop requested", "session", status.ID)
		return &models.SessionStopResponse{
			Body: models.SessionStopData{ID: status.ID, Message: "Stop requested"},
		}, nil
	})
}
