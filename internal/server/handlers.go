package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/catalog"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/engine"
	apperrors "github.com/AlfredMungaMbaru/polling-station-sub000/internal/errors"
	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/version"
)

const readinessTimeout = 2 * time.Second

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"build":  version.Get(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	result := make(map[string]string, len(s.readiness))
	healthy := true
	for name, check := range s.readiness {
		if err := check(ctx); err != nil {
			result[name] = err.Error()
			healthy = false
		} else {
			result[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, result)
}

func (s *Server) handleGetSnapshot(c echo.Context) error {
	topicID := c.Param("topic")
	snapshot, ok := s.engine.GetSnapshot(topicID)
	if !ok {
		return apperrors.NotFoundError("no snapshot for topic").WithContext("topic_id", topicID)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleGetSubscribers(c echo.Context) error {
	topicID := c.Param("topic")
	return c.JSON(http.StatusOK, map[string]any{
		"topic_id":    topicID,
		"subscribers": s.engine.SubscriberCount(topicID),
		"active":      s.engine.HasActiveSubscribers(topicID),
	})
}

// topicOption is the wire shape of one catalog entry.
type topicOption struct {
	OptionID string `json:"option_id"`
	Label    string `json:"label"`
}

// handleGetTopicOptions lists a topic's options from the catalog, so
// clients can render a poll before the first update event arrives.
func (s *Server) handleGetTopicOptions(c echo.Context) error {
	topicID := c.Param("topic")
	if s.labels == nil {
		return apperrors.NotFoundError("no option catalog configured")
	}

	options, err := s.labels.TopicOptions(c.Request().Context(), topicID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return apperrors.NotFoundError("no options for topic").WithContext("topic_id", topicID)
		}
		return apperrors.InternalError("catalog lookup failed", err)
	}

	out := make([]topicOption, 0, len(options))
	for _, opt := range options {
		out = append(out, topicOption{OptionID: opt.ID, Label: opt.Label})
	}
	return c.JSON(http.StatusOK, map[string]any{"topic_id": topicID, "options": out})
}

func (s *Server) handleGetConnections(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.GetConnectionStatuses())
}

// publishRequest is the producer-facing event body. The topic comes from
// the URL; everything else mirrors the engine event.
type publishRequest struct {
	OptionID    string           `json:"option_id"`
	OptionLabel string           `json:"option_label"`
	NewCount    int              `json:"new_count"`
	TotalCount  int              `json:"total_count"`
	Type        engine.EventType `json:"type"`
	Throttled   *bool            `json:"throttled"`
}

func (s *Server) handlePublishEvent(c echo.Context) error {
	topicID := c.Param("topic")
	if strings.TrimSpace(topicID) == "" {
		return apperrors.ValidationError("topic id must not be empty")
	}

	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid event body")
	}

	event := engine.Event{
		TopicID:     topicID,
		OptionID:    req.OptionID,
		OptionLabel: req.OptionLabel,
		NewCount:    req.NewCount,
		TotalCount:  req.TotalCount,
		Timestamp:   time.Now(),
		Type:        req.Type,
	}
	if event.Type == "" {
		event.Type = engine.EventUpdated
	}

	// Lifecycle events skip the throttle by default.
	throttled := event.Type != engine.EventEnded
	if req.Throttled != nil {
		throttled = *req.Throttled
	}
	if throttled {
		s.engine.BroadcastThrottled(event)
	} else {
		s.engine.Broadcast(event)
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleClearPending(c echo.Context) error {
	s.engine.ClearPendingUpdates(c.Param("topic"))
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleUnsubscribeTopic(c echo.Context) error {
	s.engine.Unsubscribe(c.Param("topic"), c.QueryParam("subscriber"))
	return c.JSON(http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func (s *Server) handleFlush(c echo.Context) error {
	s.engine.FlushAllPendingUpdates()
	return c.JSON(http.StatusOK, map[string]string{"status": "flushed"})
}

func (s *Server) handleOptimize(c echo.Context) error {
	maxIdle := s.config.MaxIdle
	if raw := c.QueryParam("max_idle"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return apperrors.ValidationError("max_idle must be a positive duration")
		}
		maxIdle = parsed
	}
	swept := s.engine.OptimizeConnections(maxIdle)
	return c.JSON(http.StatusOK, map[string]any{"swept": swept})
}

func (s *Server) handleCleanup(c echo.Context) error {
	s.engine.Cleanup()
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}
