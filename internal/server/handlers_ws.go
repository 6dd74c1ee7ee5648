package server

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/engine"
	apperrors "github.com/AlfredMungaMbaru/polling-station-sub000/internal/errors"
)

// handleSubscribe upgrades the request to a websocket, stages the
// connection for the engine and subscribes. After a successful subscribe
// the channel owns the connection; its read/write pumps outlive this
// handler.
func (s *Server) handleSubscribe(c echo.Context) error {
	topicID := c.Param("topic")
	if strings.TrimSpace(topicID) == "" {
		return apperrors.ValidationError("topic id must not be empty")
	}

	subscriberID := c.QueryParam("subscriber")
	if subscriberID == "" {
		subscriberID = uuid.NewString()
	}

	// Reject before upgrading so the client gets a proper HTTP status.
	if s.engine.SubscriberCount(topicID) >= s.config.MaxClientsPerTopic {
		return apperrors.TooManyRequestsError("max subscribers per topic reached").
			WithContext("topic_id", topicID).
			WithContext("max_clients", s.config.MaxClientsPerTopic)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "topic_id", topicID, "error", err)
		return nil
	}

	cancelStaged := s.channels.Stage(topicID, subscriberID, conn)
	if _, err := s.engine.Subscribe(topicID, subscriberID, engine.SubscribeConfig{}); err != nil {
		cancelStaged()
		slog.Warn("Subscribe failed after upgrade",
			"topic_id", topicID,
			"subscriber_id", subscriberID,
			"error", err,
		)
		return nil
	}

	slog.Debug("WebSocket subscriber connected", "topic_id", topicID, "subscriber_id", subscriberID)
	return nil
}
