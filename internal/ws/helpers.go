package ws

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"portal-chat/internal/models"
	"portal-chat/internal/observability"
)

const wsRoutingKey = "ws_events.rooms"

func newConnID() string {
	return uuid.NewString()
}

func parseParticipant(userID, userType string) (models.Participant, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil || id <= 0 {
		return models.Participant{}, errors.New("invalid user_id")
	}
	role, err := models.ParseRole(userType)
	if err != nil {
		return models.Participant{}, err
	}
	return models.Participant{ID: id, Role: role}, nil
}

func publishWSEvent(ctx context.Context, event string, roomID int64, info ConnInfo, reason string) {
	duration := int64(0)
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "room",
				"resource_id": roomID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.User.ID,
				"user_type": info.User.Role,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
