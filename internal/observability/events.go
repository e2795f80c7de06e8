package observability

import (
	"context"

	"portal-chat/internal/models"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// Kind names the envelope for logs.
func (e EventEnvelope) Kind() string {
	return e.EventType + "." + e.EventName
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

const messageRoutingKey = "chat_events.messages"

// PublishMessageEvent publishes a message lifecycle event such as
// message_created or message_deleted.
func PublishMessageEvent(ctx context.Context, event string, msg models.Message, requestID, traceID string) {
	_ = PublishEvent(ctx, messageRoutingKey, EventEnvelope{
		EventType: "chat_events",
		EventName: event,
		Payload: map[string]interface{}{
			"message_id":  msg.ID,
			"room_id":     msg.RoomID,
			"sender_id":   msg.SenderID,
			"sender_role": msg.SenderRole,
			"client_id":   msg.ClientID,
			"created_at":  msg.CreatedAt,
		},
	}, BuildHeaders(requestID, traceID))
}
