package telemetry

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"portal-chat/internal/models"
)

// Publisher matches rabbitmq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level     string `json:"level"`
	Text      string `json:"text"`
	RoomID    int64  `json:"room_id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// MessageDeleted records a soft delete. Safe to call on a nil emitter.
func (e *AuditEmitter) MessageDeleted(ctx context.Context, msg models.Message, requestID string) {
	if e == nil {
		return
	}
	userID := fmt.Sprintf("%s:%d", msg.SenderRole, msg.SenderID)
	text := fmt.Sprintf("message %d deleted in room %d", msg.ID, msg.RoomID)
	e.emit(ctx, "info", text, requestID, &userID, msg.RoomID, msg.ID)
}

func (e *AuditEmitter) emit(ctx context.Context, level, text, requestID string, userID *string, roomID, messageID int64) {
	if e.publisher == nil {
		return
	}

	log.Printf("audit emit: level=%s request_id=%s text=%q", level, requestID, text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:     level,
			Text:      text,
			RoomID:    roomID,
			MessageID: messageID,
		},
	}

	headers := map[string]string{
		"request_id": requestID,
		"room_id":    strconv.FormatInt(roomID, 10),
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
