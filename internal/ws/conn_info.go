package ws

import (
	"time"

	"portal-chat/internal/models"
)

type ConnInfo struct {
	ConnID      string
	User        models.Participant
	UserName    string
	IP          string
	UserAgent   string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
