package models

import "time"

// ConnectionStatus is the state of the persistent room connection.
type ConnectionStatus string

const (
	ConnectionClosed       ConnectionStatus = "closed"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionOpen         ConnectionStatus = "open"
	ConnectionError        ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// ConnectionState describes the connection of a single room.
type ConnectionState struct {
	RoomID           int64            `json:"room_id"`
	Status           ConnectionStatus `json:"status"`
	ReconnectAttempt int              `json:"reconnect_attempt"`
	LastHeartbeatAt  time.Time        `json:"last_heartbeat_at"`
}

// TypingState is the typing indicator of one user in a room.
type TypingState struct {
	RoomID    int64     `json:"room_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	IsTyping  bool      `json:"is_typing"`
	ExpiresAt time.Time `json:"expires_at"`
}
