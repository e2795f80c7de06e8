package models

import "time"

// Frame types exchanged on the room connection.
const (
	FrameChatMessage           = "chat_message"
	FrameTyping                = "typing"
	FramePing                  = "ping"
	FrameHeartbeat             = "heartbeat"
	FrameMarkRead              = "mark_read"
	FrameRecentMessages        = "recent_messages"
	FrameMessagesRead          = "messages_read"
	FrameTypingIndicator       = "typing_indicator"
	FrameConnectionEstablished = "connection_established"
	FramePong                  = "pong"
	FrameError                 = "error"
	FrameMessageDeleted        = "message_deleted"
)

// Frame is the JSON envelope of every websocket frame. Only the fields
// relevant to Type are set.
type Frame struct {
	Type         string     `json:"type"`
	RoomID       int64      `json:"room_id,omitempty"`
	ConnectionID string     `json:"connection_id,omitempty"`
	Message      *Message   `json:"message,omitempty"`
	Messages     []Message  `json:"messages,omitempty"`
	MessageIDs   []int64    `json:"message_ids,omitempty"`
	Content      string     `json:"content,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	SenderID     int64      `json:"sender_id,omitempty"`
	SenderRole   Role       `json:"sender_role,omitempty"`
	SenderName   string     `json:"sender_name,omitempty"`
	IsTyping     bool       `json:"is_typing,omitempty"`
	Error        string     `json:"error,omitempty"`
	Code         string     `json:"code,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// Stamp sets the frame timestamp and returns the frame.
func (f Frame) Stamp(at time.Time) Frame {
	ts := at.UTC()
	f.Timestamp = &ts
	return f
}
