package models

import "time"

// MessagePreview is the last message of a room as shown in summaries.
type MessagePreview struct {
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name"`
	SenderRole Role      `json:"sender_type"`
	CreatedAt  time.Time `json:"timestamp"`
}

// RoomNotification is the unread summary of one room.
type RoomNotification struct {
	RoomID      int64           `json:"room_id"`
	RoomName    string          `json:"room_name"`
	UnreadCount int             `json:"unread_count"`
	LastMessage *MessagePreview `json:"last_message"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NotificationSummary lists the rooms with unread messages for one user.
type NotificationSummary struct {
	TotalUnread   int                `json:"total_unread"`
	Notifications []RoomNotification `json:"notifications"`
}

// Total sums the unread counts of the listed rooms.
func (s NotificationSummary) Total() int {
	n := 0
	for _, r := range s.Notifications {
		n += r.UnreadCount
	}
	return n
}

// StudentEntry is a student as listed for staff, with the room they share
// with the staff role when one exists.
type StudentEntry struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	RoomID        *int64          `json:"room_id"`
	HasChatRoom   bool            `json:"has_chat_room"`
	UnreadCount   int             `json:"unread_count"`
	LastMessage   *MessagePreview `json:"last_message"`
	RoomUpdatedAt *time.Time      `json:"room_updated_at"`
}
