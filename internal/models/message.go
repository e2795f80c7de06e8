package models

import "time"

// DeletedPlaceholder replaces the content of a soft-deleted message.
const DeletedPlaceholder = "This message was deleted"

// DeliveryStatus tracks a message on the sending client only.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusUnsent  DeliveryStatus = "unsent"
)

// Message represents a chat message. ID is zero until the server confirms it;
// ClientID is the correlation token chosen by the sending client.
type Message struct {
	ID         int64          `db:"id" json:"id"`
	RoomID     int64          `db:"room_id" json:"room_id"`
	SenderID   int64          `db:"sender_id" json:"sender_id"`
	SenderRole Role           `db:"sender_role" json:"sender_role"`
	SenderName string         `db:"sender_name" json:"sender_name"`
	Content    string         `db:"content" json:"content"`
	ClientID   string         `db:"client_id" json:"client_id,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	ReadAt     *time.Time     `db:"read_at" json:"read_at,omitempty"`
	DeletedAt  *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
	Status     DeliveryStatus `db:"-" json:"-"`
}

// Pending reports whether the message still waits for a server id.
func (m Message) Pending() bool {
	return m.ID == 0
}

// Deleted reports whether the message was soft-deleted.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Sender returns the author of the message.
func (m Message) Sender() Participant {
	return Participant{ID: m.SenderID, Role: m.SenderRole}
}

// MarkDeleted soft-deletes the message. It returns false if the message was
// already deleted, in which case nothing changes.
func (m *Message) MarkDeleted(at time.Time) bool {
	if m.DeletedAt != nil {
		return false
	}
	deletedAt := at
	m.DeletedAt = &deletedAt
	m.Content = DeletedPlaceholder
	return true
}
