// Package api is the HTTP client for the portal chat collaborator endpoints.
package api

import (
	"context"
	"fmt"

	"portal-chat/internal/models"
)

// Service is the set of collaborator calls the messaging core depends on.
type Service interface {
	ListRooms(ctx context.Context, user models.Participant) ([]models.Room, error)
	CreateOrGetRoom(ctx context.Context, req models.CreateRoomRequest) (models.Room, bool, error)
	FetchMessages(ctx context.Context, roomID int64, page, pageSize int) (Page, error)
	SendMessage(ctx context.Context, req SendRequest) (models.Message, error)
	MarkRead(ctx context.Context, roomID int64, reader models.Participant) error
	DeleteMessage(ctx context.Context, messageID int64, requester models.Participant) (models.Message, error)
	Notifications(ctx context.Context, user models.Participant) (models.NotificationSummary, error)
	ListStudents(ctx context.Context, staffRole models.Role) ([]models.StudentEntry, error)
}

// Pagination describes one page of room history. HasNext means older
// messages exist.
type Pagination struct {
	Page          int  `json:"page"`
	PageSize      int  `json:"page_size"`
	TotalMessages int  `json:"total_messages"`
	TotalPages    int  `json:"total_pages"`
	HasNext       bool `json:"has_next"`
	HasPrevious   bool `json:"has_previous"`
}

// Page is a slice of room history, oldest first.
type Page struct {
	Room       models.Room      `json:"room"`
	Messages   []models.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// SendRequest is the body of the HTTP send endpoint.
type SendRequest struct {
	RoomID     int64       `json:"room_id" binding:"required"`
	Content    string      `json:"content" binding:"required"`
	SenderID   int64       `json:"sender_id" binding:"required"`
	SenderRole models.Role `json:"sender_type" binding:"required"`
	SenderName string      `json:"sender_name"`
	ClientID   string      `json:"client_id"`
}

// ReadRequest is the body of the mark-read endpoint.
type ReadRequest struct {
	RoomID   int64       `json:"room_id" binding:"required"`
	UserID   int64       `json:"user_id" binding:"required"`
	UserType models.Role `json:"user_type" binding:"required"`
}

// DeleteRequest is the body of the delete endpoint.
type DeleteRequest struct {
	MessageID int64       `json:"message_id" binding:"required"`
	UserID    int64       `json:"user_id" binding:"required"`
	UserType  models.Role `json:"user_type" binding:"required"`
}

// Error is a non-2xx answer from the backend.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chat api: status %d: %s", e.Status, e.Message)
}
