package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"portal-chat/internal/api"
	"portal-chat/internal/models"
)

type APIServiceMock struct {
	mock.Mock
}

func (m *APIServiceMock) ListRooms(ctx context.Context, user models.Participant) ([]models.Room, error) {
	args := m.Called(ctx, user)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *APIServiceMock) CreateOrGetRoom(ctx context.Context, req models.CreateRoomRequest) (models.Room, bool, error) {
	args := m.Called(ctx, req)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Bool(1), args.Error(2)
}

func (m *APIServiceMock) FetchMessages(ctx context.Context, roomID int64, page, pageSize int) (api.Page, error) {
	args := m.Called(ctx, roomID, page, pageSize)
	var p api.Page
	if val := args.Get(0); val != nil {
		p = val.(api.Page)
	}
	return p, args.Error(1)
}

func (m *APIServiceMock) SendMessage(ctx context.Context, req api.SendRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *APIServiceMock) MarkRead(ctx context.Context, roomID int64, reader models.Participant) error {
	args := m.Called(ctx, roomID, reader)
	return args.Error(0)
}

func (m *APIServiceMock) DeleteMessage(ctx context.Context, messageID int64, requester models.Participant) (models.Message, error) {
	args := m.Called(ctx, messageID, requester)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

var _ api.Service = (*APIServiceMock)(nil)

func (m *APIServiceMock) Notifications(ctx context.Context, user models.Participant) (models.NotificationSummary, error) {
	args := m.Called(ctx, user)
	var summary models.NotificationSummary
	if val := args.Get(0); val != nil {
		summary = val.(models.NotificationSummary)
	}
	return summary, args.Error(1)
}

func (m *APIServiceMock) ListStudents(ctx context.Context, staffRole models.Role) ([]models.StudentEntry, error) {
	args := m.Called(ctx, staffRole)
	var students []models.StudentEntry
	if val := args.Get(0); val != nil {
		students = val.([]models.StudentEntry)
	}
	return students, args.Error(1)
}
