package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"portal-chat/internal/models"
	"portal-chat/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateOrGetRoom(ctx context.Context, req models.CreateRoomRequest) (models.Room, bool, error) {
	args := m.Called(ctx, req)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Bool(1), args.Error(2)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context, user models.Participant) ([]models.Room, error) {
	args := m.Called(ctx, user)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) IsParticipant(ctx context.Context, roomID int64, user models.Participant) (bool, error) {
	args := m.Called(ctx, roomID, user)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) Notifications(ctx context.Context, user models.Participant) ([]models.RoomNotification, error) {
	args := m.Called(ctx, user)
	var out []models.RoomNotification
	if val := args.Get(0); val != nil {
		out = val.([]models.RoomNotification)
	}
	return out, args.Error(1)
}

func (m *RoomRepositoryMock) ListStudents(ctx context.Context, staffRole models.Role) ([]models.StudentEntry, error) {
	args := m.Called(ctx, staffRole)
	var out []models.StudentEntry
	if val := args.Get(0); val != nil {
		out = val.([]models.StudentEntry)
	}
	return out, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *MessageRepositoryMock) ListPage(ctx context.Context, roomID int64, page, pageSize int) ([]models.Message, int, error) {
	args := m.Called(ctx, roomID, page, pageSize)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Int(1), args.Error(2)
}

func (m *MessageRepositoryMock) Recent(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, roomID int64, reader models.Participant) ([]int64, time.Time, error) {
	args := m.Called(ctx, roomID, reader)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	var at time.Time
	if val := args.Get(1); val != nil {
		at = val.(time.Time)
	}
	return ids, at, args.Error(2)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int64, sender models.Participant) (models.Message, error) {
	args := m.Called(ctx, messageID, sender)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) BroadcastMessage(roomID int64, msg models.Message) {
	m.Called(roomID, msg)
}

func (m *BroadcasterMock) BroadcastRead(roomID int64, messageIDs []int64, at time.Time) {
	m.Called(roomID, messageIDs, at)
}

func (m *BroadcasterMock) BroadcastDeletion(roomID int64, msg models.Message) {
	m.Called(roomID, msg)
}

var (
	_ repositories.RoomRepository    = (*RoomRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
)
