package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-chat/internal/mocks"
	"portal-chat/internal/models"
)

func TestSortRooms(t *testing.T) {
	at := func(h int) *time.Time {
		v := epoch.Add(time.Duration(h) * time.Hour)
		return &v
	}
	rooms := []models.Room{
		{ID: 1, StudentName: "Zoe", LastMessageAt: at(5)},
		{ID: 2, StudentName: "Ben", UnreadCount: 1, LastMessageAt: at(1)},
		{ID: 3, StudentName: "Ava"},
		{ID: 4, StudentName: "Cy", LastMessageAt: at(9)},
		{ID: 5, StudentName: "Ava"},
		{ID: 6, StudentName: "Dee", UnreadCount: 4, LastMessageAt: at(3)},
		{ID: 7, StudentName: "ava", LastMessageAt: at(5)},
	}

	SortRooms(rooms, models.RoleAdmin)

	got := make([]int64, 0, len(rooms))
	for _, r := range rooms {
		got = append(got, r.ID)
	}
	assert.Equal(t, []int64{6, 2, 4, 7, 1, 3, 5}, got)
}

func TestRegistryListRoomsUsesTrackedUnread(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	sess := studentSession(t, "http://portal.local")
	svc.On("ListRooms", mock.Anything, sess.Identity()).Return([]models.Room{
		{ID: 1, StaffRole: models.RoleFaculty, StaffName: "Faculty"},
		{ID: 2, StaffRole: models.RoleAdmin, StaffName: "Admin", UnreadCount: 2},
	}, nil).Once()

	tr := NewReceiptTracker(svc, sess.Identity(), nil)
	reg := NewRegistry(svc, sess, tr)
	rooms, err := reg.ListRooms(context.Background())
	require.NoError(t, err)

	require.Len(t, rooms, 2)
	assert.Equal(t, int64(2), rooms[0].ID)
	assert.Equal(t, 2, tr.Unread(2))
	_, ok := reg.Room(1)
	assert.True(t, ok)
}

func TestRegistryCreateOrGetIsIdempotent(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	sess := studentSession(t, "http://portal.local")
	room := models.Room{ID: 42, StudentID: 7, StaffRole: models.RoleAdmin}
	svc.On("CreateOrGetRoom", mock.Anything, models.CreateRoomRequest{
		StudentID:   7,
		StudentName: "Asha",
		StaffRole:   models.RoleAdmin,
	}).Return(room, true, nil).Once()

	reg := NewRegistry(svc, sess, nil)
	first, err := reg.CreateOrGet(context.Background(), 7, models.RoleAdmin)
	require.NoError(t, err)
	second, err := reg.CreateOrGet(context.Background(), 7, models.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	svc.AssertNumberOfCalls(t, "CreateOrGetRoom", 1)
}

func TestRegistryCreateOrGetValidation(t *testing.T) {
	svc := new(mocks.APIServiceMock)
	reg := NewRegistry(svc, studentSession(t, "http://portal.local"), nil)

	cases := []struct {
		name      string
		studentID int64
		role      models.Role
	}{
		{"student role", 7, models.RoleStudent},
		{"unknown role", 7, models.Role("parent")},
		{"other student", 8, models.RoleAdmin},
		{"missing student", 0, models.RoleAdmin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.CreateOrGet(context.Background(), tc.studentID, tc.role)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
	svc.AssertNotCalled(t, "CreateOrGetRoom", mock.Anything, mock.Anything)
}
