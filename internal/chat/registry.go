package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"portal-chat/internal/api"
	"portal-chat/internal/models"
	"portal-chat/internal/session"
)

type roomPair struct {
	studentID int64
	role      models.Role
}

// Registry lists and creates the rooms of the session user.
type Registry struct {
	api      api.Service
	sess     *session.Session
	receipts *ReceiptTracker

	mu    sync.Mutex
	rooms map[int64]models.Room
	pairs map[roomPair]int64
}

// NewRegistry creates a registry. receipts, if set, owns unread counts.
func NewRegistry(svc api.Service, sess *session.Session, receipts *ReceiptTracker) *Registry {
	return &Registry{
		api:      svc,
		sess:     sess,
		receipts: receipts,
		rooms:    make(map[int64]models.Room),
		pairs:    make(map[roomPair]int64),
	}
}

// ListRooms fetches the user's rooms ordered for display.
func (r *Registry) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := r.api.ListRooms(ctx, r.sess.Identity())
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if r.receipts != nil {
		r.receipts.Seed(rooms)
		for i := range rooms {
			rooms[i].UnreadCount = r.receipts.Unread(rooms[i].ID)
		}
	}
	SortRooms(rooms, r.sess.Role)

	r.mu.Lock()
	for _, room := range rooms {
		r.remember(room)
	}
	r.mu.Unlock()
	return rooms, nil
}

// CreateOrGet returns the room between studentID and role, creating it on
// first use. Repeated calls for the same pair return the same room.
func (r *Registry) CreateOrGet(ctx context.Context, studentID int64, role models.Role) (models.Room, error) {
	if studentID <= 0 {
		return models.Room{}, &ValidationError{Field: "student_id", Reason: "must be positive"}
	}
	if !role.IsStaff() {
		return models.Room{}, &ValidationError{Field: "recipient_type", Reason: fmt.Sprintf("%q is not a staff role", role)}
	}
	self := r.sess.Identity()
	req := models.CreateRoomRequest{StudentID: studentID, StaffRole: role}
	switch {
	case self.Role == models.RoleStudent:
		if self.ID != studentID {
			return models.Room{}, &ValidationError{Field: "student_id", Reason: "students can only open their own rooms"}
		}
		req.StudentName = r.sess.Name
	case self.Role != role:
		return models.Room{}, &ValidationError{Field: "recipient_type", Reason: "staff can only open rooms for their own role"}
	default:
		req.StaffID = self.ID
		req.StaffName = r.sess.Name
	}

	key := roomPair{studentID: studentID, role: role}
	r.mu.Lock()
	if id, ok := r.pairs[key]; ok {
		room := r.rooms[id]
		r.mu.Unlock()
		return room, nil
	}
	r.mu.Unlock()

	room, _, err := r.api.CreateOrGetRoom(ctx, req)
	if err != nil {
		return models.Room{}, fmt.Errorf("create room for student %d and %s: %w", studentID, role, err)
	}
	r.mu.Lock()
	r.remember(room)
	r.mu.Unlock()
	return room, nil
}

// Room returns a room seen by the registry.
func (r *Registry) Room(id int64) (models.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	return room, ok
}

func (r *Registry) remember(room models.Room) {
	r.rooms[room.ID] = room
	r.pairs[roomPair{studentID: room.StudentID, role: room.StaffRole}] = room.ID
}

// SortRooms orders rooms with unread messages first, then by latest
// message, then by the counterpart's name as seen by viewer, then by id.
func SortRooms(rooms []models.Room, viewer models.Role) {
	sort.SliceStable(rooms, func(i, j int) bool {
		a, b := rooms[i], rooms[j]
		if ua, ub := a.UnreadCount > 0, b.UnreadCount > 0; ua != ub {
			return ua
		}
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt != nil:
			if !a.LastMessageAt.Equal(*b.LastMessageAt) {
				return a.LastMessageAt.After(*b.LastMessageAt)
			}
		case a.LastMessageAt != nil:
			return true
		case b.LastMessageAt != nil:
			return false
		}
		na := strings.ToLower(a.DisplayName(viewer))
		nb := strings.ToLower(b.DisplayName(viewer))
		if na != nb {
			return na < nb
		}
		return a.ID < b.ID
	})
}
