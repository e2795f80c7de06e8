package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"portal-chat/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	CreateOrGetRoom(ctx context.Context, req models.CreateRoomRequest) (models.Room, bool, error)
	GetRoom(ctx context.Context, roomID int64) (models.Room, error)
	ListRooms(ctx context.Context, user models.Participant) ([]models.Room, error)
	IsParticipant(ctx context.Context, roomID int64, user models.Participant) (bool, error)
	Notifications(ctx context.Context, user models.Participant) ([]models.RoomNotification, error)
	ListStudents(ctx context.Context, staffRole models.Role) ([]models.StudentEntry, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, student_id, student_name, staff_id, staff_name, staff_role, created_at, last_message_at`

// CreateOrGetRoom returns the room of the (student, role) pair, creating it
// on first use. A staff member opening an unassigned room claims it. The
// boolean reports whether the row was inserted.
func (r *RoomRepo) CreateOrGetRoom(ctx context.Context, req models.CreateRoomRequest) (models.Room, bool, error) {
	query := `INSERT INTO chat_rooms (student_id, student_name, staff_id, staff_name, staff_role)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (student_id, staff_role) DO UPDATE SET
            student_name = COALESCE(NULLIF(EXCLUDED.student_name, ''), chat_rooms.student_name),
            staff_id = CASE WHEN chat_rooms.staff_id = 0 THEN EXCLUDED.staff_id ELSE chat_rooms.staff_id END,
            staff_name = CASE WHEN chat_rooms.staff_id = 0 AND EXCLUDED.staff_id <> 0 THEN EXCLUDED.staff_name ELSE chat_rooms.staff_name END
        RETURNING ` + roomColumns + `, (xmax = 0) AS created`

	var row struct {
		models.Room
		Created bool `db:"created"`
	}
	if err := r.db.QueryRowxContext(ctx, query, req.StudentID, req.StudentName, req.StaffID, req.StaffName, req.StaffRole).StructScan(&row); err != nil {
		return models.Room{}, false, err
	}
	return row.Room, row.Created, nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int64) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM chat_rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRooms returns the rooms of user with the number of messages from the
// other side that user has not read.
func (r *RoomRepo) ListRooms(ctx context.Context, user models.Participant) ([]models.Room, error) {
	query := `SELECT r.id, r.student_id, r.student_name, r.staff_id, r.staff_name, r.staff_role, r.created_at, r.last_message_at,
            (SELECT COUNT(*) FROM chat_messages m
                WHERE m.room_id = r.id AND m.read_at IS NULL AND m.deleted_at IS NULL
                AND NOT (m.sender_id = $1 AND m.sender_role = $2)) AS unread_count
        FROM chat_rooms r
        WHERE ($2 = 'student' AND r.student_id = $1)
            OR ($2 <> 'student' AND r.staff_role = $2 AND (r.staff_id = $1 OR r.staff_id = 0))
        ORDER BY r.last_message_at DESC NULLS LAST, r.id`
	var rooms []models.Room
	if err := r.db.SelectContext(ctx, &rooms, query, user.ID, user.Role); err != nil {
		return nil, err
	}
	return rooms, nil
}

// IsParticipant checks whether user is one side of the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID int64, user models.Participant) (bool, error) {
	room, err := r.GetRoom(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return room.HasParticipant(user), nil
}

const (
	participantFilter = `(($2 = 'student' AND r.student_id = $1)
            OR ($2 <> 'student' AND r.staff_role = $2 AND (r.staff_id = $1 OR r.staff_id = 0)))`

	lastMessageJoin = `LEFT JOIN LATERAL (
            SELECT content, sender_name, sender_role, created_at FROM chat_messages lm
            WHERE lm.room_id = r.id ORDER BY lm.created_at DESC, lm.id DESC LIMIT 1
        ) last ON true`

	lastMessageColumns = `last.content AS last_content, last.sender_name AS last_sender_name,
            last.sender_role AS last_sender_role, last.created_at AS last_created_at`
)

// previewColumns scans the last message of a LEFT JOIN, which may be absent.
type previewColumns struct {
	Content    sql.NullString `db:"last_content"`
	SenderName sql.NullString `db:"last_sender_name"`
	SenderRole sql.NullString `db:"last_sender_role"`
	CreatedAt  sql.NullTime   `db:"last_created_at"`
}

func (p previewColumns) preview() *models.MessagePreview {
	if !p.CreatedAt.Valid {
		return nil
	}
	return &models.MessagePreview{
		Content:    p.Content.String,
		SenderName: p.SenderName.String,
		SenderRole: models.Role(p.SenderRole.String),
		CreatedAt:  p.CreatedAt.Time,
	}
}

// Notifications returns the rooms of user holding unread messages, newest
// activity first, with a preview of each room's last message.
func (r *RoomRepo) Notifications(ctx context.Context, user models.Participant) ([]models.RoomNotification, error) {
	query := `SELECT r.id, r.student_id, r.student_name, r.staff_id, r.staff_name, r.staff_role, r.created_at, r.last_message_at,
            u.unread_count, ` + lastMessageColumns + `
        FROM chat_rooms r
        CROSS JOIN LATERAL (
            SELECT COUNT(*) AS unread_count FROM chat_messages m
            WHERE m.room_id = r.id AND m.read_at IS NULL AND m.deleted_at IS NULL
            AND NOT (m.sender_id = $1 AND m.sender_role = $2)
        ) u
        ` + lastMessageJoin + `
        WHERE ` + participantFilter + ` AND u.unread_count > 0
        ORDER BY r.last_message_at DESC NULLS LAST, r.id`

	var rows []struct {
		models.Room
		previewColumns
	}
	if err := r.db.SelectContext(ctx, &rows, query, user.ID, user.Role); err != nil {
		return nil, err
	}

	out := make([]models.RoomNotification, 0, len(rows))
	for _, row := range rows {
		room := row.Room
		updated := room.CreatedAt
		if room.LastMessageAt != nil {
			updated = *room.LastMessageAt
		}
		out = append(out, models.RoomNotification{
			RoomID:      room.ID,
			RoomName:    room.DisplayName(user.Role),
			UnreadCount: room.UnreadCount,
			LastMessage: row.preview(),
			UpdatedAt:   updated,
		})
	}
	return out, nil
}

// ListStudents returns every student known to the chat ordered by name, each
// with the room they share with staffRole if there is one. Unread counts are
// messages from the student the staff side has not read.
func (r *RoomRepo) ListStudents(ctx context.Context, staffRole models.Role) ([]models.StudentEntry, error) {
	query := `SELECT s.student_id, s.student_name, r.id AS room_id, COALESCE(r.last_message_at, r.created_at) AS room_updated_at,
            COALESCE(u.unread_count, 0) AS unread_count, ` + lastMessageColumns + `
        FROM (SELECT student_id, MAX(student_name) AS student_name FROM chat_rooms GROUP BY student_id) s
        LEFT JOIN chat_rooms r ON r.student_id = s.student_id AND r.staff_role = $1
        LEFT JOIN LATERAL (
            SELECT COUNT(*) AS unread_count FROM chat_messages m
            WHERE m.room_id = r.id AND m.read_at IS NULL AND m.deleted_at IS NULL AND m.sender_role = 'student'
        ) u ON true
        ` + lastMessageJoin + `
        ORDER BY LOWER(s.student_name), s.student_id`

	var rows []struct {
		StudentID     int64         `db:"student_id"`
		StudentName   string        `db:"student_name"`
		RoomID        sql.NullInt64 `db:"room_id"`
		RoomUpdatedAt sql.NullTime  `db:"room_updated_at"`
		UnreadCount   int           `db:"unread_count"`
		previewColumns
	}
	if err := r.db.SelectContext(ctx, &rows, query, staffRole); err != nil {
		return nil, err
	}

	out := make([]models.StudentEntry, 0, len(rows))
	for _, row := range rows {
		entry := models.StudentEntry{
			ID:          row.StudentID,
			Name:        row.StudentName,
			UnreadCount: row.UnreadCount,
			LastMessage: row.preview(),
		}
		if row.RoomID.Valid {
			id := row.RoomID.Int64
			entry.RoomID = &id
			entry.HasChatRoom = true
		}
		if row.RoomUpdatedAt.Valid {
			at := row.RoomUpdatedAt.Time
			entry.RoomUpdatedAt = &at
		}
		out = append(out, entry)
	}
	return out, nil
}
