package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"portal-chat/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAlreadyDeleted  = errors.New("message already deleted")
)

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListPage(ctx context.Context, roomID int64, page, pageSize int) ([]models.Message, int, error)
	Recent(ctx context.Context, roomID int64, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	MarkRead(ctx context.Context, roomID int64, reader models.Participant) ([]int64, time.Time, error)
	SoftDelete(ctx context.Context, messageID int64, sender models.Participant) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, sender_id, sender_role, sender_name, content, COALESCE(client_id, '') AS client_id, created_at, read_at, deleted_at`

// CreateMessage stores a message and bumps the room's last_message_at. A
// repeated client_id in the same room returns the stored message instead of
// a duplicate.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var stored models.Message
	err = tx.GetContext(ctx, &stored, `INSERT INTO chat_messages (room_id, sender_id, sender_role, sender_name, content, client_id)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
        ON CONFLICT (room_id, client_id) DO NOTHING
        RETURNING `+messageColumns,
		msg.RoomID, msg.SenderID, msg.SenderRole, msg.SenderName, msg.Content, msg.ClientID)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.GetContext(ctx, &stored, `SELECT `+messageColumns+` FROM chat_messages WHERE room_id=$1 AND client_id=$2`, msg.RoomID, msg.ClientID)
		if err != nil {
			return models.Message{}, err
		}
		return stored, tx.Commit()
	}
	if err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chat_rooms SET last_message_at=$1 WHERE id=$2`, stored.CreatedAt, stored.RoomID); err != nil {
		return models.Message{}, err
	}
	return stored, tx.Commit()
}

// ListPage returns one page of history, oldest first, and the total number
// of messages. Page 1 holds the newest messages.
func (r *MessageRepo) ListPage(ctx context.Context, roomID int64, page, pageSize int) ([]models.Message, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM chat_messages WHERE room_id=$1`, roomID); err != nil {
		return nil, 0, err
	}
	query := `SELECT * FROM (
            SELECT ` + messageColumns + ` FROM chat_messages WHERE room_id=$1
            ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3
        ) page ORDER BY created_at ASC, id ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, roomID, pageSize, (page-1)*pageSize); err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// Recent returns the newest limit messages, oldest first.
func (r *MessageRepo) Recent(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	msgs, _, err := r.ListPage(ctx, roomID, 1, limit)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM chat_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead sets read_at on every unread message the other side sent and
// returns their ids.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID int64, reader models.Participant) ([]int64, time.Time, error) {
	now := time.Now().UTC()
	ids := []int64{}
	err := r.db.SelectContext(ctx, &ids, `UPDATE chat_messages SET read_at=$1
        WHERE room_id=$2 AND read_at IS NULL AND deleted_at IS NULL
        AND NOT (sender_id=$3 AND sender_role=$4)
        RETURNING id`, now, roomID, reader.ID, reader.Role)
	return ids, now, err
}

// SoftDelete replaces the content of a message sent by sender with the
// deleted placeholder.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int64, sender models.Participant) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE chat_messages SET deleted_at=NOW(), content=$1
        WHERE id=$2 AND sender_id=$3 AND sender_role=$4 AND deleted_at IS NULL
        RETURNING `+messageColumns, models.DeletedPlaceholder, messageID, sender.ID, sender.Role)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetMessage(ctx, messageID)
		if getErr != nil {
			return models.Message{}, getErr
		}
		if existing.Deleted() {
			return models.Message{}, ErrAlreadyDeleted
		}
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
