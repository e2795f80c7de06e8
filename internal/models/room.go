package models

import "time"

// Room is a private conversation between a student and one staff role.
type Room struct {
	ID            int64      `db:"id" json:"id"`
	StudentID     int64      `db:"student_id" json:"student_id"`
	StudentName   string     `db:"student_name" json:"student_name"`
	StaffID       int64      `db:"staff_id" json:"staff_id"`
	StaffName     string     `db:"staff_name" json:"staff_name"`
	StaffRole     Role       `db:"staff_role" json:"staff_role"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	UnreadCount   int        `db:"unread_count" json:"unread_count"`
}

// HasParticipant reports whether p is one of the two sides of the room. A
// room without an assigned staff member is open to anyone holding the role.
func (r Room) HasParticipant(p Participant) bool {
	if p.Role == RoleStudent {
		return r.StudentID == p.ID
	}
	return r.StaffRole == p.Role && (r.StaffID == p.ID || r.StaffID == 0)
}

// DisplayName returns the name of the other side as seen by viewer.
func (r Room) DisplayName(viewer Role) string {
	if viewer == RoleStudent {
		if r.StaffName != "" {
			return r.StaffName
		}
		return string(r.StaffRole)
	}
	return r.StudentName
}

// CreateRoomRequest asks for the room between a student and a staff role.
type CreateRoomRequest struct {
	StudentID   int64  `json:"student_id" binding:"required"`
	StudentName string `json:"student_name"`
	StaffID     int64  `json:"staff_id"`
	StaffName   string `json:"staff_name"`
	StaffRole   Role   `json:"recipient_type" binding:"required"`
}
