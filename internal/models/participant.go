package models

import "fmt"

// Role identifies the side of a conversation a user is on.
type Role string

const (
	RoleStudent   Role = "student"
	RoleAdmin     Role = "admin"
	RoleFaculty   Role = "faculty"
	RolePrincipal Role = "principal"
)

// IsStaff reports whether the role can own the staff side of a room.
func (r Role) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleFaculty, RolePrincipal:
		return true
	}
	return false
}

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	return r == RoleStudent || r.IsStaff()
}

// ParseRole converts a user_type value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Participant is a user identity scoped by role. Student and staff ids come
// from different tables, so both fields are needed to identify a user.
type Participant struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}
