package domain

import "github.com/google/uuid"

// Role is the caller's role as asserted by the user directory.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Caller identifies who invokes an engine operation.
type Caller struct {
	UserID uuid.UUID
	Role   Role
}

// Privileged returns true for admins and moderators.
func (c Caller) Privileged() bool {
	return c.Role == RoleAdmin || c.Role == RoleModerator
}
