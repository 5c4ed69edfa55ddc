package users

import (
	"strings"
	"time"
)

// Role is the coarse-grained account role used for administrative gating.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether the role sits at or above the required role
// on the viewer < editor < admin order.
func (r Role) AtLeast(required Role) bool {
	return roleRank[r] >= roleRank[required]
}

// ParseRole normalizes raw input into a Role, defaulting to editor for
// empty input to match account creation semantics.
func ParseRole(raw string) (Role, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return RoleEditor, true
	}
	role := Role(trimmed)
	return role, role.Valid()
}

// User models a registered account.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	Name         string    `gorm:"column:name;size:320;not null"`
	Role         Role      `gorm:"column:role;size:32;not null;default:'editor'"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}
