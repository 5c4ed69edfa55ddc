package notes

import (
	"strings"
	"time"
)

// Action enumerates the activity log entry kinds.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

// GrantLevel is the permission level attached to a collaborator grant.
type GrantLevel string

const (
	GrantViewer GrantLevel = "viewer"
	GrantEditor GrantLevel = "editor"
)

// ParseGrantLevel normalizes raw input into a GrantLevel.
func ParseGrantLevel(raw string) (GrantLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(GrantViewer):
		return GrantViewer, true
	case string(GrantEditor):
		return GrantEditor, true
	default:
		return "", false
	}
}

// Note models a persisted note. PublicID is assigned at creation and stays
// stable for the note's lifetime; IsPublic only ever transitions off to on.
type Note struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Title     string    `gorm:"column:title;size:512;not null"`
	Content   string    `gorm:"column:content;type:text;not null;default:''"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	PublicID  string    `gorm:"column:public_id;size:190;uniqueIndex;not null"`
	IsPublic  bool      `gorm:"column:is_public;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// CollaboratorGrant associates a non-owner user with a note at a permission
// level. Unique per (note, user); re-adding upserts the level.
type CollaboratorGrant struct {
	NoteID  string     `gorm:"column:note_id;primaryKey;size:190;not null"`
	UserID  string     `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Level   GrantLevel `gorm:"column:permission;size:32;not null;default:'viewer'"`
	AddedAt time.Time  `gorm:"column:added_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CollaboratorGrant) TableName() string {
	return "note_collaborators"
}

// ActivityRecord is an append-only audit entry. The note reference survives
// note deletion; the listing renders such rows without a title.
type ActivityRecord struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index:idx_activity_user_time,priority:1"`
	NoteID     *string   `gorm:"column:note_id;size:190"`
	Action     Action    `gorm:"column:action;size:32;not null"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null;index:idx_activity_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ActivityRecord) TableName() string {
	return "activity_logs"
}

// ActivityEntry is an activity record joined with display names for listing.
type ActivityEntry struct {
	Record    ActivityRecord
	UserName  string
	NoteTitle string
}

// Collaborator is a grant joined with the collaborator's account details.
type Collaborator struct {
	UserID  string
	Name    string
	Email   string
	Level   GrantLevel
	AddedAt time.Time
}
