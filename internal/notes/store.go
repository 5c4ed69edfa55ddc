package notes

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store query helpers. Each takes the handle it should run on so the facade
// can use them inside and outside transactions.

func findNote(tx *gorm.DB, noteID string) (*Note, error) {
	var note Note
	err := tx.Where("id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func findNoteByPublicID(tx *gorm.DB, publicID string) (*Note, error) {
	var note Note
	err := tx.Where("public_id = ? AND is_public = ?", publicID, true).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func findGrant(tx *gorm.DB, noteID, userID string) (*CollaboratorGrant, error) {
	var grant CollaboratorGrant
	err := tx.Where("note_id = ? AND user_id = ?", noteID, userID).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func listVisibleNotes(tx *gorm.DB, userID string) ([]Note, error) {
	var notes []Note
	err := tx.
		Where("owner_id = ? OR id IN (?)",
			userID,
			tx.Session(&gorm.Session{NewDB: true}).
				Model(&CollaboratorGrant{}).
				Select("note_id").
				Where("user_id = ?", userID)).
		Order("updated_at DESC").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func searchVisibleNotes(tx *gorm.DB, userID, query string) ([]Note, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	var notes []Note
	err := tx.
		Where("owner_id = ? OR id IN (?)",
			userID,
			tx.Session(&gorm.Session{NewDB: true}).
				Model(&CollaboratorGrant{}).
				Select("note_id").
				Where("user_id = ?", userID)).
		Where("LOWER(title) LIKE ? OR LOWER(content) LIKE ?", pattern, pattern).
		Order("updated_at DESC").
		Find(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func upsertGrant(tx *gorm.DB, grant CollaboratorGrant) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "note_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"permission": grant.Level}),
	}).Create(&grant).Error
}

func deleteGrant(tx *gorm.DB, noteID, userID string) error {
	return tx.Where("note_id = ? AND user_id = ?", noteID, userID).
		Delete(&CollaboratorGrant{}).Error
}

func listGrantsWithAccounts(tx *gorm.DB, noteID string) ([]Collaborator, error) {
	var grants []CollaboratorGrant
	if err := tx.Where("note_id = ?", noteID).Order("added_at ASC").Find(&grants).Error; err != nil {
		return nil, err
	}

	collaborators := make([]Collaborator, 0, len(grants))
	for _, grant := range grants {
		var account struct {
			Name  string
			Email string
		}
		if err := tx.Table("users").
			Select("name", "email").
			Where("id = ?", grant.UserID).
			Take(&account).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		collaborators = append(collaborators, Collaborator{
			UserID:  grant.UserID,
			Name:    account.Name,
			Email:   account.Email,
			Level:   grant.Level,
			AddedAt: grant.AddedAt,
		})
	}
	return collaborators, nil
}

func appendActivity(tx *gorm.DB, record ActivityRecord) error {
	return tx.Create(&record).Error
}

func listRecentActivity(tx *gorm.DB, limit int) ([]ActivityEntry, error) {
	var records []ActivityRecord
	if err := tx.Order("recorded_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}

	entries := make([]ActivityEntry, 0, len(records))
	for _, record := range records {
		entry := ActivityEntry{Record: record}
		var actor struct{ Name string }
		if err := tx.Table("users").
			Select("name").
			Where("id = ?", record.UserID).
			Take(&actor).Error; err == nil {
			entry.UserName = actor.Name
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if record.NoteID != nil {
			var note struct{ Title string }
			if err := tx.Table("notes").
				Select("title").
				Where("id = ?", *record.NoteID).
				Take(&note).Error; err == nil {
				entry.NoteTitle = note.Title
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
