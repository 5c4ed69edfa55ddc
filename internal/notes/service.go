package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/scriptoriumlab/scribe/backend/internal/fault"
	"github.com/scriptoriumlab/scribe/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew         = "notes.service.new"
	opCreate             = "notes.create"
	opGet                = "notes.get"
	opUpdate             = "notes.update"
	opDelete             = "notes.delete"
	opShare              = "notes.share"
	opGetPublic          = "notes.get_public"
	opSearch             = "notes.search"
	opListVisible        = "notes.list_visible"
	opAddCollaborator    = "notes.add_collaborator"
	opRemoveCollaborator = "notes.remove_collaborator"
	opListCollaborators  = "notes.list_collaborators"
	opRecentActivity     = "notes.recent_activity"

	defaultActivityLimit = 100
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUsers      = errors.New("users service is required")
	noOpLogger           = zap.NewNop()
)

// Broadcaster pushes authoritative note state to the note's live room. The
// facade calls it after a successful commit; a nil broadcaster is a no-op.
type Broadcaster interface {
	NoteUpdated(noteID string, note Note)
	NoteDeleted(noteID string)
}

// PublicNote is the unauthenticated read shape for a shared note.
type PublicNote struct {
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceConfig describes the dependencies required by the note access facade.
type ServiceConfig struct {
	Database    *gorm.DB
	Users       *users.Service
	Clock       func() time.Time
	IDProvider  IDProvider
	Broadcaster Broadcaster
	Logger      *zap.Logger
}

// Service is the note access facade: every operation runs its permission
// check through Decide before touching the store, and every successful
// mutation appends exactly one activity record.
type Service struct {
	db          *gorm.DB
	users       *users.Service
	clock       func() time.Time
	idProvider  IDProvider
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewService constructs the facade.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.New(fault.KindInternal, opServiceNew, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fault.New(fault.KindInternal, opServiceNew, errMissingIDProvider)
	}
	if cfg.Users == nil {
		return nil, fault.New(fault.KindInternal, opServiceNew, errMissingUsers)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:          cfg.Database,
		users:       cfg.Users,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		broadcaster: cfg.Broadcaster,
		logger:      logger,
	}, nil
}

// Create inserts a note owned by the caller. Creation requires the editor
// account role; the public identifier is assigned here and never changes.
func (s *Service) Create(ctx context.Context, caller Caller, title, content string) (Note, error) {
	if strings.TrimSpace(title) == "" {
		return Note{}, fault.Newf(fault.KindInvalid, opCreate, "title is required")
	}
	if !DecideAdmin(caller, users.RoleEditor) {
		return Note{}, fault.Newf(fault.KindForbidden, opCreate, "insufficient role")
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		return Note{}, s.internal(opCreate, "id_generation_failed", err)
	}
	publicID, err := s.idProvider.NewID()
	if err != nil {
		return Note{}, s.internal(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := Note{
		ID:        noteID,
		Title:     strings.TrimSpace(title),
		Content:   content,
		OwnerID:   caller.UserID,
		PublicID:  publicID,
		IsPublic:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return err
		}
		return s.recordActivity(tx, caller.UserID, note.ID, ActionCreate)
	})
	if txErr != nil {
		return Note{}, s.internal(opCreate, "insert_failed", txErr)
	}

	s.logger.Info("note created",
		zap.String("note_id", note.ID),
		zap.String("owner_id", caller.UserID))
	return note, nil
}

// Get returns the note when the caller holds the view capability. A missing
// note and a denied note are indistinguishable to the caller.
func (s *Service) Get(ctx context.Context, caller Caller, noteID string) (Note, error) {
	note, _, err := s.authorize(ctx, caller, noteID, CapabilityView, opGet)
	if err != nil {
		return Note{}, err
	}
	return *note, nil
}

// Update replaces the note's title and content, stamps the update watermark,
// appends one activity record, and broadcasts the confirmed state to the
// note's room. The store serializes conflicting writes; the later commit wins.
func (s *Service) Update(ctx context.Context, caller Caller, noteID, title, content string) (Note, error) {
	if strings.TrimSpace(title) == "" {
		return Note{}, fault.Newf(fault.KindInvalid, opUpdate, "title is required")
	}

	note, _, err := s.authorize(ctx, caller, noteID, CapabilityEdit, opUpdate)
	if err != nil {
		return Note{}, err
	}

	note.Title = strings.TrimSpace(title)
	note.Content = content
	note.UpdatedAt = s.clock().UTC()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Note{}).
			Where("id = ?", note.ID).
			Updates(map[string]interface{}{
				"title":      note.Title,
				"content":    note.Content,
				"updated_at": note.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		return s.recordActivity(tx, caller.UserID, note.ID, ActionUpdate)
	})
	if txErr != nil {
		return Note{}, s.internal(opUpdate, "update_failed", txErr)
	}

	if s.broadcaster != nil {
		s.broadcaster.NoteUpdated(note.ID, *note)
	}
	return *note, nil
}

// Delete removes the note. Owner-only. Collaborator grants are removed with
// it; activity rows keep their dangling note reference.
func (s *Service) Delete(ctx context.Context, caller Caller, noteID string) error {
	note, _, err := s.authorize(ctx, caller, noteID, CapabilityDelete, opDelete)
	if err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", note.ID).Delete(&Note{}).Error; err != nil {
			return err
		}
		if err := tx.Where("note_id = ?", note.ID).Delete(&CollaboratorGrant{}).Error; err != nil {
			return err
		}
		return s.recordActivity(tx, caller.UserID, note.ID, ActionDelete)
	})
	if txErr != nil {
		return s.internal(opDelete, "delete_failed", txErr)
	}

	if s.broadcaster != nil {
		s.broadcaster.NoteDeleted(note.ID)
	}
	return nil
}

// Share flips the note's public flag on (a one-way transition) and returns
// the stable public identifier. Owner-only.
func (s *Service) Share(ctx context.Context, caller Caller, noteID string) (string, error) {
	note, _, err := s.authorize(ctx, caller, noteID, CapabilityShare, opShare)
	if err != nil {
		return "", err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Note{}).
			Where("id = ?", note.ID).
			Update("is_public", true).Error; err != nil {
			return err
		}
		return s.recordActivity(tx, caller.UserID, note.ID, ActionShare)
	})
	if txErr != nil {
		return "", s.internal(opShare, "share_failed", txErr)
	}

	return note.PublicID, nil
}

// GetPublic resolves an opaque public identifier without any caller identity.
// Malformed, unknown, and known-but-private identifiers are indistinguishable.
func (s *Service) GetPublic(ctx context.Context, publicID string) (PublicNote, error) {
	note, err := findNoteByPublicID(s.db.WithContext(ctx), strings.TrimSpace(publicID))
	if err != nil {
		return PublicNote{}, s.internal(opGetPublic, "query_failed", err)
	}
	if note == nil {
		return PublicNote{}, fault.Newf(fault.KindNotFound, opGetPublic, "public note not found")
	}
	return PublicNote{
		Title:     note.Title,
		Content:   note.Content,
		CreatedAt: note.CreatedAt,
		UpdatedAt: note.UpdatedAt,
	}, nil
}

// ListVisible returns the notes the caller owns or collaborates on, newest
// updated first.
func (s *Service) ListVisible(ctx context.Context, caller Caller) ([]Note, error) {
	notes, err := listVisibleNotes(s.db.WithContext(ctx), caller.UserID)
	if err != nil {
		return nil, s.internal(opListVisible, "query_failed", err)
	}
	return notes, nil
}

// Search performs a case-insensitive substring match over title and content,
// restricted to the caller's visible notes, newest updated first.
func (s *Service) Search(ctx context.Context, caller Caller, query string) ([]Note, error) {
	notes, err := searchVisibleNotes(s.db.WithContext(ctx), caller.UserID, query)
	if err != nil {
		return nil, s.internal(opSearch, "query_failed", err)
	}
	return notes, nil
}

// AddCollaborator grants a user access by email. Re-adding upserts the level
// rather than duplicating; granting to the owner is rejected since owner
// access is implicit.
func (s *Service) AddCollaborator(ctx context.Context, caller Caller, noteID, email string, level GrantLevel) (Collaborator, error) {
	if strings.TrimSpace(email) == "" {
		return Collaborator{}, fault.Newf(fault.KindInvalid, opAddCollaborator, "email is required")
	}

	note, _, err := s.authorize(ctx, caller, noteID, CapabilityManageCollaborators, opAddCollaborator)
	if err != nil {
		return Collaborator{}, err
	}

	account, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			return Collaborator{}, fault.Newf(fault.KindNotFound, opAddCollaborator, "user not found")
		}
		return Collaborator{}, s.internal(opAddCollaborator, "user_lookup_failed", err)
	}
	if account.ID == note.OwnerID {
		return Collaborator{}, fault.Newf(fault.KindInvalid, opAddCollaborator, "owner access is implicit")
	}

	grant := CollaboratorGrant{
		NoteID:  note.ID,
		UserID:  account.ID,
		Level:   level,
		AddedAt: s.clock().UTC(),
	}
	if err := upsertGrant(s.db.WithContext(ctx), grant); err != nil {
		return Collaborator{}, s.internal(opAddCollaborator, "upsert_failed", err)
	}

	return Collaborator{
		UserID:  account.ID,
		Name:    account.Name,
		Email:   account.Email,
		Level:   level,
		AddedAt: grant.AddedAt,
	}, nil
}

// RemoveCollaborator revokes a grant. Owner-only; removing an absent grant is
// not an error.
func (s *Service) RemoveCollaborator(ctx context.Context, caller Caller, noteID, userID string) error {
	note, _, err := s.authorize(ctx, caller, noteID, CapabilityManageCollaborators, opRemoveCollaborator)
	if err != nil {
		return err
	}
	if err := deleteGrant(s.db.WithContext(ctx), note.ID, userID); err != nil {
		return s.internal(opRemoveCollaborator, "delete_failed", err)
	}
	return nil
}

// ListCollaborators returns the note's grants with account details. Requires
// the view capability; denial is not-found-shaped.
func (s *Service) ListCollaborators(ctx context.Context, caller Caller, noteID string) ([]Collaborator, error) {
	note, _, err := s.authorize(ctx, caller, noteID, CapabilityView, opListCollaborators)
	if err != nil {
		return nil, err
	}
	collaborators, err := listGrantsWithAccounts(s.db.WithContext(ctx), note.ID)
	if err != nil {
		return nil, s.internal(opListCollaborators, "query_failed", err)
	}
	return collaborators, nil
}

// RecentActivity lists the global activity log, newest first. Admin role
// required; this denial is a plain forbidden since no note is addressed.
func (s *Service) RecentActivity(ctx context.Context, caller Caller, limit int) ([]ActivityEntry, error) {
	if !DecideAdmin(caller, users.RoleAdmin) {
		return nil, fault.Newf(fault.KindForbidden, opRecentActivity, "admin role required")
	}
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	entries, err := listRecentActivity(s.db.WithContext(ctx), limit)
	if err != nil {
		return nil, s.internal(opRecentActivity, "query_failed", err)
	}
	return entries, nil
}

// authorize loads the note and the caller's grant and runs the permission
// check. A note the caller cannot view is reported exactly like a missing
// note; a visible note without the requested capability is a forbidden.
func (s *Service) authorize(ctx context.Context, caller Caller, noteID string, capability Capability, op string) (*Note, *CollaboratorGrant, error) {
	if caller.UserID == "" {
		return nil, nil, fault.Newf(fault.KindUnauthenticated, op, "caller identity required")
	}

	handle := s.db.WithContext(ctx)
	note, err := findNote(handle, strings.TrimSpace(noteID))
	if err != nil {
		return nil, nil, s.internal(op, "note_lookup_failed", err)
	}
	if note == nil {
		return nil, nil, fault.Newf(fault.KindNotFound, op, "note not found")
	}

	grant, err := findGrant(handle, note.ID, caller.UserID)
	if err != nil {
		return nil, nil, s.internal(op, "grant_lookup_failed", err)
	}

	if !Decide(caller, note, grant, CapabilityView) {
		return nil, nil, fault.Newf(fault.KindNotFound, op, "note not found")
	}
	if !Decide(caller, note, grant, capability) {
		return nil, nil, fault.Newf(fault.KindForbidden, op, "capability %s denied", capability)
	}
	return note, grant, nil
}

func (s *Service) recordActivity(tx *gorm.DB, userID, noteID string, action Action) error {
	recordID, err := s.idProvider.NewID()
	if err != nil {
		return err
	}
	noteRef := noteID
	return appendActivity(tx, ActivityRecord{
		ID:         recordID,
		UserID:     userID,
		NoteID:     &noteRef,
		Action:     action,
		RecordedAt: s.clock().UTC(),
	})
}

func (s *Service) internal(operation, reason string, err error) error {
	s.logger.Error("notes service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
	return fault.New(fault.KindInternal, operation, err)
}
