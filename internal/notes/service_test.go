package notes

import (
	"context"
	"testing"

	"github.com/scriptoriumlab/scribe/backend/internal/fault"
	"github.com/scriptoriumlab/scribe/backend/internal/users"
)

func TestCreateAppendsOneActivityRecord(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.OwnerID != alice.UserID {
		t.Fatalf("expected owner %s, got %s", alice.UserID, note.OwnerID)
	}
	if note.IsPublic {
		t.Fatal("new note must not be public")
	}
	if note.PublicID == "" || note.PublicID == note.ID {
		t.Fatalf("public id must be assigned and distinct from id, got %q", note.PublicID)
	}
	if got := fixture.activityCount(t); got != 1 {
		t.Fatalf("expected 1 activity record, got %d", got)
	}

	var record ActivityRecord
	if err := fixture.db.First(&record).Error; err != nil {
		t.Fatalf("failed to load activity: %v", err)
	}
	if record.Action != ActionCreate {
		t.Fatalf("expected create action, got %s", record.Action)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	fixture := newFacadeFixture(t)
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)

	_, err := fixture.service.Create(context.Background(), alice, "   ", "")
	if !fault.IsKind(err, fault.KindInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if got := fixture.activityCount(t); got != 0 {
		t.Fatalf("failed create must not log activity, got %d records", got)
	}
}

func TestCreateRequiresEditorRole(t *testing.T) {
	fixture := newFacadeFixture(t)
	viewer := fixture.registerUser(t, "viewer@x.com", "Viewer", users.RoleViewer)

	_, err := fixture.service.Create(context.Background(), viewer, "Plan", "")
	if !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestGetDisguisesDenialAsNotFound(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = fixture.service.Get(ctx, bob, note.ID)
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("denied read must look like not found, got %v", err)
	}

	_, err = fixture.service.Get(ctx, bob, "no-such-note")
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("missing note must be not found, got %v", err)
	}
}

func TestShareThenGetPublicRoundTrip(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "agenda")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Unshared note is invisible through the public endpoint.
	if _, err := fixture.service.GetPublic(ctx, note.PublicID); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("unshared note must be not found, got %v", err)
	}

	publicID, err := fixture.service.Share(ctx, alice, note.ID)
	if err != nil {
		t.Fatalf("unexpected share error: %v", err)
	}
	if publicID != note.PublicID {
		t.Fatalf("share must return the stable public id, got %s", publicID)
	}

	public, err := fixture.service.GetPublic(ctx, publicID)
	if err != nil {
		t.Fatalf("unexpected public read error: %v", err)
	}
	if public.Title != "Plan" || public.Content != "agenda" {
		t.Fatalf("public read mismatch: %+v", public)
	}

	if _, err := fixture.service.GetPublic(ctx, "garbage"); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("unknown public id must be not found, got %v", err)
	}
}

func TestShareIsOwnerOnly(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleAdmin)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantEditor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Bob can view, so the denial is a plain forbidden rather than disguised.
	if _, err := fixture.service.Share(ctx, bob, note.ID); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestAddCollaboratorUpsertsLevel(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantViewer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantEditor); err != nil {
		t.Fatalf("re-add must upsert, got %v", err)
	}

	var grants []CollaboratorGrant
	if err := fixture.db.Where("note_id = ?", note.ID).Find(&grants).Error; err != nil {
		t.Fatalf("failed to load grants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected exactly one grant row, got %d", len(grants))
	}
	if grants[0].Level != GrantEditor {
		t.Fatalf("expected upserted editor level, got %s", grants[0].Level)
	}
}

func TestAddCollaboratorRejectsOwnerAndUnknownUser(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "alice@x.com", GrantEditor); !fault.IsKind(err, fault.KindInvalid) {
		t.Fatalf("owner grant must be rejected, got %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "ghost@x.com", GrantEditor); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("unknown user must be not found, got %v", err)
	}
}

func TestUpdatePermissionsAndBroadcast(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)
	carol := fixture.registerUser(t, "carol@x.com", "Carol", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantViewer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "carol@x.com", GrantEditor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Viewer grant can read but not write.
	if _, err := fixture.service.Update(ctx, bob, note.ID, "Hijack", ""); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("viewer update must be forbidden, got %v", err)
	}

	updated, err := fixture.service.Update(ctx, carol, note.ID, "Plan v2", "body")
	if err != nil {
		t.Fatalf("editor update failed: %v", err)
	}
	if updated.Title != "Plan v2" || updated.Content != "body" {
		t.Fatalf("unexpected updated note: %+v", updated)
	}
	if !updated.UpdatedAt.After(note.UpdatedAt) {
		t.Fatal("update must advance the watermark")
	}

	if len(fixture.broadcaster.updated) != 1 {
		t.Fatalf("expected one noteUpdated broadcast, got %d", len(fixture.broadcaster.updated))
	}
	if fixture.broadcaster.updated[0].Content != "body" {
		t.Fatalf("broadcast must carry confirmed state, got %q", fixture.broadcaster.updated[0].Content)
	}

	// create + update; failed viewer update logged nothing.
	if got := fixture.activityCount(t); got != 2 {
		t.Fatalf("expected 2 activity records, got %d", got)
	}
}

func TestStoreLevelLastWriterWins(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantEditor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := fixture.service.Update(ctx, alice, note.ID, "Plan", "alice version"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.Update(ctx, bob, note.ID, "Plan", "bob version"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := fixture.service.Get(ctx, alice, note.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Content != "bob version" {
		t.Fatalf("later commit must win, got %q", stored.Content)
	}
}

func TestDeleteOwnerOnlyAndBroadcast(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantEditor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := fixture.service.Delete(ctx, bob, note.ID); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("collaborator delete must be forbidden, got %v", err)
	}

	if err := fixture.service.Delete(ctx, alice, note.ID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	if len(fixture.broadcaster.deleted) != 1 || fixture.broadcaster.deleted[0] != note.ID {
		t.Fatalf("expected delete broadcast for %s, got %v", note.ID, fixture.broadcaster.deleted)
	}

	// Activity rows survive the note: create + delete.
	if got := fixture.activityCount(t); got != 2 {
		t.Fatalf("expected 2 activity records, got %d", got)
	}

	var grantCount int64
	if err := fixture.db.Model(&CollaboratorGrant{}).Count(&grantCount).Error; err != nil {
		t.Fatalf("failed to count grants: %v", err)
	}
	if grantCount != 0 {
		t.Fatalf("grants must be removed with the note, got %d", grantCount)
	}
}

func TestSearchRestrictedCaseInsensitiveNewestFirst(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)

	older, err := fixture.service.Create(ctx, alice, "Meeting Agenda", "quarterly planning")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newer, err := fixture.service.Create(ctx, alice, "Groceries", "plan dinner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.Create(ctx, bob, "Bob Planning", "private"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := fixture.service.Search(ctx, alice, "PLAN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != newer.ID || results[1].ID != older.ID {
		t.Fatalf("expected newest-updated first, got %s then %s", results[0].ID, results[1].ID)
	}

	// Collaborated notes join the search scope.
	if _, err := fixture.service.AddCollaborator(ctx, bob, results[0].ID, "bob@x.com", GrantViewer); err == nil {
		t.Fatal("bob must not manage collaborators on alice's note")
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, newer.ID, "bob@x.com", GrantViewer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bobResults, err := fixture.service.Search(ctx, bob, "plan")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bobResults) != 2 {
		t.Fatalf("expected bob to see his note and the shared one, got %d", len(bobResults))
	}
}

func TestListCollaboratorsRequiresView(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)
	carol := fixture.registerUser(t, "carol@x.com", "Carol", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantViewer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := fixture.service.ListCollaborators(ctx, carol, note.ID); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("denied listing must look like not found, got %v", err)
	}

	listed, err := fixture.service.ListCollaborators(ctx, bob, note.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 1 || listed[0].Email != "bob@x.com" {
		t.Fatalf("unexpected collaborator listing: %+v", listed)
	}
}

func TestRemoveCollaboratorRevokesAccess(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	added, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantEditor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.Get(ctx, bob, note.ID); err != nil {
		t.Fatalf("collaborator read failed: %v", err)
	}

	if err := fixture.service.RemoveCollaborator(ctx, alice, note.ID, added.UserID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.Get(ctx, bob, note.ID); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("revoked collaborator must lose access, got %v", err)
	}

	// Removing again is not an error.
	if err := fixture.service.RemoveCollaborator(ctx, alice, note.ID, added.UserID); err != nil {
		t.Fatalf("idempotent removal failed: %v", err)
	}
}

func TestRecentActivityAdminGate(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	admin := fixture.registerUser(t, "root@x.com", "Root", users.RoleAdmin)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.Update(ctx, alice, note.ID, "Plan v2", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := fixture.service.RecentActivity(ctx, alice, 0); !fault.IsKind(err, fault.KindForbidden) {
		t.Fatalf("non-admin must be forbidden, got %v", err)
	}

	entries, err := fixture.service.RecentActivity(ctx, admin, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Record.Action != ActionUpdate {
		t.Fatalf("expected update first, got %s", entries[0].Record.Action)
	}
	if entries[0].UserName != "Alice" || entries[0].NoteTitle != "Plan v2" {
		t.Fatalf("expected joined names, got %+v", entries[0])
	}
}

func TestSharedNoteScenario(t *testing.T) {
	fixture := newFacadeFixture(t)
	ctx := context.Background()
	alice := fixture.registerUser(t, "alice@x.com", "Alice", users.RoleEditor)
	bob := fixture.registerUser(t, "bob@x.com", "Bob", users.RoleEditor)

	note, err := fixture.service.Create(ctx, alice, "Plan", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	publicID, err := fixture.service.Share(ctx, alice, note.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	public, err := fixture.service.GetPublic(ctx, publicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if public.Title != "Plan" || public.Content != "" {
		t.Fatalf("unexpected public note: %+v", public)
	}

	// Bob holds no grant: id-addressed reads stay disguised even though the
	// note is publicly shared by link.
	if _, err := fixture.service.Get(ctx, bob, note.ID); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("bob read must be a disguised not found, got %v", err)
	}
	if _, err := fixture.service.Update(ctx, bob, note.ID, "Plan v2", "x"); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("bob edit must be a disguised not found, got %v", err)
	}

	if _, err := fixture.service.AddCollaborator(ctx, alice, note.ID, "bob@x.com", GrantEditor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := fixture.service.Get(ctx, bob, note.ID); err != nil {
		t.Fatalf("bob read after grant failed: %v", err)
	}

	before := fixture.activityCount(t)
	if _, err := fixture.service.Update(ctx, bob, note.ID, "Plan v2", "..."); err != nil {
		t.Fatalf("bob update after grant failed: %v", err)
	}
	if got := fixture.activityCount(t); got != before+1 {
		t.Fatalf("expected exactly one new activity record, got %d new", got-before)
	}
}
