package notes

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/scriptoriumlab/scribe/backend/internal/users"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

// tickingClock advances one second per reading so update watermarks order
// deterministically.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	updated []Note
	deleted []string
}

func (b *recordingBroadcaster) NoteUpdated(noteID string, note Note) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updated = append(b.updated, note)
}

func (b *recordingBroadcaster) NoteDeleted(noteID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, noteID)
}

type facadeFixture struct {
	service     *Service
	users       *users.Service
	db          *gorm.DB
	broadcaster *recordingBroadcaster
}

func newFacadeFixture(t *testing.T) *facadeFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:notes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &Note{}, &CollaboratorGrant{}, &ActivityRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := newTickingClock()

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{prefix: "user"},
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}

	broadcaster := &recordingBroadcaster{}
	service, err := NewService(ServiceConfig{
		Database:    db,
		Users:       usersService,
		Clock:       clock.Now,
		IDProvider:  &sequenceIDProvider{prefix: "id"},
		Broadcaster: broadcaster,
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}

	return &facadeFixture{
		service:     service,
		users:       usersService,
		db:          db,
		broadcaster: broadcaster,
	}
}

func (f *facadeFixture) registerUser(t *testing.T, email, name string, role users.Role) Caller {
	t.Helper()
	account, err := f.users.Register(context.Background(), email, "password", name, string(role))
	if err != nil {
		t.Fatalf("failed to register %s: %v", email, err)
	}
	return Caller{UserID: account.ID, Role: account.Role}
}

func (f *facadeFixture) activityCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&ActivityRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count activity: %v", err)
	}
	return count
}
