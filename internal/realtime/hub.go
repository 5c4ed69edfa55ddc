// Package realtime holds the in-memory collaboration plumbing: the room
// registry, the best-effort live edit relay, and the debounced save
// controller. Nothing here touches the durable store directly.
package realtime

import (
	"sync"

	"github.com/scriptoriumlab/scribe/backend/internal/notes"
)

// EventType names the outbound message kinds delivered to room members.
type EventType string

const (
	// EventChange is a best-effort field-level edit relayed between members.
	EventChange EventType = "change"
	// EventNoteUpdated carries the authoritative note state after a commit.
	EventNoteUpdated EventType = "noteUpdated"
	// EventNoteDeleted tells members the note no longer exists.
	EventNoteDeleted EventType = "noteDeleted"
)

// Editable note fields accepted by the relay.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// ValidField reports whether the relay accepts changes to the named field.
func ValidField(field string) bool {
	return field == FieldTitle || field == FieldContent
}

// Message is the envelope delivered on a subscriber's stream.
type Message struct {
	Event  EventType
	NoteID string
	Field  string
	Value  string
	Note   *notes.Note
}

// Subscriber is an opaque connection handle. One user may hold several; each
// is tracked independently.
type Subscriber struct {
	id     int64
	stream chan Message
}

// Stream exposes the subscriber's delivery channel.
func (s *Subscriber) Stream() <-chan Message {
	return s.stream
}

// Hub is the session room registry and live edit relay: a process-local map
// from note id to the set of subscribed connection handles. Rooms are created
// lazily and garbage-collected when their member set empties. Delivery is
// best-effort: a full subscriber buffer drops the message.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[int64]*Subscriber
	membership map[int64]map[string]struct{}
	nextID     int64
	bufferSize int
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[int64]*Subscriber),
		membership: make(map[int64]map[string]struct{}),
		bufferSize: 16,
	}
}

// NewSubscriber allocates a connection handle with its delivery stream.
func (h *Hub) NewSubscriber() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &Subscriber{
		id:     h.nextID,
		stream: make(chan Message, h.bufferSize),
	}
}

// Join adds the subscriber to the note's room, creating the room on first use.
func (h *Hub) Join(sub *Subscriber, noteID string) {
	if sub == nil || noteID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[noteID]
	if !ok {
		room = make(map[int64]*Subscriber)
		h.rooms[noteID] = room
	}
	room[sub.id] = sub

	joined, ok := h.membership[sub.id]
	if !ok {
		joined = make(map[string]struct{})
		h.membership[sub.id] = joined
	}
	joined[noteID] = struct{}{}
}

// Leave removes the subscriber from the note's room.
func (h *Hub) Leave(sub *Subscriber, noteID string) {
	if sub == nil || noteID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub.id, noteID)
}

// LeaveAll removes the subscriber from every room it joined. Called on
// disconnect; must run unconditionally.
func (h *Hub) LeaveAll(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for noteID := range h.membership[sub.id] {
		h.removeLocked(sub.id, noteID)
	}
}

func (h *Hub) removeLocked(subscriberID int64, noteID string) {
	if room := h.rooms[noteID]; room != nil {
		delete(room, subscriberID)
		if len(room) == 0 {
			delete(h.rooms, noteID)
		}
	}
	if joined := h.membership[subscriberID]; joined != nil {
		delete(joined, noteID)
		if len(joined) == 0 {
			delete(h.membership, subscriberID)
		}
	}
}

// MembersOf returns the subscribers currently in the note's room.
func (h *Hub) MembersOf(noteID string) []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[noteID]
	if len(room) == 0 {
		return nil
	}
	members := make([]*Subscriber, 0, len(room))
	for _, sub := range room {
		members = append(members, sub)
	}
	return members
}

// BroadcastChange relays a field-level edit to every room member except the
// origin. Unknown fields are rejected without effect. The relay holds no
// content and checks no permissions; room join is the gate.
func (h *Hub) BroadcastChange(origin *Subscriber, noteID, field, value string) bool {
	if !ValidField(field) {
		return false
	}
	message := Message{
		Event:  EventChange,
		NoteID: noteID,
		Field:  field,
		Value:  value,
	}
	for _, member := range h.MembersOf(noteID) {
		if origin != nil && member.id == origin.id {
			continue
		}
		member.deliver(message)
	}
	return true
}

// NoteUpdated pushes the confirmed note state to all room members, the origin
// included, so every local buffer reconciles to the durable value.
func (h *Hub) NoteUpdated(noteID string, note notes.Note) {
	confirmed := note
	message := Message{
		Event:  EventNoteUpdated,
		NoteID: noteID,
		Note:   &confirmed,
	}
	for _, member := range h.MembersOf(noteID) {
		member.deliver(message)
	}
}

// NoteDeleted tells all room members the note is gone.
func (h *Hub) NoteDeleted(noteID string) {
	message := Message{
		Event:  EventNoteDeleted,
		NoteID: noteID,
	}
	for _, member := range h.MembersOf(noteID) {
		member.deliver(message)
	}
}

func (s *Subscriber) deliver(message Message) {
	select {
	case s.stream <- message:
	default:
	}
}
