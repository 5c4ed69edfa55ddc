package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type saveState int

const (
	stateIdle saveState = iota
	statePending
	stateWriting
)

// SaveFunc issues the durable write for a note, carrying the full current
// title and content rather than a diff.
type SaveFunc func(noteID, title, content string) error

// SaverConfig configures a per-connection debounced save controller.
type SaverConfig struct {
	QuietWindow time.Duration
	Save        SaveFunc
	Logger      *zap.Logger
}

// Saver coalesces rapid local edits into a single durable write per note once
// a quiet period elapses. It runs one state machine per note:
// Idle -> Pending (edit arrives, timer armed) -> Writing (timer fires with a
// dirty buffer) -> Idle. A remote confirmation overwrites both the confirmed
// snapshot and the local buffer; the last writer observed wins. A failed
// write stays unsaved until the next edit re-arms the cycle.
type Saver struct {
	mu     sync.Mutex
	quiet  time.Duration
	save   SaveFunc
	logger *zap.Logger
	closed bool
	notes  map[string]*saveEntry
}

type saveEntry struct {
	state            saveState
	generation       uint64
	timer            *time.Timer
	title            string
	content          string
	confirmedTitle   string
	confirmedContent string
}

// NewSaver constructs a Saver. Save must not be nil.
func NewSaver(cfg SaverConfig) *Saver {
	quiet := cfg.QuietWindow
	if quiet <= 0 {
		quiet = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{
		quiet:  quiet,
		save:   cfg.Save,
		logger: logger,
		notes:  make(map[string]*saveEntry),
	}
}

// Track seeds the local buffer and confirmed snapshot with the durable state,
// typically on room join. Tracking an already-tracked note resets it.
func (s *Saver) Track(noteID, title, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if entry := s.notes[noteID]; entry != nil && entry.timer != nil {
		entry.timer.Stop()
	}
	s.notes[noteID] = &saveEntry{
		state:            stateIdle,
		title:            title,
		content:          content,
		confirmedTitle:   title,
		confirmedContent: content,
	}
}

// Record applies a local field mutation and (re)starts the quiet-period
// timer, cancelling any pending one. Unknown fields and untracked notes are
// ignored.
func (s *Saver) Record(noteID, field, value string) {
	if !ValidField(field) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	entry := s.notes[noteID]
	if entry == nil {
		return
	}

	switch field {
	case FieldTitle:
		entry.title = value
	case FieldContent:
		entry.content = value
	}

	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.state = statePending
	entry.generation++
	generation := entry.generation
	entry.timer = time.AfterFunc(s.quiet, func() {
		s.flush(noteID, generation)
	})
}

// Confirm reconciles the note to a durably-confirmed remote write: both the
// confirmed snapshot and the local buffer take the remote value, and any
// pending write for superseded local state is cancelled.
func (s *Saver) Confirm(noteID, title, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.notes[noteID]
	if entry == nil {
		return
	}
	entry.title = title
	entry.content = content
	entry.confirmedTitle = title
	entry.confirmedContent = content
	if entry.timer != nil {
		entry.timer.Stop()
	}
	if entry.state == statePending {
		entry.state = stateIdle
	}
	entry.generation++
}

// Forget drops the note's state machine, cancelling any pending timer. Used
// when the connection leaves the note's room; an in-flight buffer is lost,
// which is the accepted boundary on disconnect.
func (s *Saver) Forget(noteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.notes[noteID]
	if entry == nil {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.notes, noteID)
}

// Close cancels every pending timer. Pending unsaved buffers are dropped.
func (s *Saver) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for noteID, entry := range s.notes {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.notes, noteID)
	}
}

func (s *Saver) flush(noteID string, generation uint64) {
	s.mu.Lock()
	entry := s.notes[noteID]
	if entry == nil || entry.generation != generation || entry.state != statePending {
		s.mu.Unlock()
		return
	}
	if entry.title == entry.confirmedTitle && entry.content == entry.confirmedContent {
		entry.state = stateIdle
		s.mu.Unlock()
		return
	}
	entry.state = stateWriting
	title, content := entry.title, entry.content
	s.mu.Unlock()

	err := s.save(noteID, title, content)

	s.mu.Lock()
	entry = s.notes[noteID]
	if entry != nil {
		if err == nil {
			entry.confirmedTitle = title
			entry.confirmedContent = content
		}
		if entry.state == stateWriting {
			entry.state = stateIdle
		}
	}
	s.mu.Unlock()

	if err != nil {
		// Transient by policy: the next edit's cycle is the only retry.
		s.logger.Warn("debounced save failed",
			zap.String("note_id", noteID),
			zap.Error(err))
	}
}
