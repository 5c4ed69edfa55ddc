package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedSave struct {
	noteID  string
	title   string
	content string
}

type saveRecorder struct {
	mu    sync.Mutex
	saves []recordedSave
	fail  bool
}

func (r *saveRecorder) save(noteID, title, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("store unavailable")
	}
	r.saves = append(r.saves, recordedSave{noteID: noteID, title: title, content: content})
	return nil
}

func (r *saveRecorder) snapshot() []recordedSave {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedSave(nil), r.saves...)
}

func (r *saveRecorder) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

const testQuietWindow = 40 * time.Millisecond

func newTestSaver(recorder *saveRecorder) *Saver {
	return NewSaver(SaverConfig{
		QuietWindow: testQuietWindow,
		Save:        recorder.save,
	})
}

func waitForSaves(t *testing.T, recorder *saveRecorder, want int) []recordedSave {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if saves := recorder.snapshot(); len(saves) >= want {
			return saves
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d saves, got %d", want, len(recorder.snapshot()))
	return nil
}

func TestRapidEditsCoalesceIntoOneWrite(t *testing.T) {
	recorder := &saveRecorder{}
	saver := newTestSaver(recorder)
	defer saver.Close()

	saver.Track("note-1", "Plan", "")
	saver.Record("note-1", FieldContent, "h")
	time.Sleep(testQuietWindow / 4)
	saver.Record("note-1", FieldContent, "he")
	time.Sleep(testQuietWindow / 4)
	saver.Record("note-1", FieldContent, "hello")

	saves := waitForSaves(t, recorder, 1)
	if len(saves) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(saves))
	}
	if saves[0].content != "hello" || saves[0].title != "Plan" {
		t.Fatalf("write must carry the latest full state, got %+v", saves[0])
	}

	// Quiet afterwards: the confirmed snapshot matches, no further writes.
	time.Sleep(3 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 1 {
		t.Fatalf("expected no additional writes, got %d", got)
	}
}

func TestCleanBufferIssuesNoWrite(t *testing.T) {
	recorder := &saveRecorder{}
	saver := newTestSaver(recorder)
	defer saver.Close()

	saver.Track("note-1", "Plan", "body")
	saver.Record("note-1", FieldContent, "body")

	time.Sleep(3 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("unchanged state must not be written, got %d writes", got)
	}
}

func TestRemoteConfirmationCancelsPendingWrite(t *testing.T) {
	recorder := &saveRecorder{}
	saver := newTestSaver(recorder)
	defer saver.Close()

	saver.Track("note-1", "Plan", "")
	saver.Record("note-1", FieldContent, "local draft")

	// Another collaborator's write confirms before the quiet window elapses:
	// the local buffer reconciles and the pending write is superseded.
	saver.Confirm("note-1", "Plan", "remote version")

	time.Sleep(3 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("superseded local edit must not be written, got %d writes", got)
	}
}

func TestFailedWriteRetriesOnlyOnNextEdit(t *testing.T) {
	recorder := &saveRecorder{fail: true}
	saver := newTestSaver(recorder)
	defer saver.Close()

	saver.Track("note-1", "Plan", "")
	saver.Record("note-1", FieldContent, "draft")

	time.Sleep(3 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("expected failed write to record nothing, got %d", got)
	}

	// No automatic retry; the next mutation re-arms the cycle.
	recorder.setFail(false)
	saver.Record("note-1", FieldContent, "draft v2")

	saves := waitForSaves(t, recorder, 1)
	if saves[0].content != "draft v2" {
		t.Fatalf("retry must carry the latest state, got %+v", saves[0])
	}
}

func TestUnknownFieldAndUntrackedNoteIgnored(t *testing.T) {
	recorder := &saveRecorder{}
	saver := newTestSaver(recorder)
	defer saver.Close()

	saver.Track("note-1", "Plan", "")
	saver.Record("note-1", "owner_id", "mallory")
	saver.Record("untracked", FieldContent, "x")

	time.Sleep(3 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestForgetDropsPendingTimer(t *testing.T) {
	recorder := &saveRecorder{}
	saver := newTestSaver(recorder)
	defer saver.Close()

	saver.Track("note-1", "Plan", "")
	saver.Record("note-1", FieldContent, "draft")
	saver.Forget("note-1")

	time.Sleep(3 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("forgotten note must not be written, got %d", got)
	}
}

func TestCloseCancelsEverything(t *testing.T) {
	recorder := &saveRecorder{}
	saver := newTestSaver(recorder)

	saver.Track("note-1", "Plan", "")
	saver.Track("note-2", "Other", "")
	saver.Record("note-1", FieldContent, "a")
	saver.Record("note-2", FieldTitle, "b")
	saver.Close()

	time.Sleep(3 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("closed saver must not write, got %d", got)
	}

	// Records after close are ignored.
	saver.Record("note-1", FieldContent, "late")
	time.Sleep(2 * testQuietWindow)
	if got := len(recorder.snapshot()); got != 0 {
		t.Fatalf("expected no writes after close, got %d", got)
	}
}

func TestIndependentNotesDebounceSeparately(t *testing.T) {
	recorder := &saveRecorder{}
	saver := newTestSaver(recorder)
	defer saver.Close()

	saver.Track("note-1", "One", "")
	saver.Track("note-2", "Two", "")
	saver.Record("note-1", FieldContent, "first")
	saver.Record("note-2", FieldContent, "second")

	saves := waitForSaves(t, recorder, 2)
	seen := map[string]string{}
	for _, save := range saves {
		seen[save.noteID] = save.content
	}
	if seen["note-1"] != "first" || seen["note-2"] != "second" {
		t.Fatalf("unexpected writes: %+v", saves)
	}
}
