package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/scriptoriumlab/scribe/backend/internal/realtime"
	"go.uber.org/zap"
)

const (
	wsWriteTimeout = 10 * time.Second

	inboundJoin   = "join"
	inboundLeave  = "leave"
	inboundChange = "change"
)

type inboundEnvelope struct {
	Type   string `json:"type"`
	NoteID string `json:"noteId"`
	Field  string `json:"field"`
	Value  string `json:"value"`
}

type outboundEnvelope struct {
	Type   string       `json:"type"`
	NoteID string       `json:"noteId"`
	Field  string       `json:"field,omitempty"`
	Value  string       `json:"value,omitempty"`
	Note   *notePayload `json:"note,omitempty"`
}

// handleWebsocket upgrades the connection and runs the realtime session:
// inbound join/leave/change, outbound change/noteUpdated/noteDeleted. Joining
// a room requires the view capability; emitted changes fan out to the room
// and feed the per-connection debounced saver, whose write runs through the
// facade's edit check. Room membership and timers are torn down on every
// disconnect path.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	caller := callerFrom(c)
	if caller.UserID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == h.corsOrigin
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	subscriber := h.hub.NewSubscriber()
	saver := realtime.NewSaver(realtime.SaverConfig{
		QuietWindow: h.quietWindow,
		Save: func(noteID, title, content string) error {
			_, err := h.notes.Update(context.Background(), caller, noteID, title, content)
			return err
		},
		Logger: h.logger,
	})
	defer func() {
		h.hub.LeaveAll(subscriber)
		saver.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go h.writePump(conn, subscriber, saver, done)

	for {
		var inbound inboundEnvelope
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case inboundJoin:
			note, err := h.notes.Get(c.Request.Context(), caller, inbound.NoteID)
			if err != nil {
				h.logger.Debug("room join denied",
					zap.String("note_id", inbound.NoteID),
					zap.String("user_id", caller.UserID))
				continue
			}
			h.hub.Join(subscriber, note.ID)
			saver.Track(note.ID, note.Title, note.Content)
		case inboundLeave:
			h.hub.Leave(subscriber, inbound.NoteID)
			saver.Forget(inbound.NoteID)
		case inboundChange:
			if !h.hub.BroadcastChange(subscriber, inbound.NoteID, inbound.Field, inbound.Value) {
				continue
			}
			saver.Record(inbound.NoteID, inbound.Field, inbound.Value)
		}
	}
}

func (h *httpHandler) writePump(conn *websocket.Conn, subscriber *realtime.Subscriber, saver *realtime.Saver, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case message := <-subscriber.Stream():
			outbound := outboundEnvelope{
				Type:   string(message.Event),
				NoteID: message.NoteID,
				Field:  message.Field,
				Value:  message.Value,
			}
			if message.Event == realtime.EventNoteUpdated && message.Note != nil {
				// Authoritative confirmation: reconcile the local buffer
				// before forwarding so a pending stale write is cancelled.
				saver.Confirm(message.NoteID, message.Note.Title, message.Note.Content)
				payload := toNotePayload(*message.Note)
				outbound.Note = &payload
			}
			if message.Event == realtime.EventNoteDeleted {
				saver.Forget(message.NoteID)
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(outbound); err != nil {
				return
			}
		}
	}
}
