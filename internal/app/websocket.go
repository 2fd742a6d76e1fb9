package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chronicle/proofread/internal/annotation"
	"chronicle/proofread/internal/logging"
	"chronicle/proofread/internal/prosemirror"
	"chronicle/proofread/internal/rbac"
	syncsession "chronicle/proofread/internal/session"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = 54 * time.Second
	socketMaxMessage = 1 << 20
)

type socketClientMessage struct {
	Type  string          `json:"type"`
	Doc   json.RawMessage `json:"doc"`
	Steps [][]int         `json:"steps"`
	// UUID or Pos select the annotations an "inspect" message asks about.
	UUID string `json:"uuid"`
	Pos  *int   `json:"pos"`
}

type socketSnapshot struct {
	Type        string                  `json:"type"`
	SessionID   string                  `json:"sessionId"`
	DocumentID  string                  `json:"documentId"`
	Version     uint64                  `json:"version"`
	Origin      syncsession.Origin      `json:"origin"`
	Annotations []annotation.Annotation `json:"annotations"`
}

type socketInspection struct {
	Type        string                  `json:"type"`
	UUID        string                  `json:"uuid,omitempty"`
	Pos         *int                    `json:"pos,omitempty"`
	Annotations []annotation.Annotation `json:"annotations"`
}

type socketError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func newSocketError(code, message string) *socketError {
	return &socketError{Type: "error", Code: code, Message: message}
}

// mailbox keeps only the newest unsent snapshot, so a slow socket never holds
// up the session loop.
type mailbox struct {
	mu     sync.Mutex
	latest *syncsession.Snapshot
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) Render(s syncsession.Snapshot) {
	m.mu.Lock()
	m.latest = &s
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() (syncsession.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return syncsession.Snapshot{}, false
	}
	s := *m.latest
	m.latest = nil
	return s, true
}

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || strings.EqualFold(origin, s.corsOrigin)
}

// handleSessionSocket runs one live sync session over a WebSocket. The first
// client message must be "open" with the document; later "edit" messages
// carry the new document and the step maps that produced it, and "inspect"
// messages look up current annotations by uuid or position.
func (s *HTTPServer) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
		return
	}
	documentID := strings.TrimSpace(r.URL.Query().Get("document"))
	if documentID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidQuery, "document is required", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionEdit) || !session.allows(documentID) {
		s.forbid(w, r, session, rbac.ActionEdit)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.FromContext(r.Context(), s.service.log).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := logging.FromContext(r.Context(), s.service.log).With("document", documentID, "user", session.UserID)
	conn.SetReadLimit(socketMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	var open socketClientMessage
	if err := readSocketMessage(conn, &open); err != nil {
		log.Debug("websocket closed before open", "error", err)
		return
	}
	if open.Type != "open" {
		writeSocketJSON(conn, newSocketError(codeInvalidMessage, "first message must be open"))
		return
	}
	doc, err := parseDocument(open.Doc)
	if err != nil {
		_, code, message, _ := mapError(err)
		writeSocketJSON(conn, newSocketError(code, message))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	box := newMailbox()
	ctrl, sessionID := s.service.OpenSession(ctx, session, documentID, doc, box)
	replies := make(chan any, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeSocket(ctx, conn, box, replies, sessionID, log)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket unexpected close", "error", err)
			}
			break
		}
		var msg socketClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			queueSocketReply(replies, newSocketError(codeInvalidMessage, "message is not valid JSON"), log)
			continue
		}
		if reply := applySocketMessage(ctx, ctrl, msg); reply != nil {
			queueSocketReply(replies, reply, log)
		}
	}
	cancel()
	<-writerDone
	log.Info("sync session closed", "session", sessionID)
}

func queueSocketReply(replies chan<- any, reply any, log *slog.Logger) {
	select {
	case replies <- reply:
	default:
		if sockErr, ok := reply.(*socketError); ok {
			log.Warn("dropping websocket error message", "code", sockErr.Code)
			return
		}
		log.Warn("dropping websocket reply")
	}
}

func readSocketMessage(conn *websocket.Conn, target *socketClientMessage) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// applySocketMessage returns the message to send back, or nil.
func applySocketMessage(ctx context.Context, ctrl *syncsession.Controller, msg socketClientMessage) any {
	switch msg.Type {
	case "edit":
		doc, err := parseDocument(msg.Doc)
		if err != nil {
			_, code, message, _ := mapError(err)
			return newSocketError(code, message)
		}
		mapping, err := prosemirror.ParseMapping(msg.Steps)
		if err != nil {
			return newSocketError(codeInvalidSteps, err.Error())
		}
		if err := ctrl.Edit(ctx, doc, mapping); err != nil {
			return newSocketError(codeSessionClosed, err.Error())
		}
		return nil
	case "inspect":
		return inspectAnnotations(ctx, ctrl, msg)
	default:
		return newSocketError(codeInvalidMessage, "unknown message type "+msg.Type)
	}
}

func inspectAnnotations(ctx context.Context, ctrl *syncsession.Controller, msg socketClientMessage) any {
	if msg.UUID == "" && msg.Pos == nil {
		return newSocketError(codeInvalidMessage, "inspect needs uuid or pos")
	}
	set, err := ctrl.Annotations(ctx)
	if err != nil {
		return newSocketError(codeSessionClosed, err.Error())
	}
	out := socketInspection{Type: "inspection", UUID: msg.UUID, Pos: msg.Pos, Annotations: []annotation.Annotation{}}
	if msg.UUID != "" {
		if a, ok := set.ByUUID(msg.UUID); ok {
			out.Annotations = append(out.Annotations, a)
		}
		return out
	}
	out.Annotations = append(out.Annotations, set.At(*msg.Pos)...)
	return out
}

func writeSocket(ctx context.Context, conn *websocket.Conn, box *mailbox, replies <-chan any, sessionID string, log *slog.Logger) {
	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-box.ready:
			snapshot, ok := box.take()
			if !ok {
				continue
			}
			msg := socketSnapshot{
				Type:        "annotations",
				SessionID:   sessionID,
				DocumentID:  snapshot.DocumentID,
				Version:     snapshot.Version,
				Origin:      snapshot.Origin,
				Annotations: snapshot.Annotations.All(),
			}
			if err := writeSocketJSON(conn, msg); err != nil {
				log.Debug("websocket write failed", "error", err)
				_ = conn.Close()
				return
			}

		case reply := <-replies:
			if err := writeSocketJSON(conn, reply); err != nil {
				_ = conn.Close()
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func writeSocketJSON(conn *websocket.Conn, payload any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return conn.WriteJSON(payload)
}
