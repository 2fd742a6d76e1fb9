package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chronicle/proofread/internal/annotation"
	"chronicle/proofread/internal/schedule"
	syncsession "chronicle/proofread/internal/session"
	"chronicle/proofread/internal/store"
)

type wsMessage struct {
	Type        string                  `json:"type"`
	SessionID   string                  `json:"sessionId"`
	DocumentID  string                  `json:"documentId"`
	Version     uint64                  `json:"version"`
	Origin      string                  `json:"origin"`
	Annotations []annotation.Annotation `json:"annotations"`
	Code        string                  `json:"code"`
	Error       string                  `json:"error"`
}

func paragraphDoc(text string) map[string]any {
	return map[string]any{
		"type": "doc",
		"content": []any{
			map[string]any{"type": "paragraph", "content": []any{map[string]any{"type": "text", "text": text}}},
		},
	}
}

func dialSession(t *testing.T, server *httptest.Server, document, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/ws?document=" + document + "&token=" + token
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	return msg
}

func TestSessionSocketFlow(t *testing.T) {
	clock := schedule.NewManualClock()
	runs := newFakeRuns()
	svc := newTestService(spellChecker, runs, clock)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	defer server.Close()

	conn, _, err := dialSession(t, server, "doc-1", issueTestToken(t, "editor", "doc-1"))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "open", "doc": paragraphDoc("Helo world")}); err != nil {
		t.Fatalf("write open: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "annotations" || msg.Origin != string(syncsession.OriginAnalysis) || msg.Version != 1 || msg.DocumentID != "doc-1" {
		t.Fatalf("unexpected first message %+v", msg)
	}
	if len(msg.Annotations) != 1 || msg.Annotations[0].From != 1 || msg.Annotations[0].To != 5 {
		t.Fatalf("unexpected annotations %+v", msg.Annotations)
	}
	if run := <-runs.recorded; run.Outcome != store.OutcomeApplied || run.SessionID != msg.SessionID {
		t.Fatalf("unexpected recorded run %+v", run)
	}

	// Two characters typed at the start of the paragraph.
	if err := conn.WriteJSON(map[string]any{"type": "edit", "doc": paragraphDoc("a Helo world"), "steps": [][]int{{1, 0, 2}}}); err != nil {
		t.Fatalf("write edit: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Origin != string(syncsession.OriginRemap) || msg.Version != 2 {
		t.Fatalf("expected remap snapshot for v2, got %+v", msg)
	}
	if len(msg.Annotations) != 1 || msg.Annotations[0].From != 3 || msg.Annotations[0].To != 7 {
		t.Fatalf("unexpected remapped annotations %+v", msg.Annotations)
	}
	remappedID := msg.Annotations[0].UUID

	clock.Advance(time.Second)
	msg = readMessage(t, conn)
	if msg.Origin != string(syncsession.OriginAnalysis) || msg.Version != 2 {
		t.Fatalf("expected analysis snapshot for v2, got %+v", msg)
	}
	if len(msg.Annotations) != 1 || msg.Annotations[0].From != 3 || msg.Annotations[0].UUID == remappedID {
		t.Fatalf("expected a fresh annotation at 3, got %+v", msg.Annotations)
	}
	freshID := msg.Annotations[0].UUID

	inspections := []struct {
		name    string
		message map[string]any
		want    int
	}{
		{name: "by uuid", message: map[string]any{"type": "inspect", "uuid": freshID}, want: 1},
		{name: "unknown uuid", message: map[string]any{"type": "inspect", "uuid": remappedID}, want: 0},
		{name: "inside finding", message: map[string]any{"type": "inspect", "pos": 4}, want: 1},
		{name: "outside finding", message: map[string]any{"type": "inspect", "pos": 8}, want: 0},
	}
	for _, tt := range inspections {
		if err := conn.WriteJSON(tt.message); err != nil {
			t.Fatalf("%s: write inspect: %v", tt.name, err)
		}
		msg := readMessage(t, conn)
		if msg.Type != "inspection" || len(msg.Annotations) != tt.want {
			t.Fatalf("%s: unexpected inspection %+v", tt.name, msg)
		}
		if tt.want == 1 && msg.Annotations[0].UUID != freshID {
			t.Fatalf("%s: inspected %+v, want %s", tt.name, msg.Annotations[0], freshID)
		}
	}
	if err := conn.WriteJSON(map[string]any{"type": "inspect"}); err != nil {
		t.Fatalf("write empty inspect: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "error" || msg.Code != "INVALID_MESSAGE" {
		t.Fatalf("expected INVALID_MESSAGE for empty inspect, got %+v", msg)
	}

	rr, response := doRequest(t, NewHTTPServer(svc, "*").Handler(), http.MethodGet, "/api/sessions", issueTestToken(t, "admin", ""), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	sessions, _ := response["sessions"].([]any)
	if len(sessions) != 1 || sessions[0].(map[string]any)["documentId"] != "doc-1" {
		t.Fatalf("unexpected live sessions %v", response)
	}

	if err := conn.WriteJSON(map[string]any{"type": "edit", "doc": paragraphDoc("x"), "steps": [][]int{{1, 2}}}); err != nil {
		t.Fatalf("write bad edit: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "error" || msg.Code != "INVALID_STEPS" {
		t.Fatalf("expected INVALID_STEPS error, got %+v", msg)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "error" || msg.Code != "INVALID_MESSAGE" {
		t.Fatalf("expected INVALID_MESSAGE error, got %+v", msg)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for len(svc.LiveSessions(t.Context())) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still live after the socket closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionSocketRequiresOpenFirst(t *testing.T) {
	server := httptest.NewServer(NewHTTPServer(newTestService(spellChecker, nil, schedule.NewManualClock()), "*").Handler())
	defer server.Close()

	conn, _, err := dialSession(t, server, "doc-1", issueTestToken(t, "editor", ""))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "edit", "doc": paragraphDoc("x")}); err != nil {
		t.Fatalf("write edit: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != "error" || msg.Code != "INVALID_MESSAGE" {
		t.Fatalf("expected INVALID_MESSAGE error, got %+v", msg)
	}
}

func TestSessionSocketRejectsBeforeUpgrade(t *testing.T) {
	server := httptest.NewServer(NewHTTPServer(newTestService(spellChecker, nil, nil), "*").Handler())
	defer server.Close()

	cases := []struct {
		name     string
		document string
		token    string
		status   int
	}{
		{name: "no token", document: "doc-1", token: "", status: http.StatusUnauthorized},
		{name: "reviewer", document: "doc-1", token: issueTestToken(t, "reviewer", ""), status: http.StatusForbidden},
		{name: "other document", document: "doc-2", token: issueTestToken(t, "editor", "doc-1"), status: http.StatusForbidden},
		{name: "no document", document: "", token: issueTestToken(t, "editor", ""), status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, resp, err := dialSession(t, server, tc.document, tc.token)
			if err == nil {
				conn.Close()
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %+v", tc.status, resp)
			}
		})
	}
}

func TestMailboxKeepsLatestSnapshot(t *testing.T) {
	box := newMailbox()
	if _, ok := box.take(); ok {
		t.Fatal("empty mailbox returned a snapshot")
	}
	for v := uint64(1); v <= 3; v++ {
		box.Render(syncsession.Snapshot{Version: v})
	}
	select {
	case <-box.ready:
	default:
		t.Fatal("mailbox not signalled")
	}
	snapshot, ok := box.take()
	if !ok || snapshot.Version != 3 {
		t.Fatalf("expected latest snapshot v3, got %+v", snapshot)
	}
	if _, ok := box.take(); ok {
		t.Fatal("snapshot delivered twice")
	}
}

func TestCheckOrigin(t *testing.T) {
	strict := NewHTTPServer(nil, "https://docs.example.com")
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if strict.checkOrigin(req) {
		t.Fatal("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "https://docs.example.com")
	if !strict.checkOrigin(req) {
		t.Fatal("expected configured origin to be accepted")
	}
	if !NewHTTPServer(nil, "*").checkOrigin(req) {
		t.Fatal("expected wildcard to accept any origin")
	}
}
