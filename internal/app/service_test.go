package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"chronicle/proofread/internal/analysis"
	"chronicle/proofread/internal/auth"
	"chronicle/proofread/internal/config"
	"chronicle/proofread/internal/logging"
	"chronicle/proofread/internal/schedule"
	"chronicle/proofread/internal/store"
)

const testSecret = "test-secret"

const heloDoc = `{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Helo world"}]}]}`

type fakeRuns struct {
	mu        sync.Mutex
	runs      []store.AnalysisRun
	recorded  chan store.AnalysisRun
	lastLimit int
	pingErr   error
	listErr   error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{recorded: make(chan store.AnalysisRun, 32)}
}

func (f *fakeRuns) RecordRun(_ context.Context, run store.AnalysisRun) error {
	f.mu.Lock()
	f.runs = append(f.runs, run)
	f.mu.Unlock()
	f.recorded <- run
	return nil
}

func (f *fakeRuns) ListRuns(_ context.Context, documentID string, limit int) ([]store.AnalysisRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.AnalysisRun
	for _, run := range f.runs {
		if run.DocumentID == documentID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *fakeRuns) ListActivity(_ context.Context, since time.Time) ([]store.DocumentActivity, error) {
	return []store.DocumentActivity{{DocumentID: "doc-1", Runs: 2, LastOutcome: store.OutcomeApplied, LastRunAt: time.Now()}}, nil
}

func (f *fakeRuns) Ping(context.Context) error {
	return f.pingErr
}

func typo(offset, length int) analysis.Match {
	return analysis.Match{
		Message: "Possible spelling mistake found.",
		Offset:  offset,
		Length:  length,
		Rule:    analysis.Rule{ID: "MORFOLOGIK_RULE_EN_US", IssueType: "misspelling"},
	}
}

// spellChecker flags "Helo" wherever it appears.
var spellChecker = analysis.AnalyzerFunc(func(_ context.Context, req analysis.Request) (analysis.Response, error) {
	if i := strings.Index(req.Text, "Helo"); i >= 0 {
		return analysis.Response{Matches: []analysis.Match{typo(i, 4)}}, nil
	}
	return analysis.Response{Matches: []analysis.Match{}}, nil
})

func newTestService(analyzer analysis.Analyzer, runs *fakeRuns, clock schedule.Clock) *Service {
	cfg := config.Default()
	cfg.TokenSecret = testSecret
	cfg.APIURL = "http://languagetool.test/v2/check"
	deps := Deps{Analyzer: analyzer, Logger: logging.Discard(), Clock: clock}
	if runs != nil {
		deps.Runs = runs
	}
	return New(cfg, deps)
}

func issueTestToken(t *testing.T, role, doc string) string {
	t.Helper()
	token, err := auth.NewVerifier([]byte(testSecret), 0).Issue(auth.Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: role,
		Doc:  doc,
		JTI:  "jti-" + role,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	var response map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, response
}

func TestCheckEndpoint(t *testing.T) {
	svc := newTestService(spellChecker, nil, nil)
	handler := NewHTTPServer(svc, "*").Handler()
	token := issueTestToken(t, "editor", "")

	rr, response := doRequest(t, handler, http.MethodPost, "/api/check", token, `{"doc":`+heloDoc+`,"language":"en-US"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %v", rr.Code, response)
	}
	if response["text"] != "Helo world" || response["language"] != "en-US" {
		t.Fatalf("unexpected report %v", response)
	}
	annotations, _ := response["annotations"].([]any)
	if len(annotations) != 1 {
		t.Fatalf("expected 1 annotation, got %v", response["annotations"])
	}
	first := annotations[0].(map[string]any)
	if first["from"] != float64(1) || first["to"] != float64(5) || first["category"] != "misspelling" {
		t.Fatalf("unexpected annotation %v", first)
	}
	if first["uuid"] == "" || first["match"] == nil {
		t.Fatalf("annotation missing id or payload: %v", first)
	}
}

func TestCheckEndpointErrors(t *testing.T) {
	failing := analysis.AnalyzerFunc(func(context.Context, analysis.Request) (analysis.Response, error) {
		return analysis.Response{}, analysis.ErrTransport
	})
	handler := NewHTTPServer(newTestService(failing, nil, nil), "*").Handler()
	editor := issueTestToken(t, "editor", "")

	cases := []struct {
		name   string
		token  string
		body   string
		status int
		code   string
	}{
		{name: "no token", token: "", body: `{"doc":` + heloDoc + `}`, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "bad token", token: "nope.nope", body: `{"doc":` + heloDoc + `}`, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "viewer", token: issueTestToken(t, "viewer", ""), body: `{"doc":` + heloDoc + `}`, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "bad json", token: editor, body: `{"doc":`, status: http.StatusBadRequest, code: "INVALID_BODY"},
		{name: "missing doc", token: editor, body: `{}`, status: http.StatusUnprocessableEntity, code: "VALIDATION_ERROR"},
		{name: "not a doc", token: editor, body: `{"doc":{"type":"paragraph"}}`, status: http.StatusUnprocessableEntity, code: "INVALID_DOCUMENT"},
		{name: "analyzer down", token: editor, body: `{"doc":` + heloDoc + `}`, status: http.StatusBadGateway, code: "ANALYZER_UNAVAILABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, response := doRequest(t, handler, http.MethodPost, "/api/check", tc.token, tc.body)
			if rr.Code != tc.status || response["code"] != tc.code {
				t.Fatalf("expected %d %s, got %d %v", tc.status, tc.code, rr.Code, response)
			}
		})
	}
}

func TestRunsEndpoint(t *testing.T) {
	runs := newFakeRuns()
	runs.runs = []store.AnalysisRun{
		{ID: 1, DocumentID: "doc-1", Version: 1, Outcome: store.OutcomeApplied, Matches: 2},
		{ID: 2, DocumentID: "doc-1", Version: 2, Outcome: store.OutcomeFailed, Error: "upstream 503"},
		{ID: 3, DocumentID: "doc-2", Version: 1, Outcome: store.OutcomeApplied},
	}
	handler := NewHTTPServer(newTestService(spellChecker, runs, nil), "*").Handler()

	rr, response := doRequest(t, handler, http.MethodGet, "/api/documents/doc-1/runs?limit=5", issueTestToken(t, "viewer", "doc-1"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %v", rr.Code, response)
	}
	items, _ := response["runs"].([]any)
	if len(items) != 2 || runs.lastLimit != 5 {
		t.Fatalf("expected 2 runs with limit 5, got %d runs limit %d", len(items), runs.lastLimit)
	}
	if second := items[1].(map[string]any); second["error"] != "upstream 503" || second["outcome"] != store.OutcomeFailed {
		t.Fatalf("unexpected run %v", second)
	}

	rr, _ = doRequest(t, handler, http.MethodGet, "/api/documents/doc-2/runs", issueTestToken(t, "viewer", "doc-1"), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected token scoped to doc-1 to be forbidden on doc-2, got %d", rr.Code)
	}

	rr, _ = doRequest(t, handler, http.MethodGet, "/api/documents/doc-1/runs?limit=zero", issueTestToken(t, "viewer", ""), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}

	runs.listErr = errors.New("connection reset")
	rr, response = doRequest(t, handler, http.MethodGet, "/api/documents/doc-1/runs", issueTestToken(t, "viewer", ""), "")
	if rr.Code != http.StatusInternalServerError || response["code"] != "SERVER_ERROR" {
		t.Fatalf("expected 500 SERVER_ERROR, got %d %v", rr.Code, response)
	}
}

func TestRunsEndpointWithoutHistory(t *testing.T) {
	handler := NewHTTPServer(newTestService(spellChecker, nil, nil), "*").Handler()
	rr, response := doRequest(t, handler, http.MethodGet, "/api/documents/doc-1/runs", issueTestToken(t, "admin", ""), "")
	if rr.Code != http.StatusServiceUnavailable || response["code"] != "HISTORY_UNAVAILABLE" {
		t.Fatalf("expected 503 HISTORY_UNAVAILABLE, got %d %v", rr.Code, response)
	}
}

func TestActivityEndpoint(t *testing.T) {
	handler := NewHTTPServer(newTestService(spellChecker, newFakeRuns(), nil), "*").Handler()

	rr, _ := doRequest(t, handler, http.MethodGet, "/api/activity", issueTestToken(t, "editor", ""), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected editor to be forbidden, got %d", rr.Code)
	}
	rr, response := doRequest(t, handler, http.MethodGet, "/api/activity?since=2h", issueTestToken(t, "admin", ""), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if docs, _ := response["documents"].([]any); len(docs) != 1 {
		t.Fatalf("unexpected activity %v", response)
	}
	rr, _ = doRequest(t, handler, http.MethodGet, "/api/activity?since=yesterday", issueTestToken(t, "admin", ""), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := NewHTTPServer(newTestService(spellChecker, nil, nil), "*").Handler()
	rr, response := doRequest(t, handler, http.MethodGet, "/api/nowhere", issueTestToken(t, "admin", ""), "")
	if rr.Code != http.StatusNotFound || response["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404, got %d %v", rr.Code, response)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}
