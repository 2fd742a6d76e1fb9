package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/proofread/internal/analysis"
	"chronicle/proofread/internal/annotation"
	"chronicle/proofread/internal/auth"
	"chronicle/proofread/internal/config"
	"chronicle/proofread/internal/flatten"
	"chronicle/proofread/internal/prosemirror"
	"chronicle/proofread/internal/rbac"
	"chronicle/proofread/internal/schedule"
	syncsession "chronicle/proofread/internal/session"
	"chronicle/proofread/internal/store"
)

// tokenLeeway absorbs clock skew with the Chronicle API that issues tokens.
const tokenLeeway = 30 * time.Second

// Session is the caller identified by a bearer token.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	Document  string
	JTI       string
	ExpiresAt time.Time

	claims auth.Claims
}

func (s Session) allows(documentID string) bool {
	return s.claims.AllowsDocument(documentID)
}

type runStore interface {
	RecordRun(context.Context, store.AnalysisRun) error
	ListRuns(context.Context, string, int) ([]store.AnalysisRun, error)
	ListActivity(context.Context, time.Time) ([]store.DocumentActivity, error)
	Ping(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Service runs with. Runs and Cache are
// optional.
type Deps struct {
	Analyzer analysis.Analyzer
	Runs     runStore
	Cache    pinger
	Logger   *slog.Logger
	Clock    schedule.Clock
}

type liveSession struct {
	id         string
	documentID string
	userName   string
	openedAt   time.Time
	ctrl       *syncsession.Controller
}

type Service struct {
	cfg      config.Config
	analyzer analysis.Analyzer
	runs     runStore
	cache    pinger
	log      *slog.Logger
	clock    schedule.Clock
	tokens   *auth.Verifier

	mu       sync.Mutex
	sessions map[string]*liveSession
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		analyzer: analysis.WithTimeout(deps.Analyzer, cfg.AnalyzerTimeout),
		runs:     deps.Runs,
		cache:    deps.Cache,
		log:      logger,
		clock:    deps.Clock,
		tokens:   auth.NewVerifier([]byte(cfg.TokenSecret), tokenLeeway),
		sessions: make(map[string]*liveSession),
	}
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		Document:  claims.Doc,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
		claims:    claims,
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ping checks every configured backend and returns one entry per backend.
func (s *Service) Ping(ctx context.Context) (map[string]error, bool) {
	checks := map[string]error{}
	ok := true
	if s.runs != nil {
		checks["database"] = s.runs.Ping(ctx)
		ok = ok && checks["database"] == nil
	}
	if s.cache != nil {
		checks["cache"] = s.cache.Ping(ctx)
		ok = ok && checks["cache"] == nil
	}
	return checks, ok
}

func (s *Service) translator() annotation.Translator {
	tr := annotation.NewTranslator()
	tr.Bias = s.cfg.PositionBias
	return tr
}

func (s *Service) language(requested string) string {
	if requested != "" {
		return requested
	}
	if s.cfg.Language != "" {
		return s.cfg.Language
	}
	return analysis.DefaultLanguage
}

func parseDocument(raw json.RawMessage) (*prosemirror.Node, error) {
	if len(raw) == 0 {
		return nil, validationError("doc is required")
	}
	doc, err := prosemirror.Parse(raw)
	if err != nil {
		return nil, invalidDocument(err)
	}
	return doc, nil
}

// Check runs a one-shot analysis of raw.
func (s *Service) Check(ctx context.Context, raw json.RawMessage, language string) (syncsession.Report, error) {
	doc, err := parseDocument(raw)
	if err != nil {
		return syncsession.Report{}, err
	}
	report, err := syncsession.Check(ctx, s.analyzer, s.translator(), s.language(language), doc)
	if err != nil {
		return syncsession.Report{}, analyzerError(err)
	}
	return report, nil
}

func analyzerError(err error) error {
	switch {
	case errors.Is(err, flatten.ErrInvalidInput):
		return invalidDocument(err)
	case errors.Is(err, analysis.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return domainError(http.StatusBadGateway, codeAnalyzerUnavailable, "Analyzer request failed", nil)
	default:
		return err
	}
}

func (s *Service) ListRuns(ctx context.Context, documentID string, limit int) ([]map[string]any, error) {
	if s.runs == nil {
		return nil, historyUnavailable()
	}
	runs, err := s.runs.ListRuns(ctx, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	items := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		item := map[string]any{
			"id":          run.ID,
			"sessionId":   run.SessionID,
			"version":     run.Version,
			"language":    run.Language,
			"fingerprint": run.Fingerprint,
			"textLength":  run.TextLength,
			"matches":     run.Matches,
			"outcome":     run.Outcome,
			"durationMs":  run.DurationMS,
			"createdAt":   run.CreatedAt,
		}
		if run.Error != "" {
			item["error"] = run.Error
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) Activity(ctx context.Context, since time.Time) ([]map[string]any, error) {
	if s.runs == nil {
		return nil, historyUnavailable()
	}
	activity, err := s.runs.ListActivity(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	items := make([]map[string]any, 0, len(activity))
	for _, a := range activity {
		items = append(items, map[string]any{
			"documentId":  a.DocumentID,
			"runs":        a.Runs,
			"failed":      a.Failed,
			"lastOutcome": a.LastOutcome,
			"lastRunAt":   a.LastRunAt,
		})
	}
	return items, nil
}

// OpenSession starts a sync controller for documentID on doc. The controller
// runs until ctx is cancelled and is listed by LiveSessions while it runs.
func (s *Service) OpenSession(ctx context.Context, session Session, documentID string, doc *prosemirror.Node, sink syncsession.Sink) (*syncsession.Controller, string) {
	id := uuid.NewString()
	tr := s.translator()
	opts := syncsession.Options{
		DocumentID: documentID,
		SessionID:  id,
		Language:   s.language(""),
		Debounce:   s.cfg.Debounce,
		Clock:      s.clock,
		Translator: &tr,
		Logger:     s.log,
	}
	if s.runs != nil {
		opts.Recorder = s.runs
	}
	ctrl := syncsession.New(s.analyzer, sink, opts)

	s.mu.Lock()
	s.sessions[id] = &liveSession{
		id:         id,
		documentID: documentID,
		userName:   session.UserName,
		openedAt:   time.Now().UTC(),
		ctrl:       ctrl,
	}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
		}()
		if err := ctrl.Run(ctx, doc); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("sync session ended", "session", id, "document", documentID, "error", err)
		}
	}()
	s.log.Info("sync session opened", "session", id, "document", documentID, "user", session.UserName)
	return ctrl, id
}

// LiveSessions reports every running controller, oldest first.
func (s *Service) LiveSessions(ctx context.Context) []map[string]any {
	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		live = append(live, ls)
	}
	s.mu.Unlock()
	sort.Slice(live, func(i, j int) bool { return live[i].openedAt.Before(live[j].openedAt) })

	items := make([]map[string]any, 0, len(live))
	for _, ls := range live {
		status, err := ls.ctrl.Status(ctx)
		if err != nil {
			continue
		}
		items = append(items, map[string]any{
			"sessionId":    ls.id,
			"documentId":   ls.documentID,
			"userName":     ls.userName,
			"openedAt":     ls.openedAt,
			"state":        status.State.String(),
			"version":      status.Version,
			"annotations":  status.Annotations,
			"lastAnalyzed": status.LastAnalyzed,
		})
	}
	return items
}
