// Package session keeps one document's annotations in step with the
// document while it is edited.
//
// A Controller runs a single event loop. Edits, debounce timer firings,
// analyzer results and status queries are all events on that loop, so the
// annotation set, the document version and the scheduler are only ever
// touched from one goroutine. Analyzer calls run on their own goroutines and
// report back as result events tagged with the version they were dispatched
// for; a result whose version is no longer current is dropped.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"chronicle/proofread/internal/analysis"
	"chronicle/proofread/internal/annotation"
	"chronicle/proofread/internal/flatten"
	"chronicle/proofread/internal/schedule"
	"chronicle/proofread/internal/store"
)

var (
	ErrClosed         = errors.New("session closed")
	ErrAlreadyRunning = errors.New("session already running")
)

// State is where the controller sits in its edit/analyze cycle.
type State int

const (
	StateIdle State = iota
	StateEditedPending
	StateAnalyzing
	StateApplyingResult
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEditedPending:
		return "edited_pending"
	case StateAnalyzing:
		return "analyzing"
	case StateApplyingResult:
		return "applying_result"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Origin says what produced a snapshot.
type Origin string

const (
	// OriginRemap snapshots follow an edit; positions moved, content did not.
	OriginRemap Origin = "remap"
	// OriginAnalysis snapshots carry a freshly applied analyzer result.
	OriginAnalysis Origin = "analysis"
)

// Snapshot is the annotation set current at a document version.
type Snapshot struct {
	DocumentID  string
	Version     uint64
	Origin      Origin
	Annotations annotation.Set
}

// Sink receives snapshots. Render is called on the controller's loop and must
// not block.
type Sink interface {
	Render(Snapshot)
}

type SinkFunc func(Snapshot)

func (f SinkFunc) Render(s Snapshot) { f(s) }

// Recorder persists analysis runs. Calls happen off the loop.
type Recorder interface {
	RecordRun(ctx context.Context, run store.AnalysisRun) error
}

// Status describes a running controller.
type Status struct {
	DocumentID   string `json:"documentId"`
	SessionID    string `json:"sessionId"`
	State        State  `json:"state"`
	Version      uint64 `json:"version"`
	Annotations  int    `json:"annotations"`
	LastAnalyzed uint64 `json:"lastAnalyzed"`
}

type Options struct {
	DocumentID string
	SessionID  string
	// Language is sent with every request; analysis.DefaultLanguage when
	// empty.
	Language string
	// Debounce is the quiet period after the last edit; the scheduler default
	// when zero.
	Debounce time.Duration
	Clock    schedule.Clock
	// Translator defaults to annotation.NewTranslator().
	Translator *annotation.Translator
	Logger     *slog.Logger
	Recorder   Recorder
}

type pendingAnalysis struct {
	doc     flatten.Tree
	version uint64
}

type event interface{}

type editEvent struct {
	doc   flatten.Tree
	edits annotation.Mapper
}

type fireEvent struct {
	gen uint64
}

type resultEvent struct {
	version uint64
	flat    *flatten.Map
	resp    analysis.Response
	err     error
	took    time.Duration
}

type statusEvent struct {
	reply chan Status
}

type annotationsEvent struct {
	reply chan annotation.Set
}

// Controller owns the annotation set for one document.
type Controller struct {
	analyzer   analysis.Analyzer
	sink       Sink
	translator annotation.Translator
	language   string
	documentID string
	sessionID  string
	recorder   Recorder
	log        *slog.Logger

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// Loop-owned.
	ctx          context.Context
	sched        *schedule.Scheduler[pendingAnalysis]
	version      uint64
	set          annotation.Set
	state        State
	awaiting     uint64
	lastAnalyzed uint64
}

func New(analyzer analysis.Analyzer, sink Sink, opts Options) *Controller {
	translator := annotation.NewTranslator()
	if opts.Translator != nil {
		translator = *opts.Translator
	}
	language := opts.Language
	if language == "" {
		language = analysis.DefaultLanguage
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = SinkFunc(func(Snapshot) {})
	}
	c := &Controller{
		analyzer:   analyzer,
		sink:       sink,
		translator: translator,
		language:   language,
		documentID: opts.DocumentID,
		sessionID:  opts.SessionID,
		recorder:   opts.Recorder,
		log:        logger.With("document", opts.DocumentID, "session", opts.SessionID),
		events:     make(chan event, 64),
		done:       make(chan struct{}),
	}
	c.sched = schedule.New[pendingAnalysis](opts.Debounce, opts.Clock, c.notify, c.dispatch)
	return c
}

// Run starts the loop on doc and analyzes it immediately. It blocks until ctx
// is cancelled.
func (c *Controller) Run(ctx context.Context, doc flatten.Tree) error {
	if flatten.Missing(doc) {
		return flatten.ErrInvalidInput
	}
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	c.ctx = ctx
	c.version = 1
	c.log.Debug("session started")
	c.sched.Immediate(pendingAnalysis{doc: doc, version: c.version})

	for {
		select {
		case <-ctx.Done():
			c.sched.Cancel()
			c.log.Debug("session stopped", "version", c.version)
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Done is closed once Run returns.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Edit reports that the document is now doc, reached from the previous
// version through edits. A nil edits leaves positions where they are.
func (c *Controller) Edit(ctx context.Context, doc flatten.Tree, edits annotation.Mapper) error {
	if flatten.Missing(doc) {
		return flatten.ErrInvalidInput
	}
	return c.post(ctx, editEvent{doc: doc, edits: edits})
}

// Status asks the loop for its current state.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := c.post(ctx, statusEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-c.done:
		return Status{}, ErrClosed
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Annotations returns the set as of the current version.
func (c *Controller) Annotations(ctx context.Context) (annotation.Set, error) {
	reply := make(chan annotation.Set, 1)
	if err := c.post(ctx, annotationsEvent{reply: reply}); err != nil {
		return annotation.Set{}, err
	}
	select {
	case set := <-reply:
		return set, nil
	case <-c.done:
		return annotation.Set{}, ErrClosed
	case <-ctx.Done():
		return annotation.Set{}, ctx.Err()
	}
}

func (c *Controller) post(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify runs on the timer goroutine.
func (c *Controller) notify(gen uint64) {
	select {
	case c.events <- fireEvent{gen: gen}:
	case <-c.done:
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case editEvent:
		c.handleEdit(ev)
	case fireEvent:
		c.sched.Fire(ev.gen)
	case resultEvent:
		c.handleResult(ev)
	case statusEvent:
		ev.reply <- Status{
			DocumentID:   c.documentID,
			SessionID:    c.sessionID,
			State:        c.state,
			Version:      c.version,
			Annotations:  c.set.Len(),
			LastAnalyzed: c.lastAnalyzed,
		}
	case annotationsEvent:
		ev.reply <- c.set
	}
}

// handleEdit remaps before scheduling, so the snapshot it emits is already
// consistent with the new document.
func (c *Controller) handleEdit(ev editEvent) {
	c.version++
	if ev.edits != nil {
		c.set = c.set.Remap(ev.edits)
	}
	c.sched.Schedule(pendingAnalysis{doc: ev.doc, version: c.version})
	if c.state != StateAnalyzing {
		c.state = StateEditedPending
	}
	c.emit(OriginRemap)
}

// dispatch runs on the loop, from Fire or Immediate.
func (c *Controller) dispatch(p pendingAnalysis) {
	flat, err := flatten.Flatten(p.doc)
	if err != nil {
		c.log.Error("flatten document", "version", p.version, "error", err)
		c.settle()
		return
	}
	c.state = StateAnalyzing
	c.awaiting = p.version
	c.log.Debug("analysis dispatched", "version", p.version, "length", flat.Size())

	ctx := c.ctx
	req := analysis.Request{Text: flat.Text, Language: c.language}
	go func() {
		started := time.Now()
		resp, err := c.analyzer.Check(ctx, req)
		ev := resultEvent{version: p.version, flat: flat, resp: resp, err: err, took: time.Since(started)}
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}()
}

func (c *Controller) handleResult(ev resultEvent) {
	if ev.version == c.awaiting {
		c.awaiting = 0
	}
	req := analysis.Request{Text: ev.flat.Text, Language: c.language}
	run := store.AnalysisRun{
		DocumentID:  c.documentID,
		SessionID:   c.sessionID,
		Version:     int64(ev.version),
		Language:    c.language,
		Fingerprint: req.Fingerprint(),
		TextLength:  ev.flat.Size(),
		DurationMS:  ev.took.Milliseconds(),
	}

	switch {
	case ev.version != c.version:
		c.log.Debug("discarding stale analysis", "dispatched", ev.version, "current", c.version)
		run.Outcome = store.OutcomeStale
	case ev.err != nil:
		c.log.Error("analysis failed", "version", ev.version, "error", ev.err)
		run.Outcome = store.OutcomeFailed
		run.Error = ev.err.Error()
	default:
		c.state = StateApplyingResult
		anns := c.translator.Translate(ev.resp.Matches, ev.flat)
		c.set = c.set.ReplaceAll(anns)
		c.lastAnalyzed = ev.version
		c.log.Debug("analysis applied", "version", ev.version, "annotations", len(anns), "matches", len(ev.resp.Matches))
		run.Outcome = store.OutcomeApplied
		run.Matches = len(anns)
		c.emit(OriginAnalysis)
	}
	c.settle()
	c.record(run)
}

func (c *Controller) settle() {
	switch {
	case c.awaiting != 0:
		c.state = StateAnalyzing
	case c.sched.Pending():
		c.state = StateEditedPending
	default:
		c.state = StateIdle
	}
}

func (c *Controller) emit(origin Origin) {
	c.sink.Render(Snapshot{
		DocumentID:  c.documentID,
		Version:     c.version,
		Origin:      origin,
		Annotations: c.set,
	})
}

func (c *Controller) record(run store.AnalysisRun) {
	if c.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.recorder.RecordRun(ctx, run); err != nil {
			c.log.Warn("record analysis run", "version", run.Version, "error", err)
		}
	}()
}
