package store

import "time"

// Analysis run outcomes.
const (
	OutcomeApplied = "APPLIED"
	OutcomeStale   = "STALE"
	OutcomeFailed  = "FAILED"
)

// AnalysisRun is one analyzer round trip made by a sync session.
type AnalysisRun struct {
	ID          int64
	DocumentID  string
	SessionID   string
	Version     int64
	Language    string
	Fingerprint string
	TextLength  int
	Matches     int
	Outcome     string
	Error       string
	DurationMS  int64
	CreatedAt   time.Time
}

// DocumentActivity summarizes the runs recorded for one document.
type DocumentActivity struct {
	DocumentID  string
	Runs        int
	Failed      int
	LastOutcome string
	LastRunAt   time.Time
}
