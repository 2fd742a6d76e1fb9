// Package analysis defines the contract with the external grammar and style
// checker.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrTransport covers network failures, non-2xx replies, and malformed
	// responses. Callers treat it as a no-op for the request.
	ErrTransport = errors.New("analysis transport failure")
	// ErrResponseInvalid marks a reply that could not be decoded.
	ErrResponseInvalid = errors.New("analysis response invalid")
)

// DefaultLanguage lets the checker detect the language itself.
const DefaultLanguage = "auto"

// Request is one text submitted for checking.
type Request struct {
	Text     string
	Language string
}

// Analyzer checks flattened text and returns its findings.
type Analyzer interface {
	Check(ctx context.Context, req Request) (Response, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, req Request) (Response, error)

func (f AnalyzerFunc) Check(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Response is the checker's reply.
type Response struct {
	Software *Software     `json:"software,omitempty"`
	Language *LanguageInfo `json:"language,omitempty"`
	Matches  []Match       `json:"matches"`
}

type Software struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	APIVersion int    `json:"apiVersion"`
}

type LanguageInfo struct {
	Name             string        `json:"name"`
	Code             string        `json:"code"`
	DetectedLanguage *LanguageInfo `json:"detectedLanguage,omitempty"`
}

// Match is one finding anchored at a flat-text offset. Offset and Length are
// in UTF-16 units. Everything except the span is passed through untouched;
// Raw keeps the original JSON object.
type Match struct {
	Message      string        `json:"message"`
	ShortMessage string        `json:"shortMessage,omitempty"`
	Replacements []Replacement `json:"replacements"`
	Offset       int           `json:"offset"`
	Length       int           `json:"length"`
	Context      *MatchContext `json:"context,omitempty"`
	Sentence     string        `json:"sentence,omitempty"`
	Rule         Rule          `json:"rule"`

	Raw json.RawMessage `json:"-"`
}

type Replacement struct {
	Value string `json:"value"`
}

type MatchContext struct {
	Text   string `json:"text"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

type Rule struct {
	ID          string   `json:"id"`
	SubID       string   `json:"subId,omitempty"`
	Description string   `json:"description"`
	IssueType   string   `json:"issueType"`
	Category    Category `json:"category"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnmarshalJSON decodes the match and keeps a copy of the raw object.
func (m *Match) UnmarshalJSON(data []byte) error {
	type plain Match
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*m = Match(decoded)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the original object back out when there is one, so
// fields this package does not model survive a cache round trip.
func (m Match) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type plain Match
	return json.Marshal(plain(m))
}

// Payload returns the serialized match for downstream consumers.
func (m Match) Payload() json.RawMessage {
	encoded, err := m.MarshalJSON()
	if err != nil {
		return nil
	}
	return encoded
}

// Category is the issue type used to style the annotation.
func (m Match) Category() string {
	return m.Rule.IssueType
}

// ID identifies the rule that produced the match.
func (m Match) ID() string {
	return m.Rule.ID
}

// Fingerprint identifies a request by its language and text.
func (r Request) Fingerprint() string {
	language := r.Language
	if language == "" {
		language = DefaultLanguage
	}
	sum := sha256.Sum256([]byte(language + "\x00" + r.Text))
	return hex.EncodeToString(sum[:])
}

// WithTimeout bounds every call to a by d. A non-positive d returns a as is.
func WithTimeout(a Analyzer, d time.Duration) Analyzer {
	if d <= 0 {
		return a
	}
	return AnalyzerFunc(func(ctx context.Context, req Request) (Response, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return a.Check(ctx, req)
	})
}
