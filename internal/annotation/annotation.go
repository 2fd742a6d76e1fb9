// Package annotation turns analyzer matches into tree-anchored annotations
// and keeps them positioned as the document changes.
package annotation

import (
	"encoding/json"

	"github.com/google/uuid"

	"chronicle/proofread/internal/analysis"
	"chronicle/proofread/internal/flatten"
)

// DefaultBias is the distance between a flat offset and its tree position
// under ProseMirror numbering, where the first block's text starts one past
// its opening token.
const DefaultBias = 1

// Annotation is a match translated into tree positions, covering [From, To).
type Annotation struct {
	From     int             `json:"from"`
	To       int             `json:"to"`
	Category string          `json:"category"`
	RuleID   string          `json:"ruleId,omitempty"`
	Message  string          `json:"message,omitempty"`
	UUID     string          `json:"uuid"`
	Payload  json.RawMessage `json:"match,omitempty"`
}

// Translator converts flat-text matches into annotations.
type Translator struct {
	// Bias is added to every translated position. See DefaultBias.
	Bias int
	// NewID mints annotation ids; uuid.NewString when nil.
	NewID func() string
}

// NewTranslator returns a translator using DefaultBias and random UUIDs.
func NewTranslator() Translator {
	return Translator{Bias: DefaultBias, NewID: uuid.NewString}
}

// Translate produces one annotation per match, in match order. Overlapping
// matches are kept as they are. Matches that cannot be anchored in m are
// skipped.
func (t Translator) Translate(matches []analysis.Match, m *flatten.Map) []Annotation {
	newID := t.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	size := m.Size()
	out := make([]Annotation, 0, len(matches))
	for _, match := range matches {
		if match.Length < 1 || match.Offset < 0 || match.Offset+match.Length > size {
			continue
		}
		pos, ok := m.TreePos(match.Offset)
		if !ok {
			continue
		}
		from := pos + t.Bias
		out = append(out, Annotation{
			From:     from,
			To:       from + match.Length,
			Category: match.Category(),
			RuleID:   match.ID(),
			Message:  match.Message,
			UUID:     newID(),
			Payload:  match.Payload(),
		})
	}
	return out
}

// FlatSpan maps an annotation back to the flat offset and length it came
// from.
func (t Translator) FlatSpan(a Annotation, m *flatten.Map) (offset, length int, ok bool) {
	offset, ok = m.FlatOffset(a.From - t.Bias)
	if !ok {
		return 0, 0, false
	}
	return offset, a.To - a.From, true
}
