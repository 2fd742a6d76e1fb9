package session

import (
	"context"
	"fmt"

	"chronicle/proofread/internal/analysis"
	"chronicle/proofread/internal/annotation"
	"chronicle/proofread/internal/flatten"
)

// Report is the result of a one-shot check.
type Report struct {
	Text        string                  `json:"text"`
	Anchors     []flatten.Anchor        `json:"anchors"`
	Language    string                  `json:"language"`
	Detected    string                  `json:"detectedLanguage,omitempty"`
	Matches     int                     `json:"matches"`
	Annotations []annotation.Annotation `json:"annotations"`
}

// Check flattens doc, analyzes it once and translates the matches, without
// any session state.
func Check(ctx context.Context, analyzer analysis.Analyzer, tr annotation.Translator, language string, doc flatten.Tree) (Report, error) {
	flat, err := flatten.Flatten(doc)
	if err != nil {
		return Report{}, err
	}
	if language == "" {
		language = analysis.DefaultLanguage
	}
	resp, err := analyzer.Check(ctx, analysis.Request{Text: flat.Text, Language: language})
	if err != nil {
		return Report{}, fmt.Errorf("check document: %w", err)
	}
	report := Report{
		Text:        flat.Text,
		Anchors:     flat.Anchors,
		Language:    language,
		Matches:     len(resp.Matches),
		Annotations: tr.Translate(resp.Matches, flat),
	}
	if resp.Language != nil {
		report.Detected = resp.Language.Code
		if resp.Language.DetectedLanguage != nil {
			report.Detected = resp.Language.DetectedLanguage.Code
		}
	}
	return report, nil
}
