// Package languagetool implements analysis.Analyzer against a LanguageTool
// compatible /check endpoint.
package languagetool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chronicle/proofread/internal/analysis"
)

// maxErrorBody bounds how much of a failed reply ends up in the error.
const maxErrorBody = 512

// Options configures the client.
type Options struct {
	// APIURL is the full check endpoint, e.g. https://lt.example.com/v2/check.
	APIURL string
	// Timeout bounds each call. Zero leaves calls unbounded; callers decide
	// through ctx instead.
	Timeout time.Duration
	// Headers are added to every request.
	Headers map[string]string
}

type Client struct {
	url     string
	headers map[string]string
	do      func(*http.Request) (*http.Response, error)
}

// New builds a client. APIURL is required.
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.APIURL)
	if endpoint == "" {
		return nil, fmt.Errorf("languagetool: api url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("languagetool: parse api url: %w", err)
	}
	hc := &http.Client{Timeout: opts.Timeout}
	return &Client{url: endpoint, headers: opts.Headers, do: hc.Do}, nil
}

// upstreamError carries the HTTP status of a failed check.
type upstreamError struct {
	status int
	body   string
}

func (e upstreamError) Error() string {
	return fmt.Sprintf("languagetool upstream %d: %s", e.status, e.body)
}

// Status returns the HTTP status code of the failed reply.
func (e upstreamError) Status() int { return e.status }

// Check posts the text as a form and decodes the matches.
func (c *Client) Check(ctx context.Context, req analysis.Request) (analysis.Response, error) {
	language := req.Language
	if language == "" {
		language = analysis.DefaultLanguage
	}
	body := "text=" + url.QueryEscape(req.Text) +
		"&language=" + url.QueryEscape(language) +
		"&enabledOnly=false"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(body))
	if err != nil {
		return analysis.Response{}, fmt.Errorf("%w: build request: %v", analysis.ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.do(httpReq)
	if err != nil {
		return analysis.Response{}, fmt.Errorf("%w: %w", analysis.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return analysis.Response{}, fmt.Errorf("%w: %w", analysis.ErrTransport, upstreamError{
			status: resp.StatusCode,
			body:   strings.TrimSpace(string(excerpt)),
		})
	}

	var decoded analysis.Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return analysis.Response{}, fmt.Errorf("%w: %w: %v", analysis.ErrTransport, analysis.ErrResponseInvalid, err)
	}
	if decoded.Matches == nil {
		decoded.Matches = []analysis.Match{}
	}
	return decoded, nil
}
