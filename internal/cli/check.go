package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chronicle/proofread/internal/analysis"
	"chronicle/proofread/internal/annotation"
	"chronicle/proofread/internal/cache"
	"chronicle/proofread/internal/flatten"
	"chronicle/proofread/internal/languagetool"
	"chronicle/proofread/internal/prosemirror"
	"chronicle/proofread/internal/report"
	"chronicle/proofread/internal/session"
)

type checkOptions struct {
	dir         string
	language    string
	format      string
	cachePath   string
	noCache     bool
	noProgress  bool
	concurrency int
}

// fileResult is one line of check output.
type fileResult struct {
	Path   string          `json:"path"`
	Report *session.Report `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`

	doc *prosemirror.Node
}

func newCheckCommand(g *globals) *cobra.Command {
	opts := checkOptions{}
	cmd := &cobra.Command{
		Use:   "check [patterns...]",
		Short: "Check documents matching the given glob patterns",
		Long: `Check flattens every matching document, analyzes it and prints the
findings with their document positions. Patterns are doublestar globs
relative to --dir and default to **/*.json. JSON files are read as
ProseMirror documents; anything else is read as plain text, one paragraph
per line.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, g, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", ".", "root directory for patterns")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "language code (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "output format: text, json or html")
	cmd.Flags().StringVar(&opts.cachePath, "cache", "", "analysis cache file (default from config)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "always call the analyzer")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "hide the progress bar")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 4, "documents analyzed at once")
	return cmd
}

func runCheck(cmd *cobra.Command, g *globals, opts checkOptions, patterns []string) error {
	if opts.format != "text" && opts.format != "json" && opts.format != "html" {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	if err := g.cfg.Validate(); err != nil {
		return err
	}
	if len(patterns) == 0 {
		patterns = defaultPatterns
	}
	files, err := collectFiles(opts.dir, patterns)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(files) == 0 {
		printf(out, "No documents matched.\n")
		return nil
	}

	client, err := languagetool.New(languagetool.Options{APIURL: g.cfg.APIURL})
	if err != nil {
		return err
	}
	analyzer := analysis.WithTimeout(client, g.cfg.AnalyzerTimeout)
	if !opts.noCache {
		path := opts.cachePath
		if path == "" {
			path = g.cfg.CachePath
		}
		bolt, err := cache.OpenBolt(path, g.cfg.CacheTTL)
		if err != nil {
			return err
		}
		defer bolt.Close()
		analyzer = cache.NewAnalyzer(analyzer, bolt, g.log)
	}

	language := opts.language
	if language == "" {
		language = g.cfg.Language
	}
	tr := annotation.Translator{Bias: g.cfg.PositionBias}

	bar := newProgressBar(len(files), cmd.ErrOrStderr(), opts.noProgress)
	results := make([]fileResult, len(files))

	grp, ctx := errgroup.WithContext(cmd.Context())
	grp.SetLimit(max(opts.concurrency, 1))
	for i, file := range files {
		grp.Go(func() error {
			results[i] = checkFile(ctx, analyzer, tr, language, opts.dir, file)
			if results[i].Error != "" {
				g.log.Warn("check failed", "path", file, "error", results[i].Error)
			}
			_ = bar.Add(1)
			return nil
		})
	}
	_ = grp.Wait()
	_ = bar.Finish()

	var failed int
	for _, result := range results {
		if result.Error != "" {
			failed++
		}
	}
	switch opts.format {
	case "json":
		if err := writeJSONResults(out, results); err != nil {
			return err
		}
	case "html":
		if err := writeHTMLResults(out, results, tr); err != nil {
			return err
		}
	default:
		writeTextResults(out, results, tr)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents could not be checked", failed, len(files))
	}
	return nil
}

func checkFile(ctx context.Context, analyzer analysis.Analyzer, tr annotation.Translator, language, dir, file string) fileResult {
	result := fileResult{Path: file}
	doc, err := readDocument(filepath.Join(dir, file))
	if err != nil {
		result.Error = err.Error()
		return result
	}
	rep, err := session.Check(ctx, analyzer, tr, language, doc)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Report = &rep
	result.doc = doc
	return result
}

func newProgressBar(total int, w io.Writer, silent bool) *progressbar.ProgressBar {
	if silent {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Checking"),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
}

func writeJSONResults(w io.Writer, results []fileResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writeHTMLResults(w io.Writer, results []fileResult, tr annotation.Translator) error {
	page := report.Page{Title: "Proofread report", GeneratedAt: time.Now()}
	for _, result := range results {
		doc := report.Document{Path: result.Path, Error: result.Error}
		if result.Report != nil {
			doc.Language = result.Report.Language
			if result.Report.Detected != "" {
				doc.Language = result.Report.Detected
			}
			doc.ContentHTML = template.HTML(report.DocumentHTML(result.doc, result.Report.Annotations))
			flat := &flatten.Map{Text: result.Report.Text, Anchors: result.Report.Anchors}
			for _, a := range result.Report.Annotations {
				doc.Findings = append(doc.Findings, report.Finding{
					From:     a.From,
					To:       a.To,
					Category: a.Category,
					RuleID:   a.RuleID,
					Message:  a.Message,
					Excerpt:  excerpt(a, flat, tr),
				})
			}
		}
		page.Documents = append(page.Documents, doc)
	}
	return page.Write(w)
}

func excerpt(a annotation.Annotation, flat *flatten.Map, tr annotation.Translator) string {
	offset, length, ok := tr.FlatSpan(a, flat)
	if !ok {
		return ""
	}
	return flat.Slice(offset, length)
}

// writeTextResults prints one line per finding:
// path:from-to category "excerpt" message (rule).
func writeTextResults(w io.Writer, results []fileResult, tr annotation.Translator) {
	var total int
	for _, result := range results {
		if result.Error != "" {
			printf(w, "%s: error: %s\n", result.Path, result.Error)
			continue
		}
		flat := &flatten.Map{Text: result.Report.Text, Anchors: result.Report.Anchors}
		for _, a := range result.Report.Annotations {
			line := fmt.Sprintf("%s:%d-%d %s %q", result.Path, a.From, a.To, a.Category, excerpt(a, flat, tr))
			if a.Message != "" {
				line += " " + a.Message
			}
			if a.RuleID != "" {
				line += " (" + a.RuleID + ")"
			}
			printf(w, "%s\n", strings.TrimSpace(line))
			total++
		}
	}
	printf(w, "%d findings in %d documents\n", total, len(results))
}
