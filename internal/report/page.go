package report

import (
	"embed"
	"html/template"
	"io"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/report.html"))

// Page is a report over any number of checked documents.
type Page struct {
	Title       string
	GeneratedAt time.Time
	Documents   []Document
}

// Document is one checked document. ContentHTML comes from DocumentHTML.
type Document struct {
	Path        string
	Language    string
	Error       string
	ContentHTML template.HTML
	Findings    []Finding
}

// Finding is one annotation as listed under its document.
type Finding struct {
	From     int
	To       int
	Category string
	RuleID   string
	Message  string
	Excerpt  string
}

// Total is the number of findings across all documents.
func (p Page) Total() int {
	n := 0
	for _, doc := range p.Documents {
		n += len(doc.Findings)
	}
	return n
}

// Write renders the page to w.
func (p Page) Write(w io.Writer) error {
	return pageTemplate.Execute(w, p)
}
