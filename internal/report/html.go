// Package report renders proofread documents as HTML, with every annotation
// drawn as a highlight over the text it covers.
package report

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf16"

	"chronicle/proofread/internal/annotation"
	"chronicle/proofread/internal/prosemirror"
)

// DocumentHTML renders doc with anns highlighted. Annotation positions are
// absolute document positions, the ones the editor uses. Where annotations
// overlap, the last one is drawn on top.
func DocumentHTML(doc *prosemirror.Node, anns []annotation.Annotation) string {
	if doc == nil {
		return ""
	}
	r := renderer{set: annotation.NewSet(anns)}
	var sb strings.Builder
	r.content(&sb, doc, 0)
	return sb.String()
}

type renderer struct {
	set annotation.Set
}

// content renders the children of n, whose content starts at start.
func (r renderer) content(sb *strings.Builder, n *prosemirror.Node, start int) {
	pos := start
	for i := range n.Content {
		child := &n.Content[i]
		r.node(sb, child, pos)
		pos += child.NodeSize()
	}
}

// node renders n, which sits at pos.
func (r renderer) node(sb *strings.Builder, n *prosemirror.Node, pos int) {
	inner := func() string {
		var b strings.Builder
		r.content(&b, n, pos+1)
		return b.String()
	}

	switch n.Type {
	case "text":
		sb.WriteString(r.text(n, pos))
	case "paragraph":
		fmt.Fprintf(sb, "<p>%s</p>\n", inner())
	case "heading":
		level := 1
		if lvl, ok := n.Attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			level = int(lvl)
		}
		fmt.Fprintf(sb, "<h%d>%s</h%d>\n", level, inner(), level)
	case "bulletList":
		fmt.Fprintf(sb, "<ul>\n%s</ul>\n", inner())
	case "orderedList":
		fmt.Fprintf(sb, "<ol>\n%s</ol>\n", inner())
	case "listItem", "taskItem":
		fmt.Fprintf(sb, "<li>%s</li>\n", inner())
	case "taskList":
		fmt.Fprintf(sb, "<ul class=\"tasks\">\n%s</ul>\n", inner())
	case "blockquote":
		fmt.Fprintf(sb, "<blockquote>\n%s</blockquote>\n", inner())
	case "codeBlock":
		fmt.Fprintf(sb, "<pre><code>%s</code></pre>\n", inner())
	case "table":
		fmt.Fprintf(sb, "<table>\n%s</table>\n", inner())
	case "tableRow":
		fmt.Fprintf(sb, "<tr>\n%s</tr>\n", inner())
	case "tableCell":
		fmt.Fprintf(sb, "<td>%s</td>\n", inner())
	case "tableHeader":
		fmt.Fprintf(sb, "<th>%s</th>\n", inner())
	case "hardBreak":
		sb.WriteString("<br>")
	case "horizontalRule":
		sb.WriteString("<hr>\n")
	default:
		if !n.IsLeaf() {
			sb.WriteString(inner())
		}
	}
}

// text renders a text node starting at pos, splitting it wherever an
// annotation starts or ends inside it.
func (r renderer) text(n *prosemirror.Node, pos int) string {
	units := utf16.Encode([]rune(n.Text))
	end := pos + len(units)

	cuts := []int{pos, end}
	for _, a := range r.set.All() {
		if a.To <= pos || a.From >= end {
			continue
		}
		if a.From > pos {
			cuts = append(cuts, a.From)
		}
		if a.To < end {
			cuts = append(cuts, a.To)
		}
	}
	sort.Ints(cuts)

	var sb strings.Builder
	for i := 0; i+1 < len(cuts); i++ {
		from, to := cuts[i], cuts[i+1]
		if from == to {
			continue
		}
		segment := withMarks(html.EscapeString(string(utf16.Decode(units[from-pos:to-pos]))), n.Marks)
		if a, ok := r.top(from); ok {
			segment = highlight(segment, a)
		}
		sb.WriteString(segment)
	}
	return sb.String()
}

// top is the last annotation covering pos.
func (r renderer) top(pos int) (annotation.Annotation, bool) {
	covering := r.set.At(pos)
	if len(covering) == 0 {
		return annotation.Annotation{}, false
	}
	return covering[len(covering)-1], true
}

func highlight(inner string, a annotation.Annotation) string {
	return fmt.Sprintf(`<mark class="finding finding-%s" data-uuid="%s" title="%s">%s</mark>`,
		html.EscapeString(a.Category), html.EscapeString(a.UUID), html.EscapeString(a.Message), inner)
}

// withMarks applies formatting marks from the outside in.
func withMarks(text string, marks []prosemirror.Mark) string {
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			text = "<strong>" + text + "</strong>"
		case "italic":
			text = "<em>" + text + "</em>"
		case "code":
			text = "<code>" + text + "</code>"
		case "strike":
			text = "<s>" + text + "</s>"
		case "underline":
			text = "<u>" + text + "</u>"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			text = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), text)
		}
	}
	return text
}
