// Package prosemirror decodes ProseMirror JSON documents and edit maps into
// the shapes the proofreading core consumes.
package prosemirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chronicle/proofread/internal/flatten"
)

var ErrInvalidDocument = errors.New("invalid prosemirror document")

// Node represents a node in the ProseMirror document tree
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`

	kind kind
}

// Mark represents a text mark (formatting)
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

type kind int

const (
	kindUnresolved kind = iota
	kindText
	kindInlineLeaf
	kindTextblock
	kindContainer
	kindBlockLeaf
)

// nodeKinds covers the Tiptap starter kit plus the table and task extensions
// Chronicle's editor ships with. Anything else is inferred from its shape.
var nodeKinds = map[string]kind{
	"doc":            kindContainer,
	"paragraph":      kindTextblock,
	"heading":        kindTextblock,
	"codeBlock":      kindTextblock,
	"blockquote":     kindContainer,
	"bulletList":     kindContainer,
	"orderedList":    kindContainer,
	"listItem":       kindContainer,
	"taskList":       kindContainer,
	"taskItem":       kindContainer,
	"table":          kindContainer,
	"tableRow":       kindContainer,
	"tableCell":      kindContainer,
	"tableHeader":    kindContainer,
	"horizontalRule": kindBlockLeaf,
	"text":           kindText,
	"hardBreak":      kindInlineLeaf,
	"image":          kindInlineLeaf,
	"mention":        kindInlineLeaf,
	"emoji":          kindInlineLeaf,
}

// Parse decodes a ProseMirror JSON document. The root must be a doc node.
func Parse(data []byte) (*Node, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if root.Type != "doc" {
		return nil, fmt.Errorf("%w: root type %q", ErrInvalidDocument, root.Type)
	}
	root.resolve(false)
	return &root, nil
}

func (n *Node) resolve(inTextblock bool) {
	k, ok := nodeKinds[n.Type]
	if !ok {
		k = n.infer(inTextblock)
	}
	n.kind = k
	for i := range n.Content {
		n.Content[i].resolve(k == kindTextblock)
	}
}

func (n *Node) infer(inTextblock bool) kind {
	if n.Text != "" {
		return kindText
	}
	if inTextblock {
		return kindInlineLeaf
	}
	if len(n.Content) == 0 {
		return kindBlockLeaf
	}
	for _, child := range n.Content {
		if child.Type == "text" || child.Text != "" || nodeKinds[child.Type] == kindInlineLeaf {
			return kindTextblock
		}
	}
	return kindContainer
}

func (n *Node) resolved() kind {
	if n.kind == kindUnresolved {
		n.resolve(false)
	}
	return n.kind
}

// IsBlockLevel reports whether the node sits at block level.
func (n *Node) IsBlockLevel() bool {
	switch n.resolved() {
	case kindTextblock, kindContainer, kindBlockLeaf:
		return true
	}
	return false
}

// InlineContent reports whether the node holds inline content (a textblock).
func (n *Node) InlineContent() bool { return n.resolved() == kindTextblock }

// IsText reports whether the node is a text node.
func (n *Node) IsText() bool { return n.resolved() == kindText }

// IsLeaf reports whether the node cannot have content.
func (n *Node) IsLeaf() bool {
	switch n.resolved() {
	case kindText, kindInlineLeaf, kindBlockLeaf:
		return true
	}
	return false
}

// NodeSize is the number of positions the node occupies in its parent.
func (n *Node) NodeSize() int {
	switch n.resolved() {
	case kindText:
		return flatten.UnitLen(n.Text)
	case kindInlineLeaf, kindBlockLeaf:
		return 1
	}
	return n.ContentSize() + 2
}

// ContentSize is the number of positions between the node's open and close tokens.
func (n *Node) ContentSize() int {
	size := 0
	for i := range n.Content {
		size += n.Content[i].NodeSize()
	}
	return size
}

// TextContent concatenates the text of all descendants. Inline leaves
// contribute one placeholder unit so a textblock's text is exactly as long as
// its content.
func (n *Node) TextContent() string {
	switch n.resolved() {
	case kindText:
		return n.Text
	case kindInlineLeaf:
		return leafText(n.Type)
	case kindBlockLeaf:
		return ""
	}
	var sb strings.Builder
	for i := range n.Content {
		sb.WriteString(n.Content[i].TextContent())
	}
	return sb.String()
}

func leafText(nodeType string) string {
	if nodeType == "hardBreak" {
		return "\n"
	}
	return " "
}

// Walk calls visit for every descendant in document order with the position
// before the node. Positions are absolute when called on the doc node.
// Returning false from visit skips the node's children.
func (n *Node) Walk(visit func(node *Node, pos int) bool) {
	if n == nil {
		return
	}
	n.walk(0, visit)
}

func (n *Node) walk(start int, visit func(*Node, int) bool) {
	pos := start
	for i := range n.Content {
		child := &n.Content[i]
		if visit(child, pos) && len(child.Content) > 0 {
			child.walk(pos+1, visit)
		}
		pos += child.NodeSize()
	}
}

// IsNil lets callers holding a flatten.Tree detect a nil *Node.
func (n *Node) IsNil() bool { return n == nil }

// Descendants adapts Walk to the flattener's tree interface.
func (n *Node) Descendants(visit func(node flatten.Node, pos int) bool) {
	n.Walk(func(child *Node, pos int) bool {
		return visit(child, pos)
	})
}
