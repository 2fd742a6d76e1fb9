// Package flatten turns a block-structured document into one plain-text
// string whose offsets line up with tree positions.
//
// Offsets and positions are counted in UTF-16 code units, the unit both the
// editor and the analyzer use.
package flatten

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf16"
)

var ErrInvalidInput = errors.New("invalid input")

// Node is one node of a document tree as the flattener sees it.
type Node interface {
	// IsBlockLevel reports whether the node is a block rather than inline content.
	IsBlockLevel() bool
	// InlineContent reports whether the block holds inline content directly.
	InlineContent() bool
	TextContent() string
}

// Tree is a document that can be walked in document order. visit receives
// each descendant with the tree position before it; returning false skips
// the descendant's children.
type Tree interface {
	Descendants(visit func(node Node, pos int) bool)
}

// Missing reports whether root holds no document: a nil interface, or a typed
// nil behind a Tree that can say so through IsNil.
func Missing(root Tree) bool {
	if root == nil {
		return true
	}
	if n, ok := root.(interface{ IsNil() bool }); ok {
		return n.IsNil()
	}
	return false
}

// Anchor ties the start of one block's text to a tree position.
type Anchor struct {
	TreePos    int `json:"treePos"`
	FlatOffset int `json:"flatOffset"`
	Length     int `json:"length"`
}

// Map is the flattened text of a document plus the anchors needed to move
// between flat offsets and tree positions.
type Map struct {
	Text    string   `json:"text"`
	Anchors []Anchor `json:"anchors"`
}

// Flatten collects every leaf block in traversal order and concatenates its
// text. The gap between one block's end and the next block's position is
// padded with the same number of spaces, so inside the flat text one offset
// unit always equals one tree position unit.
func Flatten(root Tree) (*Map, error) {
	if Missing(root) {
		return nil, ErrInvalidInput
	}

	var sb strings.Builder
	anchors := []Anchor{}
	flatLen := 0
	lastEnd := 0

	root.Descendants(func(node Node, pos int) bool {
		if !node.IsBlockLevel() {
			return false
		}
		if !node.InlineContent() {
			return true
		}
		text := node.TextContent()
		if len(anchors) > 0 {
			if diff := pos - lastEnd; diff > 0 {
				sb.WriteString(strings.Repeat(" ", diff))
				flatLen += diff
			}
		}
		length := UnitLen(text)
		anchors = append(anchors, Anchor{TreePos: pos, FlatOffset: flatLen, Length: length})
		sb.WriteString(text)
		flatLen += length
		lastEnd = pos + length
		return false
	})

	return &Map{Text: sb.String(), Anchors: anchors}, nil
}

// Size is the length of the flat text in UTF-16 units.
func (m *Map) Size() int {
	if len(m.Anchors) == 0 {
		return 0
	}
	last := m.Anchors[len(m.Anchors)-1]
	return last.FlatOffset + last.Length
}

// TreePos converts a flat offset into the tree position of the same
// character, relative to the position before the owning block.
func (m *Map) TreePos(offset int) (int, bool) {
	if offset < 0 || len(m.Anchors) == 0 {
		return 0, false
	}
	i := sort.Search(len(m.Anchors), func(i int) bool {
		return m.Anchors[i].FlatOffset > offset
	}) - 1
	if i < 0 {
		return 0, false
	}
	a := m.Anchors[i]
	return a.TreePos + (offset - a.FlatOffset), true
}

// FlatOffset is the inverse of TreePos.
func (m *Map) FlatOffset(treePos int) (int, bool) {
	if len(m.Anchors) == 0 {
		return 0, false
	}
	i := sort.Search(len(m.Anchors), func(i int) bool {
		return m.Anchors[i].TreePos > treePos
	}) - 1
	if i < 0 {
		return 0, false
	}
	a := m.Anchors[i]
	return a.FlatOffset + (treePos - a.TreePos), true
}

// Slice returns the flat text in [offset, offset+length), clamped to the text.
func (m *Map) Slice(offset, length int) string {
	units := utf16.Encode([]rune(m.Text))
	if offset < 0 {
		offset = 0
	}
	end := offset + length
	if end > len(units) {
		end = len(units)
	}
	if offset >= end {
		return ""
	}
	return string(utf16.Decode(units[offset:end]))
}

// UnitLen is the length of s in UTF-16 code units.
func UnitLen(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
