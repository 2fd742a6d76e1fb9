package flatten_test

import (
	"errors"
	"reflect"
	"testing"

	"chronicle/proofread/internal/flatten"
	"chronicle/proofread/internal/prosemirror"
)

func TestFlattenPadsGapsBetweenBlocks(t *testing.T) {
	doc := prosemirror.Doc(
		prosemirror.Paragraph("Helo"),
		prosemirror.Paragraph("world"),
	)

	m, err := flatten.Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if m.Text != "Helo  world" {
		t.Fatalf("Text = %q, want %q", m.Text, "Helo  world")
	}
	want := []flatten.Anchor{
		{TreePos: 0, FlatOffset: 0, Length: 4},
		{TreePos: 6, FlatOffset: 6, Length: 5},
	}
	if !reflect.DeepEqual(m.Anchors, want) {
		t.Fatalf("Anchors = %+v, want %+v", m.Anchors, want)
	}
	if m.Size() != 11 {
		t.Fatalf("Size() = %d, want 11", m.Size())
	}
}

func TestFlattenRejectsMissingRoot(t *testing.T) {
	tests := []struct {
		name string
		root flatten.Tree
	}{
		{name: "nil interface", root: nil},
		{name: "nil node", root: (*prosemirror.Node)(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := flatten.Flatten(tt.root)
			if !errors.Is(err, flatten.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got map=%+v err=%v", m, err)
			}
		})
	}
	if flatten.Missing(prosemirror.Doc()) {
		t.Fatal("an empty doc is not a missing document")
	}
}

func TestFlattenIsDeterministic(t *testing.T) {
	doc := prosemirror.Doc(
		prosemirror.Block("heading", prosemirror.Text("Title")),
		prosemirror.Block("bulletList",
			prosemirror.Block("listItem", prosemirror.Paragraph("first item")),
			prosemirror.Block("listItem", prosemirror.Paragraph("second item")),
		),
		prosemirror.Leaf("horizontalRule"),
		prosemirror.Paragraph("after the rule"),
	)

	first, err := flatten.Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	second, err := flatten.Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("flatten not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestFlattenCollectsOnlyLeafBlocks(t *testing.T) {
	// bulletList(0) > listItem(1) > paragraph(2) > "one"
	doc := prosemirror.Doc(
		prosemirror.Block("bulletList",
			prosemirror.Block("listItem", prosemirror.Paragraph("one")),
			prosemirror.Block("listItem", prosemirror.Paragraph("two")),
		),
	)

	m, err := flatten.Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if len(m.Anchors) != 2 {
		t.Fatalf("expected 2 anchors, got %+v", m.Anchors)
	}
	// First listItem spans 1..8, second paragraph starts at 9.
	if m.Anchors[0].TreePos != 2 || m.Anchors[1].TreePos != 9 {
		t.Fatalf("unexpected anchor positions: %+v", m.Anchors)
	}
	if m.Text != "one    two" {
		t.Fatalf("Text = %q", m.Text)
	}
	assertStrictlyIncreasing(t, m.Anchors)
}

func TestFlattenKeepsUnitsAlignedAcrossInlineLeaves(t *testing.T) {
	doc := prosemirror.Doc(
		prosemirror.Block("paragraph",
			prosemirror.Text("line one"),
			prosemirror.Leaf("hardBreak"),
			prosemirror.Text("line two"),
		),
		prosemirror.Paragraph("next"),
	)

	m, err := flatten.Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if m.Text != "line one\nline two  next" {
		t.Fatalf("Text = %q", m.Text)
	}
	// paragraph size = 17 + 2, so the next block sits at 19.
	if m.Anchors[1].TreePos != 19 || m.Anchors[1].FlatOffset != 19 {
		t.Fatalf("unexpected second anchor: %+v", m.Anchors[1])
	}
}

func TestFlattenCountsUTF16Units(t *testing.T) {
	doc := prosemirror.Doc(
		prosemirror.Paragraph("café 😀"),
		prosemirror.Paragraph("ok"),
	)

	m, err := flatten.Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if m.Anchors[0].Length != 7 {
		t.Fatalf("first block length = %d, want 7", m.Anchors[0].Length)
	}
	if m.Anchors[1].TreePos != 9 || m.Anchors[1].FlatOffset != 9 {
		t.Fatalf("unexpected second anchor: %+v", m.Anchors[1])
	}
	if got := m.Slice(9, 2); got != "ok" {
		t.Fatalf("Slice(9, 2) = %q", got)
	}
	if got := m.Slice(5, 2); got != "😀" {
		t.Fatalf("Slice(5, 2) = %q", got)
	}
}

func TestTreePosAndFlatOffsetInvert(t *testing.T) {
	doc := prosemirror.Doc(
		prosemirror.Paragraph("alpha"),
		prosemirror.Block("blockquote", prosemirror.Paragraph("beta")),
		prosemirror.Paragraph("gamma"),
	)
	m, err := flatten.Flatten(doc)
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}

	for offset := 0; offset < m.Size(); offset++ {
		pos, ok := m.TreePos(offset)
		if !ok {
			t.Fatalf("TreePos(%d) not found", offset)
		}
		back, ok := m.FlatOffset(pos)
		if !ok || back != offset {
			t.Fatalf("FlatOffset(TreePos(%d)) = %d, %v", offset, back, ok)
		}
	}
	if _, ok := m.TreePos(-1); ok {
		t.Fatal("expected negative offset to be rejected")
	}
}

func TestFlattenEmptyDocument(t *testing.T) {
	m, err := flatten.Flatten(prosemirror.Doc())
	if err != nil {
		t.Fatalf("Flatten() error = %v", err)
	}
	if m.Text != "" || len(m.Anchors) != 0 || m.Size() != 0 {
		t.Fatalf("expected empty map, got %+v", m)
	}
	if _, ok := m.TreePos(0); ok {
		t.Fatal("expected TreePos on empty map to fail")
	}
}

func assertStrictlyIncreasing(t *testing.T, anchors []flatten.Anchor) {
	t.Helper()
	for i := 1; i < len(anchors); i++ {
		if anchors[i].TreePos <= anchors[i-1].TreePos || anchors[i].FlatOffset <= anchors[i-1].FlatOffset {
			t.Fatalf("anchors not strictly increasing at %d: %+v", i, anchors)
		}
	}
}
