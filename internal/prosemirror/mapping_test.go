package prosemirror

import (
	"errors"
	"testing"
)

func TestStepMapMap(t *testing.T) {
	cases := []struct {
		name   string
		ranges []int
		pos    int
		assoc  int
		want   int
	}{
		{name: "before insertion", ranges: []int{5, 0, 3}, pos: 2, assoc: 1, want: 2},
		{name: "after insertion", ranges: []int{5, 0, 3}, pos: 8, assoc: 1, want: 11},
		{name: "at insertion assoc right", ranges: []int{5, 0, 3}, pos: 5, assoc: 1, want: 8},
		{name: "at insertion assoc left", ranges: []int{5, 0, 3}, pos: 5, assoc: -1, want: 5},
		{name: "inside deletion right", ranges: []int{2, 4, 0}, pos: 4, assoc: 1, want: 2},
		{name: "inside deletion left", ranges: []int{2, 4, 0}, pos: 4, assoc: -1, want: 2},
		{name: "after deletion", ranges: []int{2, 4, 0}, pos: 10, assoc: 1, want: 6},
		{name: "replacement start", ranges: []int{2, 2, 5}, pos: 2, assoc: 1, want: 2},
		{name: "replacement end", ranges: []int{2, 2, 5}, pos: 4, assoc: -1, want: 7},
		{name: "two ranges", ranges: []int{1, 0, 2, 6, 1, 0}, pos: 9, assoc: 1, want: 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step, err := NewStepMap(tc.ranges...)
			if err != nil {
				t.Fatalf("NewStepMap() error = %v", err)
			}
			if got := step.Map(tc.pos, tc.assoc); got != tc.want {
				t.Fatalf("Map(%d, %d) = %d, want %d", tc.pos, tc.assoc, got, tc.want)
			}
		})
	}
}

func TestMappingAppliesStepsInOrder(t *testing.T) {
	mapping, err := ParseMapping([][]int{{0, 0, 4}, {10, 2, 0}})
	if err != nil {
		t.Fatalf("ParseMapping() error = %v", err)
	}
	// 8 -> 12 after the insertion, then sits past the deletion at 10..12.
	if got := mapping.Map(8, 1); got != 10 {
		t.Fatalf("Map(8) = %d, want 10", got)
	}
	if got := (Mapping{}).Map(7, 1); got != 7 {
		t.Fatalf("identity mapping moved position to %d", got)
	}
}

func TestParseMappingRejectsMalformedRanges(t *testing.T) {
	cases := [][][]int{
		{{1, 2}},
		{{5, 1, 0, 3, 1, 0}},
		{{1, -1, 0}},
	}
	for _, steps := range cases {
		if _, err := ParseMapping(steps); !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("ParseMapping(%v) error = %v", steps, err)
		}
	}
}
