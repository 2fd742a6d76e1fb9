package annotation

// Mapper moves a position across a document edit. assoc picks the side an
// insertion at exactly pos ends up on: negative stays before it, positive
// moves after it.
type Mapper interface {
	Map(pos, assoc int) int
}

// Set is an immutable collection of annotations for one document version.
// The zero value is an empty set.
type Set struct {
	items []Annotation
}

// NewSet copies anns into a set.
func NewSet(anns []Annotation) Set {
	return Set{}.ReplaceAll(anns)
}

// ReplaceAll returns a set holding exactly anns.
func (s Set) ReplaceAll(anns []Annotation) Set {
	items := make([]Annotation, len(anns))
	copy(items, anns)
	return Set{items: items}
}

// Remap moves every annotation through edits. Starts map forward and ends
// map backward, so text inserted at either edge stays outside the span. An
// annotation whose span collapses is dropped; everything else about it is
// kept.
func (s Set) Remap(edits Mapper) Set {
	if len(s.items) == 0 {
		return s
	}
	items := make([]Annotation, 0, len(s.items))
	for _, a := range s.items {
		from := edits.Map(a.From, 1)
		to := edits.Map(a.To, -1)
		if to <= from {
			continue
		}
		a.From, a.To = from, to
		items = append(items, a)
	}
	return Set{items: items}
}

// Len is the number of annotations.
func (s Set) Len() int { return len(s.items) }

// All returns a copy of the annotations in insertion order.
func (s Set) All() []Annotation {
	out := make([]Annotation, len(s.items))
	copy(out, s.items)
	return out
}

// At returns the annotations covering pos, in insertion order, so the last
// one is the one drawn on top.
func (s Set) At(pos int) []Annotation {
	var out []Annotation
	for _, a := range s.items {
		if a.From <= pos && pos < a.To {
			out = append(out, a)
		}
	}
	return out
}

// ByUUID finds an annotation by id.
func (s Set) ByUUID(id string) (Annotation, bool) {
	for _, a := range s.items {
		if a.UUID == id {
			return a, true
		}
	}
	return Annotation{}, false
}
