package prosemirror

import (
	"fmt"
)

// StepMap records the ranges replaced by one editing step as
// [start, oldSize, newSize] triples in pre-step coordinates, sorted by start.
type StepMap struct {
	ranges []int
}

// NewStepMap validates a flat range list.
func NewStepMap(ranges ...int) (StepMap, error) {
	if len(ranges)%3 != 0 {
		return StepMap{}, fmt.Errorf("%w: step map needs triples, got %d values", ErrInvalidDocument, len(ranges))
	}
	last := 0
	for i := 0; i < len(ranges); i += 3 {
		start, oldSize, newSize := ranges[i], ranges[i+1], ranges[i+2]
		if start < last || oldSize < 0 || newSize < 0 {
			return StepMap{}, fmt.Errorf("%w: bad range [%d %d %d]", ErrInvalidDocument, start, oldSize, newSize)
		}
		last = start + oldSize
	}
	copied := make([]int, len(ranges))
	copy(copied, ranges)
	return StepMap{ranges: copied}, nil
}

// Map moves pos through the step. assoc decides which side an insertion at
// exactly pos lands on: negative keeps pos before it, positive after it.
func (m StepMap) Map(pos, assoc int) int {
	diff := 0
	for i := 0; i < len(m.ranges); i += 3 {
		start := m.ranges[i]
		if start > pos {
			break
		}
		oldSize, newSize := m.ranges[i+1], m.ranges[i+2]
		end := start + oldSize
		if pos <= end {
			side := assoc
			if oldSize > 0 {
				switch pos {
				case start:
					side = -1
				case end:
					side = 1
				}
			}
			if side < 0 {
				return start + diff
			}
			return start + diff + newSize
		}
		diff += newSize - oldSize
	}
	return pos + diff
}

// Mapping is an ordered list of step maps. The zero value is the identity.
type Mapping []StepMap

// Map moves pos through every step in order.
func (m Mapping) Map(pos, assoc int) int {
	for _, step := range m {
		pos = step.Map(pos, assoc)
	}
	return pos
}

// ParseMapping builds a mapping from the editor's serialized step maps.
func ParseMapping(steps [][]int) (Mapping, error) {
	mapping := make(Mapping, 0, len(steps))
	for i, ranges := range steps {
		step, err := NewStepMap(ranges...)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		mapping = append(mapping, step)
	}
	return mapping, nil
}
