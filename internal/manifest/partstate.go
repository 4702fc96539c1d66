package manifest

import "os"

// PartState is derived from a Range and the current size of its part file
// on disk (spec.md §3). It is never persisted.
type PartState struct {
	Existing  int64
	Remaining int64
}

// Stat computes the PartState for r by checking the current length of its
// part file, 0 if the file doesn't exist yet.
func (r Range) Stat() PartState {
	existing := int64(0)
	if info, err := os.Stat(r.PartPath); err == nil {
		existing = info.Size()
	}
	return PartState{
		Existing:  existing,
		Remaining: r.Length() - existing,
	}
}

// Done reports whether r requires no further bytes: either it is
// degenerate (start > end, possible when size < connections) or its part
// file already holds every byte the range covers.
func (r Range) Done() bool {
	if r.Start > r.End {
		return true
	}
	return r.Stat().Remaining <= 0
}
