// Package align reconciles the two tokenizations of one sentence: the
// structural parse's leaf tokens and the model tokenizer's subword tokens.
// Both streams carry byte offsets in the same sentence, and the alignment is
// built with a single two-pointer sweep, so identical inputs always produce
// an identical Map.
package align

import (
	"github.com/pkg/errors"

	"github.com/probelab/astprobe/subword"
	"github.com/probelab/astprobe/syntax"
)

// Range is a half-open interval [Lo, Hi) of subword indices.
type Range struct {
	Lo, Hi int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.Hi - r.Lo }

// Empty reports whether the range contains no indices.
func (r Range) Empty() bool { return r.Hi <= r.Lo }

// Merge records a subword token that crosses the boundary between two or
// more syntactically distinct leaf tokens. The tokenizer's normalization
// merged them; this is recoverable and reported, not fatal.
type Merge struct {
	Subword int
	Leaves  []int
}

// Map is the bidirectional alignment between a leaf token stream and a
// subword token stream. It is immutable once built.
type Map struct {
	subwordLeaves [][]int // per subword: ordered leaf indices it overlaps, nil when unaligned
	leafRange     []Range // per leaf: contiguous subword range covering it
	merges        []Merge
	uncovered     []int // leaves no subword token covers
}

// Align sweeps both offset-sorted streams and intersects their ranges.
// Leaf offsets must be in the same byte space as the subword offsets (the
// space-joined sentence; see syntax.Tree.SentenceLeaves). Special subword
// tokens and zero-width pieces are marked unaligned. Returns an error only
// when the leaf stream is not offset-sorted, which indicates corrupt input
// rather than a recoverable alignment problem.
func Align(leaves []syntax.Token, subwords subword.Stream) (*Map, error) {
	for i := 1; i < len(leaves); i++ {
		if leaves[i].Start < leaves[i-1].End {
			return nil, errors.Errorf("leaf stream not offset-sorted at index %d", i)
		}
	}

	m := &Map{
		subwordLeaves: make([][]int, len(subwords)),
		leafRange:     make([]Range, len(leaves)),
	}
	for i := range m.leafRange {
		m.leafRange[i] = Range{Lo: -1, Hi: -1}
	}

	cursor := 0
	for si, sub := range subwords {
		if sub.Special || sub.End <= sub.Start {
			continue
		}
		for cursor < len(leaves) && leaves[cursor].End <= sub.Start {
			cursor++
		}
		var overlapped []int
		for li := cursor; li < len(leaves) && leaves[li].Start < sub.End; li++ {
			if leaves[li].End <= sub.Start {
				continue
			}
			overlapped = append(overlapped, li)
			r := &m.leafRange[li]
			if r.Lo < 0 {
				r.Lo = si
			}
			r.Hi = si + 1
		}
		if len(overlapped) == 0 {
			continue
		}
		m.subwordLeaves[si] = overlapped
		if len(overlapped) > 1 {
			m.merges = append(m.merges, Merge{Subword: si, Leaves: overlapped})
		}
	}

	for li, r := range m.leafRange {
		if r.Lo < 0 {
			m.uncovered = append(m.uncovered, li)
		}
	}
	return m, nil
}

// Len returns the subword stream length the map was built for.
func (m *Map) Len() int { return len(m.subwordLeaves) }

// LeafCount returns the leaf stream length the map was built for.
func (m *Map) LeafCount() int { return len(m.leafRange) }

// Leaves returns the ordered leaf indices the subword token overlaps, or nil
// when the token is unaligned.
func (m *Map) Leaves(sub int) []int { return m.subwordLeaves[sub] }

// Unaligned reports whether the subword token maps to no leaf token.
func (m *Map) Unaligned(sub int) bool { return m.subwordLeaves[sub] == nil }

// Subwords returns the contiguous subword range covering the leaf token.
// ok is false when no subword token covers the leaf.
func (m *Map) Subwords(leaf int) (r Range, ok bool) {
	r = m.leafRange[leaf]
	return r, r.Lo >= 0
}

// SpanRange returns the contiguous subword index range covering the given
// set of leaf indices, skipping uncovered leaves. ok is false when none of
// the leaves is covered.
func (m *Map) SpanRange(leafIndices []int) (Range, bool) {
	out := Range{Lo: -1, Hi: -1}
	for _, li := range leafIndices {
		r := m.leafRange[li]
		if r.Lo < 0 {
			continue
		}
		if out.Lo < 0 || r.Lo < out.Lo {
			out.Lo = r.Lo
		}
		if r.Hi > out.Hi {
			out.Hi = r.Hi
		}
	}
	return out, out.Lo >= 0
}

// Merges returns the recorded leaf-boundary merges, in subword order.
func (m *Map) Merges() []Merge { return m.merges }

// Uncovered returns the leaf indices no subword token covers.
func (m *Map) Uncovered() []int { return m.uncovered }
