// Package label assigns labels to tokens: positional B-I-O tags for subword
// tokens relative to a syntactic span, and binary or multiclass labels for
// leaf tokens via set-membership or regex filters.
package label

import (
	"github.com/pkg/errors"

	"github.com/probelab/astprobe/align"
	"github.com/probelab/astprobe/syntax"
)

// Tag is a positional B-I-O tag.
type Tag uint8

const (
	TagO Tag = iota
	TagB
	TagI
)

func (t Tag) String() string {
	switch t {
	case TagB:
		return "B"
	case TagI:
		return "I"
	default:
		return "O"
	}
}

// WithType renders the tag with its span type suffix ("B-method_declaration").
// O tags carry no type.
func (t Tag) WithType(spanType string) string {
	if t == TagO {
		return "O"
	}
	return t.String() + "-" + spanType
}

// Policy selects one span when multiple spans of the requested type exist.
// The choice must be explicit and deterministic; there is no implicit
// default inside the labeling code itself.
type Policy int

const (
	// FirstInDocumentOrder picks the span that starts earliest (outermost
	// first on ties).
	FirstInDocumentOrder Policy = iota
	// InnermostAtAnchor picks the smallest span containing the anchor byte
	// offset.
	InnermostAtAnchor
)

// SelectSpan applies the policy to candidate spans, which must be in
// document order. anchor is only consulted by InnermostAtAnchor.
func SelectSpan(spans []syntax.Span, policy Policy, anchor int) (syntax.Span, error) {
	if len(spans) == 0 {
		return syntax.Span{}, errors.New("no candidate spans")
	}
	switch policy {
	case FirstInDocumentOrder:
		return spans[0], nil
	case InnermostAtAnchor:
		best := -1
		for i, s := range spans {
			if s.Start > anchor || anchor >= s.End {
				continue
			}
			if best < 0 || s.Len() < spans[best].Len() {
				best = i
			}
		}
		if best < 0 {
			return syntax.Span{}, errors.Errorf("no span contains anchor offset %d", anchor)
		}
		return spans[best], nil
	default:
		return syntax.Span{}, errors.Errorf("unknown span selection policy %d", policy)
	}
}

// LeavesInSpan marks, per leaf token, whether it lies inside the span.
// Leaf and span offsets are both in source byte space; the parse tree
// guarantees a leaf is either fully inside or fully outside a span.
func LeavesInSpan(leaves []syntax.Token, span syntax.Span) []bool {
	in := make([]bool, len(leaves))
	for i, leaf := range leaves {
		in[i] = span.Contains(leaf.Start, leaf.End)
	}
	return in
}

// BIO tags every subword token of the alignment with B, I, or O relative to
// the span described by inSpan (one entry per leaf token, true when the leaf
// belongs to the span). The first member subword in offset order gets B,
// later members get I, everything else O. Unaligned subword tokens are
// always tagged O; those falling between the span's first and last member
// are additionally counted for diagnostics.
func BIO(m *align.Map, inSpan []bool) (tags []Tag, unalignedInside int) {
	tags = make([]Tag, m.Len())

	first, last := -1, -1
	for si := 0; si < m.Len(); si++ {
		member := false
		for _, li := range m.Leaves(si) {
			if inSpan[li] {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		if first < 0 {
			first = si
			tags[si] = TagB
		} else {
			tags[si] = TagI
		}
		last = si
	}

	if first >= 0 {
		for si := first; si <= last; si++ {
			if m.Unaligned(si) {
				unalignedInside++
			}
		}
	}
	return tags, unalignedInside
}
