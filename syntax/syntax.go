// Package syntax extracts leaf tokens and named syntactic spans from parsed
// source code. The parse itself is delegated to tree-sitter; this package
// flattens the resulting tree into an arena of spans (integer ids with parent
// links) and an offset-sorted leaf token stream, which is what the rest of
// the pipeline consumes.
package syntax

import (
	"sort"

	"github.com/pkg/errors"
)

// ErrInvalidLabel is returned when a requested span type is not part of the
// label vocabulary. It is matched with errors.Is.
var ErrInvalidLabel = errors.New("invalid span label")

// LabelLeaves is the degenerate span label: every leaf token is its own span.
const LabelLeaves = "leaves"

// Labels is the closed vocabulary of span types that can be requested.
var Labels = []string{
	"program",
	"class_declaration",
	"class_body",
	"method_declaration",
	"formal_parameters",
	"block",
	"method_invocation",
	LabelLeaves,
}

// ValidLabel reports whether label belongs to the vocabulary.
func ValidLabel(label string) bool {
	for _, l := range Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Token is a leaf token produced by the structural parse. Offsets are byte
// offsets into the original source and Index is the token's position in the
// offset-sorted leaf stream.
type Token struct {
	Index int
	Type  string
	Text  string
	Start int
	End   int
	Depth int
}

// Span is a named syntactic unit. Parent and Children are indices into the
// owning Tree's span arena; Parent is -1 for the root. Spans never hold
// pointers to each other, only ids, so the arena owns everything.
type Span struct {
	ID       int
	Type     string
	Start    int
	End      int
	Parent   int
	Children []int
}

// Contains reports whether the byte offset range [start, end) falls entirely
// inside the span.
func (s Span) Contains(start, end int) bool {
	return s.Start <= start && end <= s.End
}

// Len returns the span's length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Tree is the flattened result of one structural parse: the span arena plus
// the offset-sorted leaf tokens. It is immutable once built.
type Tree struct {
	Source []byte
	Spans  []Span
	Leaves []Token
}

// Span returns the arena entry for the given id.
func (t *Tree) Span(id int) Span { return t.Spans[id] }

// Root returns the id of the root span (always 0 for a non-empty tree).
func (t *Tree) Root() int { return 0 }

// SpansOfType returns the spans matching the requested label, in document
// order. Nested spans of the same type are each returned independently; the
// caller picks a selection policy downstream. The label is validated against
// the vocabulary first and an unknown label fails with ErrInvalidLabel.
//
// The "leaves" label is special: it synthesizes one span per leaf token.
// Synthesized spans are not part of the arena and carry Parent == -1.
func (t *Tree) SpansOfType(label string) ([]Span, error) {
	if !ValidLabel(label) {
		return nil, errors.Wrapf(ErrInvalidLabel, "label %q not in vocabulary %v", label, Labels)
	}
	if label == LabelLeaves {
		spans := make([]Span, len(t.Leaves))
		for i, leaf := range t.Leaves {
			spans[i] = Span{ID: -1, Type: LabelLeaves, Start: leaf.Start, End: leaf.End, Parent: -1}
		}
		return spans, nil
	}
	var spans []Span
	for _, s := range t.Spans {
		if s.Type == label {
			spans = append(spans, s)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		// Outer span first when two spans open at the same offset.
		return spans[i].End > spans[j].End
	})
	return spans, nil
}

// Ancestors returns the chain of span ids from the given span up to the
// root, nearest first. Synthesized leaf spans have no ancestors.
func (t *Tree) Ancestors(id int) []int {
	var chain []int
	for id >= 0 {
		id = t.Spans[id].Parent
		if id >= 0 {
			chain = append(chain, id)
		}
	}
	return chain
}

// LeavesAtDepth groups leaf token indices by their depth in the parse tree.
// The original activation pipeline treats tokens at the same depth as one
// phrase, so the grouping is kept here for phrase-level aggregation.
func (t *Tree) LeavesAtDepth() map[int][]int {
	byDepth := make(map[int][]int)
	for _, leaf := range t.Leaves {
		byDepth[leaf.Depth] = append(byDepth[leaf.Depth], leaf.Index)
	}
	return byDepth
}

// MaxDepth returns the deepest leaf depth, or -1 for an empty tree.
func (t *Tree) MaxDepth() int {
	maxDepth := -1
	for _, leaf := range t.Leaves {
		if leaf.Depth > maxDepth {
			maxDepth = leaf.Depth
		}
	}
	return maxDepth
}

// SentenceLeaves returns the leaf tokens with offsets remapped into the
// space-joined sentence returned by Sentence. The aligner needs leaf and
// subword offsets in the same byte space, and subword offsets are relative
// to the sentence, not the original source.
func (t *Tree) SentenceLeaves() []Token {
	leaves := make([]Token, len(t.Leaves))
	pos := 0
	for i, leaf := range t.Leaves {
		if i > 0 {
			pos++
		}
		leaves[i] = leaf
		leaves[i].Start = pos
		leaves[i].End = pos + len(leaf.Text)
		pos = leaves[i].End
	}
	return leaves
}

// Sentence joins the leaf token texts with single spaces. This is the form
// sent to the inference service, mirroring the token stream written to
// input_sentences.txt by the original pipeline.
func (t *Tree) Sentence() string {
	n := 0
	for _, leaf := range t.Leaves {
		n += len(leaf.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, leaf := range t.Leaves {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, leaf.Text...)
	}
	return string(buf)
}
