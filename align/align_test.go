package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/astprobe/subword"
	"github.com/probelab/astprobe/syntax"
)

// leaves builds a leaf stream from (text, start) pairs in sentence space.
func leaves(words ...string) []syntax.Token {
	out := make([]syntax.Token, len(words))
	pos := 0
	for i, w := range words {
		if i > 0 {
			pos++
		}
		out[i] = syntax.Token{Index: i, Text: w, Start: pos, End: pos + len(w)}
		pos += len(w)
	}
	return out
}

func subwords(spans ...[3]interface{}) subword.Stream {
	s := make(subword.Stream, len(spans))
	for i, sp := range spans {
		s[i] = subword.Token{Index: i, Text: sp[0].(string), Start: sp[1].(int), End: sp[2].(int)}
	}
	return s
}

func TestAlignOneToOne(t *testing.T) {
	ls := leaves("class", "A", "{")
	ss := subwords([3]interface{}{"class", 0, 5}, [3]interface{}{"A", 6, 7}, [3]interface{}{"{", 8, 9})

	m, err := Align(ls, ss)
	require.NoError(t, err)

	for i := range ls {
		assert.Equal(t, []int{i}, m.Leaves(i))
		r, ok := m.Subwords(i)
		require.True(t, ok)
		assert.Equal(t, Range{Lo: i, Hi: i + 1}, r)
	}
	assert.Empty(t, m.Merges())
	assert.Empty(t, m.Uncovered())
}

func TestAlignWordPieceSplit(t *testing.T) {
	// "addNumbers" split into three pieces.
	ls := leaves("void", "addNumbers")
	ss := subwords(
		[3]interface{}{"void", 0, 4},
		[3]interface{}{"add", 5, 8},
		[3]interface{}{"Num", 8, 11},
		[3]interface{}{"bers", 11, 15},
	)

	m, err := Align(ls, ss)
	require.NoError(t, err)

	r, ok := m.Subwords(1)
	require.True(t, ok)
	assert.Equal(t, Range{Lo: 1, Hi: 4}, r)
	for si := 1; si < 4; si++ {
		assert.Equal(t, []int{1}, m.Leaves(si))
	}
	assert.Empty(t, m.Merges())
}

func TestAlignMergedLeaves(t *testing.T) {
	// One subword token covering two adjacent punctuation leaves is a
	// recorded merge, not a failure.
	ls := leaves("(", ")")
	// Sentence is "( )" but the tokenizer merged both parens into one piece
	// spanning everything.
	ss := subwords([3]interface{}{"()", 0, 3})

	m, err := Align(ls, ss)
	require.NoError(t, err)
	require.Len(t, m.Merges(), 1)
	assert.Equal(t, 0, m.Merges()[0].Subword)
	assert.Equal(t, []int{0, 1}, m.Merges()[0].Leaves)
}

func TestAlignSpecialTokensUnaligned(t *testing.T) {
	ls := leaves("public")
	ss := subword.Stream{
		{Index: 0, Text: "[CLS]", Special: true},
		{Index: 1, Text: "public", Start: 0, End: 6},
		{Index: 2, Text: "[SEP]", Special: true},
	}

	m, err := Align(ls, ss)
	require.NoError(t, err)
	assert.True(t, m.Unaligned(0))
	assert.False(t, m.Unaligned(1))
	assert.True(t, m.Unaligned(2))

	r, ok := m.Subwords(0)
	require.True(t, ok)
	assert.Equal(t, Range{Lo: 1, Hi: 2}, r)
}

func TestAlignUncoveredLeaf(t *testing.T) {
	ls := leaves("a", "b")
	ss := subwords([3]interface{}{"a", 0, 1})

	m, err := Align(ls, ss)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, m.Uncovered())
	_, ok := m.Subwords(1)
	assert.False(t, ok)
}

func TestAlignRoundTripCoverage(t *testing.T) {
	// The per-leaf ranges must cover the full subword stream minus
	// unaligned tokens, without gaps.
	ls := leaves("class", "A", "{", "void", "m", "(", ")", "{", "}", "}")
	ss := make(subword.Stream, 0, len(ls)+2)
	ss = append(ss, subword.Token{Index: 0, Text: "[CLS]", Special: true})
	for _, l := range ls {
		ss = append(ss, subword.Token{Index: len(ss), Text: l.Text, Start: l.Start, End: l.End})
	}
	ss = append(ss, subword.Token{Index: len(ss), Text: "[SEP]", Special: true})

	m, err := Align(ls, ss)
	require.NoError(t, err)

	covered := make([]bool, m.Len())
	for li := 0; li < m.LeafCount(); li++ {
		r, ok := m.Subwords(li)
		require.True(t, ok)
		for si := r.Lo; si < r.Hi; si++ {
			covered[si] = true
		}
	}
	for si := 0; si < m.Len(); si++ {
		assert.Equal(t, !m.Unaligned(si), covered[si], "subword %d", si)
	}
}

func TestAlignDeterministic(t *testing.T) {
	ls := leaves("void", "addNumbers", "(")
	ss := subwords(
		[3]interface{}{"void", 0, 4},
		[3]interface{}{"add", 5, 8},
		[3]interface{}{"Numbers", 8, 15},
		[3]interface{}{"(", 16, 17},
	)

	m1, err := Align(ls, ss)
	require.NoError(t, err)
	m2, err := Align(ls, ss)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)
}

func TestAlignUnsortedLeavesRejected(t *testing.T) {
	ls := []syntax.Token{
		{Index: 0, Text: "b", Start: 2, End: 3},
		{Index: 1, Text: "a", Start: 0, End: 1},
	}
	_, err := Align(ls, subwords([3]interface{}{"a", 0, 1}))
	assert.Error(t, err)
}
