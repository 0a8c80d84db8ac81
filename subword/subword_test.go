package subword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOffsets(t *testing.T) {
	s := FromOffsets(
		[]string{"[CLS]", "class", "A", "[SEP]"},
		[]int{-1, 0, 6, -1},
		[]int{-1, 5, 7, -1},
	)
	require.Len(t, s, 4)
	assert.True(t, s[0].Special)
	assert.Equal(t, 0, s[0].Start)
	assert.Equal(t, 0, s[0].End)
	assert.False(t, s[1].Special)
	assert.Equal(t, 0, s[1].Start)
	assert.Equal(t, 5, s[1].End)
	assert.True(t, s[3].Special)
}

func TestIsSpecial(t *testing.T) {
	assert.True(t, IsSpecial("[CLS]"))
	assert.True(t, IsSpecial("</s>"))
	assert.True(t, IsSpecial("<|endoftext|>"))
	assert.False(t, IsSpecial("class"))
	assert.False(t, IsSpecial("[unknown]"))
}

func TestRecoverWordPiece(t *testing.T) {
	sentence := "class addNumbers {"
	pieces := []string{"[CLS]", "class", "add", "##Num", "##bers", "{", "[SEP]"}

	s := Recover(sentence, pieces)
	require.Len(t, s, 7)

	assert.True(t, s[0].Special)
	assert.Equal(t, Token{Index: 1, Text: "class", Start: 0, End: 5}, s[1])
	assert.Equal(t, Token{Index: 2, Text: "add", Start: 6, End: 9}, s[2])
	assert.Equal(t, Token{Index: 3, Text: "##Num", Start: 9, End: 12}, s[3])
	assert.Equal(t, Token{Index: 4, Text: "##bers", Start: 12, End: 16}, s[4])
	assert.Equal(t, Token{Index: 5, Text: "{", Start: 17, End: 18}, s[5])
	assert.True(t, s[6].Special)
}

func TestRecoverMetaspace(t *testing.T) {
	sentence := "void m ( )"
	pieces := []string{"▁void", "▁m", "▁(", "▁)"}

	s := Recover(sentence, pieces)
	require.Len(t, s, 4)
	assert.Equal(t, 0, s[0].Start)
	assert.Equal(t, 4, s[0].End)
	assert.Equal(t, 5, s[1].Start)
	assert.Equal(t, 6, s[1].End)
	assert.Equal(t, 7, s[2].Start)
	assert.Equal(t, 9, s[3].Start)
}

func TestRecoverBPESpaceMarker(t *testing.T) {
	sentence := "public void"
	pieces := []string{"public", "Ġvoid"}

	s := Recover(sentence, pieces)
	assert.Equal(t, 0, s[0].Start)
	assert.Equal(t, 6, s[0].End)
	assert.Equal(t, 7, s[1].Start)
	assert.Equal(t, 11, s[1].End)
}

func TestRecoverBareMarker(t *testing.T) {
	// A piece that is only a space marker gets a zero-width span.
	s := Recover("a b", []string{"a", "▁", "b"})
	require.Len(t, s, 3)
	assert.Equal(t, s[1].Start, s[1].End)
	assert.Equal(t, 2, s[2].Start)
}

func TestRecoverUnlocatablePiece(t *testing.T) {
	s := Recover("class A", []string{"class", "zzz", "A"})
	require.Len(t, s, 3)
	assert.False(t, s[0].Special)
	assert.True(t, s[1].Special)
	// The sweep continues past the failed piece.
	assert.False(t, s[2].Special)
	assert.Equal(t, 6, s[2].Start)
}
