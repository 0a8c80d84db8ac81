// Package subword models the model-side token stream: the subword tokens
// the inference service's tokenizer produced for a sentence, each with its
// byte span in that sentence. Streams come from three places: offsets
// reported directly by the inference service, offsets recovered by matching
// token pieces back into the sentence, or a local SentencePiece tokenizer.
package subword

import "strings"

// Token is one subword token. Start and End are byte offsets into the
// sentence the stream was built from; Special marks control tokens
// (sequence boundaries, padding) that have no position in the text.
type Token struct {
	Index   int
	Text    string
	Start   int
	End     int
	Special bool
}

// Stream is an offset-sorted sequence of subword tokens.
type Stream []Token

// FromOffsets builds a Stream from texts and matching byte offsets, as
// reported by a tokenizer that tracks spans. Tokens with a negative start
// offset are marked special.
func FromOffsets(texts []string, starts, ends []int) Stream {
	s := make(Stream, len(texts))
	for i, text := range texts {
		s[i] = Token{Index: i, Text: text, Start: starts[i], End: ends[i]}
		if starts[i] < 0 {
			s[i].Special = true
			s[i].Start, s[i].End = 0, 0
		}
	}
	return s
}

// metaspace is the U+2581 (lower one eighth block) prefix SentencePiece
// substitutes for a leading space.
const metaspace = "▁"

// wordPieceMarker prefixes continuation pieces in WordPiece vocabularies.
const wordPieceMarker = "##"

// bpeSpaceMarker is the GPT-2 style byte-level BPE space marker.
const bpeSpaceMarker = "Ġ" // 'Ġ'

// specialTokens are control tokens commonly emitted by subword tokenizers.
// They carry no position in the source sentence.
var specialTokens = map[string]struct{}{
	"[CLS]": {}, "[SEP]": {}, "[PAD]": {}, "[MASK]": {}, "[UNK]": {},
	"<s>": {}, "</s>": {}, "<pad>": {}, "<unk>": {}, "<mask>": {},
	"<|endoftext|>": {},
}

// IsSpecial reports whether the raw token text is a known control token.
func IsSpecial(text string) bool {
	_, ok := specialTokens[text]
	return ok
}

// stripMarkers removes tokenizer surface markers from a piece, returning the
// text expected to occur verbatim in the sentence and whether the piece
// starts a new word (had a leading-space marker).
func stripMarkers(piece string) (clean string, wordStart bool) {
	switch {
	case strings.HasPrefix(piece, metaspace):
		return strings.TrimPrefix(piece, metaspace), true
	case strings.HasPrefix(piece, bpeSpaceMarker):
		return strings.TrimPrefix(piece, bpeSpaceMarker), true
	case strings.HasPrefix(piece, wordPieceMarker):
		return strings.TrimPrefix(piece, wordPieceMarker), false
	}
	return piece, false
}

// Recover reconstructs byte spans for token pieces whose tokenizer did not
// report offsets, by matching each piece back into the sentence with a
// single forward sweep. Control tokens are marked special with an empty
// span. Pieces that cannot be located fall back to an empty span at the
// current position, also marked special, so downstream alignment treats
// them as unalignable rather than guessing.
func Recover(sentence string, pieces []string) Stream {
	s := make(Stream, len(pieces))
	pos := 0
	for i, piece := range pieces {
		s[i] = Token{Index: i, Text: piece}
		if IsSpecial(piece) {
			s[i].Special = true
			continue
		}

		match, wordStart := stripMarkers(piece)
		if wordStart {
			for pos < len(sentence) && isSpace(sentence[pos]) {
				pos++
			}
		}
		if match == "" {
			// Piece was purely a space marker.
			s[i].Start, s[i].End = pos, pos
			continue
		}

		found := indexFrom(sentence, match, pos)
		if found < 0 {
			s[i].Special = true
			continue
		}
		s[i].Start = found
		s[i].End = found + len(match)
		pos = s[i].End
	}
	return s
}

// indexFrom finds the first occurrence of substr in s at or after start,
// returning its byte position or -1.
func indexFrom(s, substr string, start int) int {
	if start >= len(s) {
		return -1
	}
	idx := strings.Index(s[start:], substr)
	if idx < 0 {
		return -1
	}
	return start + idx
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
