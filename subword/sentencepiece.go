package subword

import (
	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// SentencePiece tokenizes sentences locally with a SentencePiece model,
// producing a Stream with byte spans. It is the fallback when the inference
// service returns activations without token offsets.
type SentencePiece struct {
	proc *esentencepiece.Processor
}

// NewSentencePiece loads a SentencePiece model proto from modelPath
// (typically a "tokenizer.model" file).
func NewSentencePiece(modelPath string) (*SentencePiece, error) {
	proc, err := esentencepiece.NewProcessorFromPath(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "can't load sentencepiece model %q", modelPath)
	}
	return &SentencePiece{proc: proc}, nil
}

// Tokenize encodes the sentence and recovers a byte span per piece.
// The sentence is NFC-normalized first; spans refer to the normalized form,
// which the caller must use for any downstream offset arithmetic.
func (sp *SentencePiece) Tokenize(sentence string) (Stream, string) {
	normalized := norm.NFC.String(sentence)
	tokens := sp.proc.Encode(normalized)
	pieces := make([]string, len(tokens))
	for i, tok := range tokens {
		pieces[i] = tok.Text
	}
	return Recover(normalized, pieces), normalized
}
