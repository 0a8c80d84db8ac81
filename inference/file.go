package inference

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/probelab/astprobe/activations"
	"github.com/probelab/astprobe/subword"
)

// FileProvider replays a precomputed activations artifact instead of calling
// a live service. Both the extractor JSON layout and the binary layout are
// accepted; token spans are recovered from the sentence, since neither
// stores offsets.
type FileProvider struct {
	Path string
}

// Extract loads the artifact and pairs it with spans recovered against the
// sentence. A missing or unreadable artifact is reported as
// ErrServiceUnavailable so the pipeline applies the same skip-the-file
// policy as for a live service failure.
func (p *FileProvider) Extract(_ context.Context, sentence string) (*Result, error) {
	if strings.EqualFold(filepath.Ext(p.Path), ".json") {
		tokens, tensor, err := activations.LoadJSON(p.Path)
		if err != nil {
			return nil, errors.Wrapf(ErrServiceUnavailable, "%v", err)
		}
		return &Result{Subwords: subword.Recover(sentence, tokens), Tensor: tensor}, nil
	}

	reader, err := activations.Open(p.Path)
	if err != nil {
		return nil, errors.Wrapf(ErrServiceUnavailable, "%v", err)
	}
	defer reader.Close()
	tensor, err := reader.Load()
	if err != nil {
		return nil, errors.Wrapf(ErrServiceUnavailable, "%v", err)
	}

	// The binary artifact stores no token texts; spans fall back to
	// whitespace splitting of the sentence, which matches how the sentence
	// was assembled from leaf tokens in the first place.
	return &Result{Subwords: splitSentence(sentence), Tensor: tensor}, nil
}

// splitSentence produces one subword token per whitespace-separated word,
// i.e. a one-to-one leaf correspondence.
func splitSentence(sentence string) subword.Stream {
	var s subword.Stream
	start := -1
	for i := 0; i <= len(sentence); i++ {
		atEnd := i == len(sentence)
		if !atEnd && sentence[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			s = append(s, subword.Token{
				Index: len(s),
				Text:  sentence[start:i],
				Start: start,
				End:   i,
			})
			start = -1
		}
	}
	return s
}
