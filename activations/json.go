package activations

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// The JSON layout written by the transformer extractor: one object per
// sentence with a feature per subword token, each carrying every layer.
type extractorOutput struct {
	LineIndex int       `json:"linex_index"`
	Features  []feature `json:"features"`
}

type feature struct {
	Token  string  `json:"token"`
	Layers []layer `json:"layers"`
}

type layer struct {
	Index  int       `json:"index"`
	Values []float32 `json:"values"`
}

// bpeSpaceMarker is the byte-level BPE leading-space marker some extractor
// models leave on token texts.
const bpeSpaceMarker = "Ġ" // 'Ġ'

// DecodeJSON parses extractor-format activation JSON into the raw subword
// token texts and a Tensor. Space markers on token texts are stripped, the
// way the original annotator normalizes them.
func DecodeJSON(data []byte) ([]string, *Tensor, error) {
	var out extractorOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse activations JSON")
	}
	if len(out.Features) == 0 {
		return nil, nil, errors.New("activations JSON has no features")
	}

	tokens := make([]string, len(out.Features))
	layerVectors := make(map[int][][]float32)
	for ti, f := range out.Features {
		tokens[ti] = strings.TrimPrefix(f.Token, bpeSpaceMarker)
		for _, l := range f.Layers {
			vectors, ok := layerVectors[l.Index]
			if !ok {
				vectors = make([][]float32, len(out.Features))
				layerVectors[l.Index] = vectors
			}
			vectors[ti] = l.Values
		}
	}
	for li, vectors := range layerVectors {
		for ti, v := range vectors {
			if v == nil {
				return nil, nil, errors.Errorf("token %d missing layer %d", ti, li)
			}
		}
	}

	t, err := New(layerVectors)
	if err != nil {
		return nil, nil, err
	}
	return tokens, t, nil
}

// LoadJSON reads and decodes an extractor-format activations file.
func LoadJSON(path string) ([]string, *Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read activations file %q", path)
	}
	return DecodeJSON(data)
}
