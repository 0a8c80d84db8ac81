// Package activations indexes the per-layer, per-subword-token activation
// vectors produced by the external inference service, and persists them in
// two interchangeable artifact shapes: the extractor's JSON layout and a
// compact binary layout read back through a memory map.
package activations

import (
	"sort"

	"github.com/pkg/errors"
)

// Tensor holds the activations for one processed input, addressable by
// (layer, subword token index). It is immutable after construction;
// aggregation reads it but never writes. Release drops the backing data once
// every span needing it has been aggregated.
type Tensor struct {
	layers []int               // sorted layer identifiers
	data   map[int][][]float32 // layer -> per-token vectors
	tokens int
	dim    int
}

// New builds a Tensor from per-layer token vectors. Every layer must carry
// the same token count and every vector the same dimension.
func New(layerVectors map[int][][]float32) (*Tensor, error) {
	if len(layerVectors) == 0 {
		return nil, errors.New("no layers")
	}
	t := &Tensor{data: make(map[int][][]float32, len(layerVectors))}
	for layer, vectors := range layerVectors {
		if t.tokens == 0 {
			t.tokens = len(vectors)
			if t.tokens == 0 {
				return nil, errors.Errorf("layer %d has no token vectors", layer)
			}
			t.dim = len(vectors[0])
		}
		if len(vectors) != t.tokens {
			return nil, errors.Errorf("layer %d has %d token vectors, want %d", layer, len(vectors), t.tokens)
		}
		for ti, v := range vectors {
			if len(v) != t.dim {
				return nil, errors.Errorf("layer %d token %d has dimension %d, want %d", layer, ti, len(v), t.dim)
			}
		}
		t.data[layer] = vectors
		t.layers = append(t.layers, layer)
	}
	sort.Ints(t.layers)
	return t, nil
}

// Layers returns the sorted layer identifiers.
func (t *Tensor) Layers() []int { return t.layers }

// HasLayer reports whether the layer exists in the tensor.
func (t *Tensor) HasLayer(layer int) bool {
	_, ok := t.data[layer]
	return ok
}

// NumTokens returns the subword token count.
func (t *Tensor) NumTokens() int { return t.tokens }

// Dim returns the vector dimension.
func (t *Tensor) Dim() int { return t.dim }

// Vector returns the activation vector for (layer, token). The returned
// slice aliases the tensor's storage and must not be modified.
func (t *Tensor) Vector(layer, token int) ([]float32, error) {
	vectors, ok := t.data[layer]
	if !ok {
		return nil, errors.Errorf("layer %d not in tensor (have %v)", layer, t.layers)
	}
	if token < 0 || token >= t.tokens {
		return nil, errors.Errorf("token index %d out of range [0, %d)", token, t.tokens)
	}
	return vectors[token], nil
}

// Release drops the backing storage. The tensor is unusable afterwards;
// this exists so the pipeline can bound memory while batching files.
func (t *Tensor) Release() {
	t.data = nil
	t.layers = nil
	t.tokens = 0
	t.dim = 0
}
