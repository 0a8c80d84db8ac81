// Package aggregate reduces a contiguous run of subword-token activation
// vectors into one vector per span per layer. The method set is a closed
// enum validated at configuration time; aggregation itself is pure and never
// mutates the tensor it reads from.
package aggregate

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/probelab/astprobe/activations"
)

// ErrEmptySpan is returned for a span with zero aligned subword tokens.
// Callers skip the span and continue; it is never silently zero-filled.
var ErrEmptySpan = errors.New("span has no aligned subword tokens")

// Method is an aggregation rule.
type Method int

const (
	Mean Method = iota
	Max
	Sum
	Concat
)

// Methods lists every valid method name.
var Methods = []string{"mean", "max", "sum", "concat"}

func (m Method) String() string {
	if int(m) < len(Methods) {
		return Methods[m]
	}
	return "unknown"
}

// ParseMethod resolves a method name, case-insensitively.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(name) {
	case "mean":
		return Mean, nil
	case "max":
		return Max, nil
	case "sum":
		return Sum, nil
	case "concat":
		return Concat, nil
	default:
		return 0, errors.Errorf("unknown aggregation method %q (want one of %v)", name, Methods)
	}
}

// ConcatPolicy fixes the output length of the concat method. Spans longer
// than MaxTokens are truncated; shorter spans are zero-padded, so every
// concat output has dimension MaxTokens times the vector dimension.
// A zero MaxTokens means natural length: output dimension follows the
// span's own token count.
type ConcatPolicy struct {
	MaxTokens int
}

// Source is the read side of an activation store. Both the in-memory
// Tensor and the memory-mapped artifact Reader satisfy it.
type Source interface {
	Vector(layer, token int) ([]float32, error)
	Layers() []int
	Dim() int
}

var (
	_ Source = (*activations.Tensor)(nil)
	_ Source = (*activations.Reader)(nil)
)

// Span aggregates the vectors at the given subword indices for one layer.
// Indices must be in offset order (they come from an alignment range). For a
// single index, mean, max, and sum all return that token's own vector.
func Span(src Source, layer int, indices []int, method Method, policy ConcatPolicy) ([]float32, error) {
	if len(indices) == 0 {
		return nil, ErrEmptySpan
	}
	if method == Concat {
		return concat(src, layer, indices, policy)
	}

	dim := src.Dim()
	out := make([]float32, dim)
	for n, ti := range indices {
		v, err := src.Vector(layer, ti)
		if err != nil {
			return nil, err
		}
		switch method {
		case Mean, Sum:
			for i, f := range v {
				out[i] += f
			}
		case Max:
			if n == 0 {
				copy(out, v)
				continue
			}
			for i, f := range v {
				if f > out[i] {
					out[i] = f
				}
			}
		default:
			return nil, errors.Errorf("unknown aggregation method %d", method)
		}
	}
	if method == Mean {
		n := float32(len(indices))
		for i := range out {
			out[i] /= n
		}
	}
	return out, nil
}

// concat joins the span's vectors in offset order under the policy.
func concat(src Source, layer int, indices []int, policy ConcatPolicy) ([]float32, error) {
	dim := src.Dim()
	count := len(indices)
	if policy.MaxTokens > 0 {
		count = policy.MaxTokens
	}
	out := make([]float32, count*dim)
	for n, ti := range indices {
		if n >= count {
			break
		}
		v, err := src.Vector(layer, ti)
		if err != nil {
			return nil, err
		}
		copy(out[n*dim:], v)
	}
	return out, nil
}

// AllLayers aggregates the span once per layer, returning a vector keyed by
// layer identifier.
func AllLayers(src Source, indices []int, method Method, policy ConcatPolicy) (map[int][]float32, error) {
	out := make(map[int][]float32, len(src.Layers()))
	for _, layer := range src.Layers() {
		v, err := Span(src, layer, indices, method, policy)
		if err != nil {
			return nil, err
		}
		out[layer] = v
	}
	return out, nil
}
