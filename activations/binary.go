package activations

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// Binary activations artifact, laid out like a safetensors file:
//
//	[8 bytes: header size as little-endian u64]
//	[header_size bytes: JSON header]
//	[tensor data: float32 little-endian, layer-major then token-major]
//
// The layout makes the artifact replayable: a run can re-aggregate with a
// different method without calling the inference service again.

type binaryHeader struct {
	Layers []int `json:"layers"`
	Tokens int   `json:"tokens"`
	Dim    int   `json:"dim"`
}

// WriteFile persists the tensor to path in the binary layout.
func WriteFile(path string, t *Tensor) error {
	header, err := json.Marshal(binaryHeader{Layers: t.Layers(), Tokens: t.NumTokens(), Dim: t.Dim()})
	if err != nil {
		return errors.Wrap(err, "failed to encode activations header")
	}

	buf := make([]byte, 8+len(header)+len(t.Layers())*t.NumTokens()*t.Dim()*4)
	binary.LittleEndian.PutUint64(buf, uint64(len(header)))
	copy(buf[8:], header)

	off := 8 + len(header)
	for _, l := range t.Layers() {
		for ti := 0; ti < t.NumTokens(); ti++ {
			v, err := t.Vector(l, ti)
			if err != nil {
				return err
			}
			for _, f := range v {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
				off += 4
			}
		}
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write activations file %q", path)
	}
	return nil
}

// Reader provides on-demand access to a binary activations artifact through
// a memory map, without loading the full tensor.
type Reader struct {
	reader     *mmap.ReaderAt
	header     binaryHeader
	layerIndex map[int]int // layer id -> position in header.Layers
	dataOffset int64
}

// Open memory-maps the artifact at path and parses its header.
func Open(path string) (*Reader, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %q", path)
	}

	sizeBytes := make([]byte, 8)
	if _, err := reader.ReadAt(sizeBytes, 0); err != nil {
		reader.Close()
		return nil, errors.Wrap(err, "failed to read header size")
	}
	headerSize := binary.LittleEndian.Uint64(sizeBytes)
	if headerSize > 100*1024*1024 { // Sanity check: 100MB max header
		reader.Close()
		return nil, errors.Errorf("header size too large: %d bytes", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := reader.ReadAt(headerBytes, 8); err != nil {
		reader.Close()
		return nil, errors.Wrap(err, "failed to read header JSON")
	}
	r := &Reader{reader: reader, dataOffset: int64(8 + headerSize)}
	if err := json.Unmarshal(headerBytes, &r.header); err != nil {
		reader.Close()
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	r.layerIndex = make(map[int]int, len(r.header.Layers))
	for i, l := range r.header.Layers {
		r.layerIndex[l] = i
	}

	want := r.dataOffset + int64(len(r.header.Layers)*r.header.Tokens*r.header.Dim)*4
	if int64(reader.Len()) < want {
		reader.Close()
		return nil, errors.Errorf("artifact truncated: have %d bytes, want %d", reader.Len(), want)
	}
	return r, nil
}

// Layers returns the layer identifiers present in the artifact.
func (r *Reader) Layers() []int { return r.header.Layers }

// NumTokens returns the subword token count.
func (r *Reader) NumTokens() int { return r.header.Tokens }

// Dim returns the vector dimension.
func (r *Reader) Dim() int { return r.header.Dim }

// Vector reads the activation vector for (layer, token) from the map.
func (r *Reader) Vector(layer, token int) ([]float32, error) {
	li, ok := r.layerIndex[layer]
	if !ok {
		return nil, errors.Errorf("layer %d not in artifact (have %v)", layer, r.header.Layers)
	}
	if token < 0 || token >= r.header.Tokens {
		return nil, errors.Errorf("token index %d out of range [0, %d)", token, r.header.Tokens)
	}

	raw := make([]byte, r.header.Dim*4)
	off := r.dataOffset + int64(li*r.header.Tokens+token)*int64(r.header.Dim)*4
	if _, err := r.reader.ReadAt(raw, off); err != nil {
		return nil, errors.Wrapf(err, "failed to read vector (layer %d, token %d)", layer, token)
	}
	v := make([]float32, r.header.Dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return v, nil
}

// Load reads the full tensor into memory.
func (r *Reader) Load() (*Tensor, error) {
	layerVectors := make(map[int][][]float32, len(r.header.Layers))
	for _, l := range r.header.Layers {
		vectors := make([][]float32, r.header.Tokens)
		for ti := range vectors {
			v, err := r.Vector(l, ti)
			if err != nil {
				return nil, err
			}
			vectors[ti] = v
		}
		layerVectors[l] = vectors
	}
	return New(layerVectors)
}

// Close releases the memory map.
func (r *Reader) Close() error { return r.reader.Close() }
