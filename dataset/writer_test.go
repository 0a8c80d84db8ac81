package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteArtifacts(t *testing.T) {
	splits := Splits{
		Train: []Example{
			NewExample("a.java", "method_declaration", 10, 25, "method_declaration", 6, []float32{1, 2}),
		},
		Validation: []Example{
			NewExample("a.java", "leaves", 3, 8, "positive", 6, []float32{3, 4}),
		},
		Test: []Example{
			NewExample("b.java", "block", 0, 40, "block", 6, []float32{5, 6}),
		},
	}

	prefix := filepath.Join(t.TempDir(), "run1")
	w := &Writer{Prefix: prefix}
	require.NoError(t, w.Write(splits))

	data, err := os.ReadFile(prefix + "_labels.json")
	require.NoError(t, err)
	var records []labelRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 3)
	assert.Equal(t, splits.Train[0].ID, records[0].ID)
	assert.Equal(t, "train", records[0].Split)
	assert.Equal(t, "validation", records[1].Split)
	assert.Equal(t, "test", records[2].Split)

	rows, err := parquet.ReadFile[activationRow](prefix + "_activations.parquet")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, splits.Train[0].ID, rows[0].ID)
	assert.Equal(t, []float32{1, 2}, rows[0].Vector)
	assert.Equal(t, "test", rows[2].Split)
	assert.Equal(t, 6, rows[2].Layer)
}

func TestWritePhrases(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run3")
	w := &Writer{Prefix: prefix}

	phrases := []Phrase{
		{Tokens: "class A", Layers: map[int][]float32{2: {1, 2}, 0: {3, 4}}},
		{Tokens: "{ }", Layers: map[int][]float32{0: {5, 6}}},
	}
	require.NoError(t, w.WritePhrases(phrases))

	data, err := os.ReadFile(prefix + "_phrasal_activations.json")
	require.NoError(t, err)

	var artifact struct {
		LineIndex int `json:"linex_index"`
		Features  []struct {
			Phrase string `json:"phrase"`
			Layers []struct {
				Index  int       `json:"index"`
				Values []float32 `json:"values"`
			} `json:"layers"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &artifact))
	require.Len(t, artifact.Features, 2)
	assert.Equal(t, "class A", artifact.Features[0].Phrase)
	// Layers come out sorted by index.
	require.Len(t, artifact.Features[0].Layers, 2)
	assert.Equal(t, 0, artifact.Features[0].Layers[0].Index)
	assert.Equal(t, []float32{3, 4}, artifact.Features[0].Layers[0].Values)
	assert.Equal(t, 2, artifact.Features[0].Layers[1].Index)
}

func TestWriteSentenceFiles(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run2")
	w := &Writer{Prefix: prefix}

	lines := [][2][]string{
		{{"class", "A", "{", "}"}, {"O", "O", "O", "O"}},
		{{"void", "m"}, {"B-method_declaration", "I-method_declaration"}},
	}
	require.NoError(t, w.WriteSentenceFiles(lines))

	in, err := os.ReadFile(prefix + ".in")
	require.NoError(t, err)
	assert.Equal(t, "class A { }\nvoid m\n", string(in))

	lab, err := os.ReadFile(prefix + ".label")
	require.NoError(t, err)
	assert.Equal(t, "O O O O\nB-method_declaration I-method_declaration\n", string(lab))
}
