package dataset

import (
	"encoding/json"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// Writer persists the two artifacts for one output prefix: the labels
// artifact (<prefix>_labels.json) and the activations artifact
// (<prefix>_activations.parquet), keyed by example id. A file lock on the
// prefix keeps concurrent runs from interleaving writes to the same output.
type Writer struct {
	Prefix string
}

// labelRecord is one labels-artifact entry. Vectors deliberately stay out;
// they live in the parquet artifact under the same id.
type labelRecord struct {
	ID         string `json:"id"`
	SourceFile string `json:"source_file"`
	SpanType   string `json:"span_type"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Label      string `json:"label"`
	Split      string `json:"split"`
}

// activationRow is one activations-artifact row.
type activationRow struct {
	ID         string    `parquet:"id"`
	SourceFile string    `parquet:"source_file"`
	SpanType   string    `parquet:"span_type"`
	Start      int       `parquet:"start"`
	End        int       `parquet:"end"`
	Label      string    `parquet:"label"`
	Layer      int       `parquet:"layer"`
	Split      string    `parquet:"split"`
	Vector     []float32 `parquet:"vector,list"`
}

// Write persists both artifacts for the splits, under the prefix lock.
func (w *Writer) Write(splits Splits) error {
	return withFileLock(w.Prefix+".lock", func() error {
		if err := w.writeLabels(splits); err != nil {
			return err
		}
		return w.writeActivations(splits)
	})
}

func (w *Writer) writeLabels(splits Splits) error {
	records := make([]labelRecord, 0, splits.Len())
	appendSplit := func(examples []Example, split string) {
		for _, ex := range examples {
			records = append(records, labelRecord{
				ID:         ex.ID,
				SourceFile: ex.SourceFile,
				SpanType:   ex.SpanType,
				Start:      ex.Start,
				End:        ex.End,
				Label:      ex.Label,
				Split:      split,
			})
		}
	}
	appendSplit(splits.Train, "train")
	appendSplit(splits.Validation, "validation")
	appendSplit(splits.Test, "test")

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode labels artifact")
	}
	path := w.Prefix + "_labels.json"
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write labels artifact %q", path)
	}
	return nil
}

func (w *Writer) writeActivations(splits Splits) error {
	path := w.Prefix + "_activations.parquet"
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create activations artifact %q", path)
	}
	defer f.Close()

	pw := parquet.NewGenericWriter[activationRow](f)
	writeSplit := func(examples []Example, split string) error {
		rows := make([]activationRow, len(examples))
		for i, ex := range examples {
			rows[i] = activationRow{
				ID:         ex.ID,
				SourceFile: ex.SourceFile,
				SpanType:   ex.SpanType,
				Start:      ex.Start,
				End:        ex.End,
				Label:      ex.Label,
				Layer:      ex.Layer,
				Split:      split,
				Vector:     ex.Vector,
			}
		}
		_, err := pw.Write(rows)
		return err
	}
	for _, part := range []struct {
		examples []Example
		name     string
	}{{splits.Train, "train"}, {splits.Validation, "validation"}, {splits.Test, "test"}} {
		if err := writeSplit(part.examples, part.name); err != nil {
			return errors.Wrapf(err, "failed to write %s rows to %q", part.name, path)
		}
	}
	if err := pw.Close(); err != nil {
		return errors.Wrapf(err, "failed to finalize activations artifact %q", path)
	}
	return nil
}

// WriteSentenceFiles appends one line of tokens and one line of labels per
// processed input to <prefix>.in and <prefix>.label, the sentence-level
// training file layout.
func (w *Writer) WriteSentenceFiles(lines [][2][]string) error {
	return withFileLock(w.Prefix+".lock", func() error {
		var in, lab strings.Builder
		for _, line := range lines {
			in.WriteString(strings.Join(line[0], " "))
			in.WriteByte('\n')
			lab.WriteString(strings.Join(line[1], " "))
			lab.WriteByte('\n')
		}
		if err := os.WriteFile(w.Prefix+".in", []byte(in.String()), 0o644); err != nil {
			return errors.Wrap(err, "failed to write sentence tokens file")
		}
		if err := os.WriteFile(w.Prefix+".label", []byte(lab.String()), 0o644); err != nil {
			return errors.Wrap(err, "failed to write sentence labels file")
		}
		return nil
	})
}

// Phrase is one depth-grouped run of leaf tokens with its per-layer
// aggregated activation vector. Tokens at the same parse-tree depth form one
// phrase.
type Phrase struct {
	Tokens string
	Layers map[int][]float32
}

// phraseFeature mirrors the extractor's activations.json feature layout so
// the phrasal artifact can be consumed by the same tooling.
type phraseFeature struct {
	Phrase string        `json:"phrase"`
	Layers []phraseLayer `json:"layers"`
}

type phraseLayer struct {
	Index  int       `json:"index"`
	Values []float32 `json:"values"`
}

// WritePhrases persists the phrasal activations artifact
// (<prefix>_phrasal_activations.json) in the extractor JSON shape, under the
// prefix lock.
func (w *Writer) WritePhrases(phrases []Phrase) error {
	return withFileLock(w.Prefix+".lock", func() error {
		features := make([]phraseFeature, len(phrases))
		for i, p := range phrases {
			layers := make([]int, 0, len(p.Layers))
			for l := range p.Layers {
				layers = append(layers, l)
			}
			sort.Ints(layers)
			feature := phraseFeature{Phrase: p.Tokens}
			for _, l := range layers {
				feature.Layers = append(feature.Layers, phraseLayer{Index: l, Values: p.Layers[l]})
			}
			features[i] = feature
		}

		data, err := json.MarshalIndent(map[string]any{
			"linex_index": 0,
			"features":    features,
		}, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode phrasal activations")
		}
		path := w.Prefix + "_phrasal_activations.json"
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.Wrapf(err, "failed to write phrasal activations %q", path)
		}
		return nil
	})
}

// withFileLock locks lockPath, runs fn, and unlocks. If another process
// holds the lock it polls with a 1 to 2 second period until acquired.
func withFileLock(lockPath string, fn func() error) (err error) {
	fileLock := flock.New(lockPath)
	for {
		locked, lockErr := fileLock.TryLock()
		if lockErr != nil {
			return errors.Wrapf(lockErr, "while trying to lock %q", lockPath)
		}
		if locked {
			break
		}
		time.Sleep(time.Millisecond * time.Duration(1000+rand.Intn(1000)))
	}
	defer func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil && err == nil {
			err = errors.Wrapf(unlockErr, "unlocking file %q", lockPath)
		}
	}()
	return fn()
}
