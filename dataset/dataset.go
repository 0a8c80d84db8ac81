// Package dataset joins labels, aggregated activation vectors, and
// provenance into examples, partitions them into train/validation/test
// splits, and persists the label and activation artifacts keyed by example
// id so they can be joined downstream.
package dataset

import (
	"fmt"

	"github.com/google/uuid"
)

// Example is one labeled dataset row: a span or token identifier, its
// label, the aggregated vector for one layer, and provenance. Examples are
// immutable once created; rows failing validation are discarded, never
// patched.
type Example struct {
	ID         string    `json:"id" parquet:"id"`
	SourceFile string    `json:"source_file" parquet:"source_file"`
	SpanType   string    `json:"span_type" parquet:"span_type"`
	Start      int       `json:"start" parquet:"start"`
	End        int       `json:"end" parquet:"end"`
	Label      string    `json:"label" parquet:"label"`
	Layer      int       `json:"layer" parquet:"layer"`
	Vector     []float32 `json:"-" parquet:"vector,list"`
}

// exampleNamespace is the fixed UUIDv5 namespace for example ids.
var exampleNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("astprobe.probelab"))

// NewExample mints an example whose identifier is derived from its
// provenance, so identical runs produce identical ids and the label and
// activation artifacts stay byte-reproducible. The same id keys the row in
// both artifacts.
func NewExample(sourceFile, spanType string, start, end int, label string, layer int, vector []float32) Example {
	name := fmt.Sprintf("%s|%s|%d|%d|%s|%d", sourceFile, spanType, start, end, label, layer)
	return Example{
		ID:         uuid.NewSHA1(exampleNamespace, []byte(name)).String(),
		SourceFile: sourceFile,
		SpanType:   spanType,
		Start:      start,
		End:        end,
		Label:      label,
		Layer:      layer,
		Vector:     vector,
	}
}
