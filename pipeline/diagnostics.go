package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Kind classifies a diagnostic entry.
type Kind string

const (
	KindMergedSpan     Kind = "merged_span"
	KindUnalignedToken Kind = "unaligned_token"
	KindUncoveredLeaf  Kind = "uncovered_leaf"
	KindEmptySpan      Kind = "empty_span"
	KindSkippedFile    Kind = "skipped_file"
)

// Entry is one recoverable problem observed while processing an input.
type Entry struct {
	File    string
	Kind    Kind
	Message string
}

// Diagnostics is an append-only, concurrency-safe collector of recoverable
// problems. Files report into it independently; nothing is ever removed, so
// a non-empty collector at the end of a run means the output is partial.
type Diagnostics struct {
	mu      sync.Mutex
	entries []Entry
}

// Add records an entry.
func (d *Diagnostics) Add(file string, kind Kind, format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, Entry{File: file, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Entries returns a copy of everything recorded so far.
func (d *Diagnostics) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Empty reports whether nothing was recorded.
func (d *Diagnostics) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries) == 0
}

// Counts returns entry counts keyed by kind, with kinds sorted for stable
// summaries.
func (d *Diagnostics) Counts() ([]Kind, map[Kind]int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts := make(map[Kind]int)
	for _, e := range d.entries {
		counts[e.Kind]++
	}
	kinds := make([]Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds, counts
}
