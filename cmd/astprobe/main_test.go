package main

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/astprobe/dataset"
	"github.com/probelab/astprobe/pipeline"
)

func TestParseSplit(t *testing.T) {
	r, err := parseSplit("0.8,0.1,0.1")
	require.NoError(t, err)
	assert.Equal(t, dataset.Ratios{Train: 0.8, Validation: 0.1, Test: 0.1}, r)

	r, err = parseSplit(" 0.7, 0.2, 0.1 ")
	require.NoError(t, err)
	assert.Equal(t, 0.7, r.Train)

	for _, spec := range []string{"", "0.8,0.2", "0.8,0.1,0.1,0", "a,b,c"} {
		_, err := parseSplit(spec)
		assert.True(t, errors.Is(err, dataset.ErrSplitRatio), "spec %q", spec)
	}
}

func TestPrintSummary(t *testing.T) {
	report := &pipeline.Report{FilesProcessed: 2, FilesSkipped: 1}
	diag := &pipeline.Diagnostics{}
	diag.Add("a.java", pipeline.KindMergedSpan, "subword 3 merges leaves [1 2]")

	var buf strings.Builder
	printSummary(&buf, report, diag)
	out := buf.String()
	assert.Contains(t, out, "2 processed, 1 skipped")
	assert.Contains(t, out, "merged_span")
	assert.Contains(t, out, "a.java")
}

func TestPrintSummaryNoDiagnostics(t *testing.T) {
	var buf strings.Builder
	printSummary(&buf, &pipeline.Report{}, &pipeline.Diagnostics{})
	assert.Contains(t, buf.String(), "no diagnostics")
}
