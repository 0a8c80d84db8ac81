// Package pipeline orchestrates the batch run: per input file it parses the
// source, obtains subword tokens and activations from the inference
// provider, aligns the two token streams, labels spans and tokens, and
// aggregates activation vectors; the per-file outputs are then joined,
// split, and written as a dataset. Files are independent tasks; recoverable
// problems land in the diagnostics collector and never fail the batch.
package pipeline

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/probelab/astprobe/aggregate"
	"github.com/probelab/astprobe/align"
	"github.com/probelab/astprobe/dataset"
	"github.com/probelab/astprobe/inference"
	"github.com/probelab/astprobe/label"
	"github.com/probelab/astprobe/subword"
	"github.com/probelab/astprobe/syntax"
)

// LayerAll requests every layer the model produced; the assembler then
// emits one dataset row per layer.
const LayerAll = "all"

// Multiclass token label modes. "cases" classifies identifiers by naming
// convention; "classes" maps each token to its coarse token class.
const (
	TokenLabelCases   = "cases"
	TokenLabelClasses = "classes"
)

// Config describes one batch run. Validation happens up front, before any
// inference call, so configuration mistakes never waste model compute.
type Config struct {
	Inputs []string

	// Labeling
	Label       string // span type from the syntax vocabulary
	FilterSpec  string // optional "set:..." or "re:..." token filter
	TokenLabels string // optional multiclass mode: "cases" or "classes"
	PolicySpec  string // "first" or "innermost" span selection
	Anchor      int    // byte offset consulted by the innermost policy

	// Aggregation
	Method          string
	Layer           string // integer or LayerAll
	ConcatMaxTokens int    // concat cap; 0 means natural length

	// Inference
	Endpoint        string
	Model           string
	Device          string
	ActivationsPath string // precomputed artifact instead of a live service
	TokenizerModel  string // optional local SentencePiece model for spans

	// Assembly
	OutputPrefix string
	Ratios       dataset.Ratios
	Stratify     bool
	Seed         int64

	Parallel int
}

// runConfig is a Config with every enumerated choice resolved.
type runConfig struct {
	Config
	filter    *label.Filter
	method    aggregate.Method
	policy    label.Policy
	layer     int
	allLayers bool
	tokenizer *subword.SentencePiece
	concat    aggregate.ConcatPolicy
}

// validate resolves and checks the configuration, fail-fast in spec order:
// label vocabulary, filter syntax, aggregation method, layer, split ratios.
func (c Config) validate() (*runConfig, error) {
	rc := &runConfig{Config: c}

	if len(c.Inputs) == 0 {
		return nil, errors.New("no input files")
	}
	if !syntax.ValidLabel(c.Label) {
		return nil, errors.Wrapf(syntax.ErrInvalidLabel, "label %q not in vocabulary %v", c.Label, syntax.Labels)
	}
	if c.FilterSpec != "" {
		f, err := label.ParseFilter(c.FilterSpec)
		if err != nil {
			return nil, err
		}
		rc.filter = f
	}
	switch c.TokenLabels {
	case "", TokenLabelCases, TokenLabelClasses:
	default:
		return nil, errors.Errorf("unknown token label mode %q (want %s or %s)",
			c.TokenLabels, TokenLabelCases, TokenLabelClasses)
	}
	method, err := aggregate.ParseMethod(c.Method)
	if err != nil {
		return nil, err
	}
	rc.method = method
	rc.concat = aggregate.ConcatPolicy{MaxTokens: c.ConcatMaxTokens}

	if c.Layer == LayerAll {
		rc.allLayers = true
	} else {
		if _, err := parseInt(c.Layer, &rc.layer); err != nil {
			return nil, errors.Errorf("layer must be an integer or %q, got %q", LayerAll, c.Layer)
		}
	}

	switch c.PolicySpec {
	case "", "first":
		rc.policy = label.FirstInDocumentOrder
	case "innermost":
		rc.policy = label.InnermostAtAnchor
	default:
		return nil, errors.Errorf("unknown span selection policy %q (want first or innermost)", c.PolicySpec)
	}

	if err := c.Ratios.Validate(); err != nil {
		return nil, err
	}

	switch c.Device {
	case "", "cpu", "cuda":
	default:
		return nil, errors.Errorf("unknown device %q (want cpu or cuda)", c.Device)
	}

	if c.ActivationsPath == "" && c.Endpoint == "" {
		return nil, errors.New("either an inference endpoint or a precomputed activations path is required")
	}
	if c.ActivationsPath != "" && len(c.Inputs) > 1 {
		return nil, errors.New("a precomputed activations path serves a single input file")
	}
	if c.TokenizerModel != "" {
		sp, err := subword.NewSentencePiece(c.TokenizerModel)
		if err != nil {
			return nil, err
		}
		rc.tokenizer = sp
	}
	if rc.Parallel <= 0 {
		rc.Parallel = 4
	}
	return rc, nil
}

// Report summarizes a completed run.
type Report struct {
	Splits         dataset.Splits
	FilesProcessed int
	FilesSkipped   int
}

// fileOutput is one input file's contribution: its examples, its
// sentence-file line (leaf tokens and their tags), and its depth-grouped
// phrase activations.
type fileOutput struct {
	examples []dataset.Example
	tokens   []string
	tags     []string
	phrases  []dataset.Phrase
}

// Run executes the batch. Fatal errors (configuration, assembly, output)
// return non-nil; recoverable per-file and per-span problems are recorded
// in diag and the run completes with partial output.
func Run(ctx context.Context, cfg Config, diag *Diagnostics) (*Report, error) {
	rc, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	var provider inference.Provider
	if rc.ActivationsPath != "" {
		provider = &inference.FileProvider{Path: rc.ActivationsPath}
	} else {
		provider = inference.NewClient(rc.Endpoint, rc.Model, rc.Device)
	}

	outputs := make([]*fileOutput, len(rc.Inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.Parallel)
	for i, input := range rc.Inputs {
		i, input := i, input
		g.Go(func() error {
			out, err := rc.processFile(gctx, provider, input, diag)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{}
	var examples []dataset.Example
	var lines [][2][]string
	var phrases []dataset.Phrase
	for _, out := range outputs {
		if out == nil {
			report.FilesSkipped++
			continue
		}
		report.FilesProcessed++
		examples = append(examples, out.examples...)
		lines = append(lines, [2][]string{out.tokens, out.tags})
		phrases = append(phrases, out.phrases...)
	}

	splits, err := dataset.Split(examples, rc.Ratios, dataset.SplitOptions{Seed: rc.Seed, Stratify: rc.Stratify})
	if err != nil {
		return nil, err
	}
	report.Splits = splits

	if rc.OutputPrefix != "" {
		w := &dataset.Writer{Prefix: rc.OutputPrefix}
		if err := w.Write(splits); err != nil {
			return nil, err
		}
		if err := w.WriteSentenceFiles(lines); err != nil {
			return nil, err
		}
		if err := w.WritePhrases(phrases); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("run complete: %d examples from %d files (%d skipped)",
		splits.Len(), report.FilesProcessed, report.FilesSkipped)
	return report, nil
}

// processFile handles one input end to end. A nil, nil return means the
// file was skipped for a recoverable reason already recorded in diag.
func (rc *runConfig) processFile(ctx context.Context, provider inference.Provider, input string, diag *Diagnostics) (*fileOutput, error) {
	source, err := os.ReadFile(input)
	if err != nil {
		diag.Add(input, KindSkippedFile, "unreadable input: %v", err)
		return nil, nil
	}

	tree, err := syntax.Parse(ctx, source)
	if err != nil {
		diag.Add(input, KindSkippedFile, "parse failed: %v", err)
		return nil, nil
	}
	sentence := tree.Sentence()
	sentenceLeaves := tree.SentenceLeaves()

	res, err := provider.Extract(ctx, sentence)
	if err != nil {
		if errors.Is(err, inference.ErrServiceUnavailable) {
			diag.Add(input, KindSkippedFile, "inference unavailable: %v", err)
			return nil, nil
		}
		return nil, err
	}
	klog.V(1).Infof("%s: %d leaves, %d subword tokens", input, len(sentenceLeaves), len(res.Subwords))

	stream := res.Subwords
	if rc.tokenizer != nil {
		local, normalized := rc.tokenizer.Tokenize(sentence)
		if normalized == sentence {
			stream = local
		} else {
			diag.Add(input, KindSkippedFile, "normalization changed sentence; keeping service tokenization")
		}
	}
	if res.Tensor.NumTokens() != len(stream) {
		diag.Add(input, KindSkippedFile, "tensor has %d token vectors for %d subword tokens",
			res.Tensor.NumTokens(), len(stream))
		return nil, nil
	}
	if !rc.allLayers && !res.Tensor.HasLayer(rc.layer) {
		diag.Add(input, KindSkippedFile, "layer %d not present (have %v)", rc.layer, res.Tensor.Layers())
		return nil, nil
	}

	m, err := align.Align(sentenceLeaves, stream)
	if err != nil {
		diag.Add(input, KindSkippedFile, "alignment failed: %v", err)
		return nil, nil
	}
	for _, merge := range m.Merges() {
		diag.Add(input, KindMergedSpan, "subword %d %q merges leaves %v",
			merge.Subword, stream[merge.Subword].Text, merge.Leaves)
	}
	if uncovered := m.Uncovered(); len(uncovered) > 0 {
		// A majority of uncovered leaves means the activation stream does
		// not describe this sentence at all (wrong or truncated artifact).
		if 2*len(uncovered) > len(sentenceLeaves) {
			diag.Add(input, KindSkippedFile, "subword stream covers only %d of %d leaf tokens",
				len(sentenceLeaves)-len(uncovered), len(sentenceLeaves))
			return nil, nil
		}
		diag.Add(input, KindUncoveredLeaf, "%d leaf tokens not covered by any subword token", len(uncovered))
	}

	out := &fileOutput{}
	if err := rc.spanExamples(input, tree, m, res, diag, out); err != nil {
		return nil, err
	}
	if rc.filter != nil {
		rc.tokenExamples(input, tree, m, res, diag, out)
	}
	if rc.TokenLabels != "" {
		rc.multiclassExamples(input, tree, m, stream, res, diag, out)
	}
	rc.phraseActivations(input, tree, m, res, diag, out)

	res.Tensor.Release()
	return out, nil
}

// spanExamples emits one example per span of the requested type per layer,
// and fills the sentence-file line with tags relative to the policy-selected
// span.
func (rc *runConfig) spanExamples(input string, tree *syntax.Tree, m *align.Map, res *inference.Result, diag *Diagnostics, out *fileOutput) error {
	spans, err := tree.SpansOfType(rc.Label)
	if err != nil {
		return err
	}

	for _, span := range spans {
		inSpan := label.LeavesInSpan(tree.Leaves, span)
		tags, unalignedInside := label.BIO(m, inSpan)
		if unalignedInside > 0 {
			diag.Add(input, KindUnalignedToken,
				"%d unaligned subword tokens inside %s [%d:%d)", unalignedInside, span.Type, span.Start, span.End)
		}

		var indices []int
		for si, tag := range tags {
			if tag != label.TagO {
				indices = append(indices, si)
			}
		}
		if len(indices) == 0 {
			diag.Add(input, KindEmptySpan, "%s [%d:%d) has no aligned subword tokens", span.Type, span.Start, span.End)
			continue
		}

		if err := rc.appendExamples(input, span.Type, span.Start, span.End, span.Type, indices, res, diag, out); err != nil {
			return err
		}
	}

	// Sentence-file tags are relative to one policy-selected span; with no
	// span of the requested type in the file, every leaf is outside.
	out.tokens = make([]string, len(tree.Leaves))
	out.tags = make([]string, len(tree.Leaves))
	var inSelected []bool
	if len(spans) > 0 {
		selected, err := label.SelectSpan(spans, rc.policy, rc.Anchor)
		if err != nil {
			diag.Add(input, KindEmptySpan, "span selection: %v", err)
		} else {
			inSelected = label.LeavesInSpan(tree.Leaves, selected)
		}
	}
	first := true
	for i, leaf := range tree.Leaves {
		out.tokens[i] = leaf.Text
		tag := label.TagO
		if inSelected != nil && inSelected[i] {
			if first {
				tag = label.TagB
				first = false
			} else {
				tag = label.TagI
			}
		}
		out.tags[i] = tag.WithType(rc.Label)
	}
	return nil
}

// tokenExamples emits one example per leaf token per layer, labeled by the
// binary filter and aggregated over the leaf's subword pieces.
func (rc *runConfig) tokenExamples(input string, tree *syntax.Tree, m *align.Map, res *inference.Result, diag *Diagnostics, out *fileOutput) {
	for _, leaf := range tree.Leaves {
		r, ok := m.Subwords(leaf.Index)
		if !ok {
			// Already counted as an uncovered leaf.
			continue
		}
		var indices []int
		for si := r.Lo; si < r.Hi; si++ {
			if !m.Unaligned(si) {
				indices = append(indices, si)
			}
		}
		if len(indices) == 0 {
			continue
		}
		value := rc.filter.Label(leaf.Text)
		if err := rc.appendExamples(input, leaf.Type, leaf.Start, leaf.End, value, indices, res, diag, out); err != nil {
			// Aggregation problems on a single token are not worth failing
			// the file over.
			diag.Add(input, KindEmptySpan, "token %q at %d: %v", leaf.Text, leaf.Start, err)
		}
	}
}

// multiclassExamples emits one example per aligned subword token, labeled
// with its leaf's class broadcast across the leaf's pieces. The "cases" mode
// classifies identifiers by naming convention; "classes" uses the coarse
// token-class dictionary.
func (rc *runConfig) multiclassExamples(input string, tree *syntax.Tree, m *align.Map, stream subword.Stream, res *inference.Result, diag *Diagnostics, out *fileOutput) {
	leafLabels := make([]string, len(tree.Leaves))
	for i, leaf := range tree.Leaves {
		switch rc.TokenLabels {
		case TokenLabelCases:
			leafLabels[i] = label.IdentifierCases.Class(leaf.Text)
		case TokenLabelClasses:
			leafLabels[i] = label.TokenClassOf(leaf.Text, leaf.Type)
		}
	}
	subLabels := label.Broadcast(m, leafLabels, label.Unclassified)

	for si, tok := range stream {
		if m.Unaligned(si) {
			continue
		}
		if err := rc.appendExamples(input, "token", tok.Start, tok.End, subLabels[si], []int{si}, res, diag, out); err != nil {
			diag.Add(input, KindEmptySpan, "subword %q at %d: %v", tok.Text, tok.Start, err)
		}
	}
}

// phraseActivations aggregates token activations into one vector per layer
// per phrase, where a phrase is the run of leaf tokens sharing a parse-tree
// depth.
func (rc *runConfig) phraseActivations(input string, tree *syntax.Tree, m *align.Map, res *inference.Result, diag *Diagnostics, out *fileOutput) {
	byDepth := tree.LeavesAtDepth()
	for depth := 0; depth <= tree.MaxDepth(); depth++ {
		leafIndices := byDepth[depth]
		if len(leafIndices) == 0 {
			continue
		}
		words := make([]string, 0, len(leafIndices))
		var indices []int
		last := -1
		for _, li := range leafIndices {
			words = append(words, tree.Leaves[li].Text)
			r, ok := m.Subwords(li)
			if !ok {
				continue
			}
			for si := r.Lo; si < r.Hi; si++ {
				// A merged subword token shows up in adjacent leaf ranges;
				// count it once.
				if si <= last || m.Unaligned(si) {
					continue
				}
				indices = append(indices, si)
				last = si
			}
		}

		byLayer, err := aggregate.AllLayers(res.Tensor, indices, rc.method, rc.concat)
		if err != nil {
			diag.Add(input, KindEmptySpan, "phrase at depth %d: %v", depth, err)
			continue
		}
		out.phrases = append(out.phrases, dataset.Phrase{Tokens: strings.Join(words, " "), Layers: byLayer})
	}
}

// appendExamples aggregates the indices for the configured layer(s) and
// appends one example per layer. ErrEmptySpan is recoverable and recorded;
// anything else is a real fault and propagates.
func (rc *runConfig) appendExamples(input, spanType string, start, end int, value string, indices []int, res *inference.Result, diag *Diagnostics, out *fileOutput) error {
	if rc.allLayers {
		byLayer, err := aggregate.AllLayers(res.Tensor, indices, rc.method, rc.concat)
		if err != nil {
			if errors.Is(err, aggregate.ErrEmptySpan) {
				diag.Add(input, KindEmptySpan, "%s [%d:%d): %v", spanType, start, end, err)
				return nil
			}
			return err
		}
		for _, layer := range res.Tensor.Layers() {
			out.examples = append(out.examples,
				dataset.NewExample(input, spanType, start, end, value, layer, byLayer[layer]))
		}
		return nil
	}

	vector, err := aggregate.Span(res.Tensor, rc.layer, indices, rc.method, rc.concat)
	if err != nil {
		if errors.Is(err, aggregate.ErrEmptySpan) {
			diag.Add(input, KindEmptySpan, "%s [%d:%d): %v", spanType, start, end, err)
			return nil
		}
		return err
	}
	out.examples = append(out.examples, dataset.NewExample(input, spanType, start, end, value, rc.layer, vector))
	return nil
}

// parseInt parses s into dst, returning dst for convenience.
func parseInt(s string, dst *int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	*dst = v
	return v, nil
}
