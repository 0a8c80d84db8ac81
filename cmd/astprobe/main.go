// Command astprobe builds labeled activation datasets from source code: it
// parses each input file, fetches the model's subword tokens and activation
// vectors from an inference service (or a precomputed artifact), aligns the
// two tokenizations, and writes BIO/filter labels joined with aggregated
// span vectors, partitioned into train/validation/test splits.
//
// Example:
//
//	astprobe Main.java \
//	  --endpoint http://localhost:8600 --model bert-base-uncased \
//	  --label method_declaration --aggregation_method mean --layer all \
//	  --binary_filter "set:public,static" --output_prefix out/main
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/probelab/astprobe/dataset"
	"github.com/probelab/astprobe/pipeline"
)

var cfg = pipeline.Config{}

var splitSpec string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "astprobe input_file...",
		Short:         "Generate labeled activation datasets from source code",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Model, "model", "bert-base-uncased", "inference model identifier")
	f.StringVar(&cfg.Device, "device", "cpu", "inference device (cpu or cuda)")
	f.StringVar(&cfg.FilterSpec, "binary_filter", "", `token filter, "set:<comma-list>" or "re:<pattern>"`)
	f.StringVar(&cfg.TokenLabels, "token_labels", "", `multiclass token labeling, "cases" (naming convention) or "classes" (token class)`)
	f.StringVar(&cfg.OutputPrefix, "output_prefix", "output", "prefix for output artifacts")
	f.StringVar(&cfg.Method, "aggregation_method", "mean", "span aggregation method (mean, max, sum, concat)")
	f.StringVar(&cfg.Label, "label", "method_declaration", "span type to label")
	f.StringVar(&cfg.Layer, "layer", pipeline.LayerAll, `layer to extract (integer or "all")`)
	f.StringVar(&cfg.Endpoint, "endpoint", "", "inference service base URL")
	f.StringVar(&cfg.ActivationsPath, "activations", "", "precomputed activations artifact (.json or binary)")
	f.StringVar(&cfg.TokenizerModel, "tokenizer-model", "", "local SentencePiece model for subword spans")
	f.StringVar(&cfg.PolicySpec, "policy", "first", "span selection policy (first or innermost)")
	f.IntVar(&cfg.Anchor, "anchor", 0, "byte offset for the innermost policy")
	f.StringVar(&splitSpec, "split", "0.8,0.1,0.1", "train,validation,test split ratios")
	f.BoolVar(&cfg.Stratify, "stratify", false, "preserve label frequencies across splits")
	f.Int64Var(&cfg.Seed, "seed", 13, "shuffle seed for deterministic splits")
	f.IntVar(&cfg.ConcatMaxTokens, "concat-max-tokens", 0, "concat cap in tokens (0 = natural length)")
	f.IntVar(&cfg.Parallel, "parallel", 4, "input files processed concurrently")

	klog.InitFlags(nil)
	f.AddGoFlagSet(flag.CommandLine)
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg.Inputs = args

	ratios, err := parseSplit(splitSpec)
	if err != nil {
		return err
	}
	cfg.Ratios = ratios

	diag := &pipeline.Diagnostics{}
	report, err := pipeline.Run(cmd.Context(), cfg, diag)
	if err != nil {
		return err
	}
	printSummary(cmd.ErrOrStderr(), report, diag)
	return nil
}

// parseSplit reads "train,validation,test" ratio triples.
func parseSplit(spec string) (dataset.Ratios, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		return dataset.Ratios{}, errors.Wrapf(dataset.ErrSplitRatio, "want three comma-separated ratios, got %q", spec)
	}
	values := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return dataset.Ratios{}, errors.Wrapf(dataset.ErrSplitRatio, "bad ratio %q", p)
		}
		values[i] = v
	}
	return dataset.Ratios{Train: values[0], Validation: values[1], Test: values[2]}, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func printSummary(w io.Writer, report *pipeline.Report, diag *pipeline.Diagnostics) {
	fmt.Fprintln(w, titleStyle.Render("astprobe summary"))
	fmt.Fprintf(w, "  files: %d processed, %d skipped\n", report.FilesProcessed, report.FilesSkipped)
	fmt.Fprintf(w, "  examples: %d train / %d validation / %d test\n",
		len(report.Splits.Train), len(report.Splits.Validation), len(report.Splits.Test))

	if diag.Empty() {
		fmt.Fprintln(w, dimStyle.Render("  no diagnostics"))
		return
	}
	fmt.Fprintln(w, warnStyle.Render("  diagnostics (output is partial):"))
	kinds, counts := diag.Counts()
	for _, k := range kinds {
		fmt.Fprintf(w, "    %-16s %d\n", k, counts[k])
	}
	for _, e := range diag.Entries() {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("    [%s] %s: %s", e.Kind, e.File, e.Message)))
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
