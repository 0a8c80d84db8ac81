package dataset

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// ErrSplitRatio is returned when the configured ratios do not sum to 1
// within tolerance. It is fatal before assembly.
var ErrSplitRatio = errors.New("split ratios must sum to 1")

// RatioTolerance is how far the ratio sum may drift from 1.
const RatioTolerance = 1e-6

// Ratios configures the relative partition sizes.
type Ratios struct {
	Train      float64
	Validation float64
	Test       float64
}

// Validate checks the ratios are non-negative and sum to 1 within
// RatioTolerance.
func (r Ratios) Validate() error {
	if r.Train < 0 || r.Validation < 0 || r.Test < 0 {
		return errors.Wrapf(ErrSplitRatio, "negative ratio in %+v", r)
	}
	if sum := r.Train + r.Validation + r.Test; math.Abs(sum-1) > RatioTolerance {
		return errors.Wrapf(ErrSplitRatio, "ratios %+v sum to %g", r, sum)
	}
	return nil
}

// Splits holds the partitioned examples.
type Splits struct {
	Train      []Example
	Validation []Example
	Test       []Example
}

// SplitOptions control partitioning. The seed makes the shuffle
// deterministic; Stratify preserves each label's relative frequency per
// partition (within the rounding the partition sizes allow).
type SplitOptions struct {
	Seed     int64
	Stratify bool
}

// Split partitions examples under the ratios. Without stratification the
// examples are shuffled once and cut; with it, each label group is
// apportioned independently and the partitions reassembled, keeping label
// frequencies within one example of exact proportionality per group.
func Split(examples []Example, r Ratios, opt SplitOptions) (Splits, error) {
	if err := r.Validate(); err != nil {
		return Splits{}, err
	}
	rng := rand.New(rand.NewSource(opt.Seed))

	if !opt.Stratify {
		shuffled := shuffle(examples, rng)
		return cut(shuffled, r), nil
	}

	groups := make(map[string][]Example)
	for _, ex := range examples {
		groups[ex.Label] = append(groups[ex.Label], ex)
	}
	labels := make([]string, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var out Splits
	for _, l := range labels {
		part := cut(shuffle(groups[l], rng), r)
		out.Train = append(out.Train, part.Train...)
		out.Validation = append(out.Validation, part.Validation...)
		out.Test = append(out.Test, part.Test...)
	}
	return out, nil
}

// shuffle returns a shuffled copy, leaving the input untouched.
func shuffle(examples []Example, rng *rand.Rand) []Example {
	out := make([]Example, len(examples))
	copy(out, examples)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// cut slices the examples by ratio, rounding train and validation counts
// and giving the remainder to test.
func cut(examples []Example, r Ratios) Splits {
	n := len(examples)
	train := int(math.Round(float64(n) * r.Train))
	validation := int(math.Round(float64(n) * r.Validation))
	if train > n {
		train = n
	}
	if train+validation > n {
		validation = n - train
	}
	return Splits{
		Train:      examples[:train],
		Validation: examples[train : train+validation],
		Test:       examples[train+validation:],
	}
}

// Len returns the total example count across partitions.
func (s Splits) Len() int {
	return len(s.Train) + len(s.Validation) + len(s.Test)
}
