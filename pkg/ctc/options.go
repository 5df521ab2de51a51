package ctc

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// MergePolicy selects how the acoustic scores of two candidates with the
// same output and language-model state are combined.
type MergePolicy int

const (
	// MergeMax keeps the higher score (Viterbi style).
	MergeMax MergePolicy = iota

	// MergeLogSumExp adds the probabilities of both candidates.
	MergeLogSumExp
)

// String returns the configuration name of the policy.
func (p MergePolicy) String() string {
	switch p {
	case MergeMax:
		return "max"
	case MergeLogSumExp:
		return "logsumexp"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// ParseMergePolicy parses "max" or "logsumexp" (case-insensitive). The empty
// string selects [MergeMax].
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max":
		return MergeMax, nil
	case "logsumexp", "log-sum-exp", "logadd":
		return MergeLogSumExp, nil
	default:
		return 0, fmt.Errorf("%w: unknown merge policy %q", ErrInvalidConfiguration, s)
	}
}

// Options are the numeric parameters of a beam search.
type Options struct {
	// BeamWidth is the maximum number of hypotheses kept after each
	// timestep. Must be at least 1.
	BeamWidth int

	// TokenBeam limits each timestep's expansion to the TokenBeam labels
	// with the highest emission log-probability. 0 expands every label.
	TokenBeam int

	// BeamThreshold discards candidates scoring more than BeamThreshold
	// below the best candidate of the same timestep. 0 disables it.
	BeamThreshold float64

	// LMWeight scales language-model log-probabilities.
	LMWeight float64

	// WordBonus is added once per scored word.
	WordBonus float64

	// NBest is the number of hypotheses returned by a decode. 0 means 1.
	NBest int

	// Merge is the merge policy for equivalent candidates.
	Merge MergePolicy
}

// DefaultOptions returns a beam width of 16, LM weight 1 and a single best
// hypothesis.
func DefaultOptions() Options {
	return Options{
		BeamWidth: 16,
		LMWeight:  1,
		NBest:     1,
	}
}

// Validate reports every problem with o, joined. Every returned error wraps
// [ErrInvalidConfiguration].
func (o Options) Validate() error {
	var errs []error
	if o.BeamWidth <= 0 {
		errs = append(errs, fmt.Errorf("%w: beam width must be positive, got %d", ErrInvalidConfiguration, o.BeamWidth))
	}
	if o.TokenBeam < 0 {
		errs = append(errs, fmt.Errorf("%w: token beam must not be negative, got %d", ErrInvalidConfiguration, o.TokenBeam))
	}
	if o.NBest < 0 {
		errs = append(errs, fmt.Errorf("%w: n-best must not be negative, got %d", ErrInvalidConfiguration, o.NBest))
	}
	if o.BeamThreshold < 0 || math.IsNaN(o.BeamThreshold) {
		errs = append(errs, fmt.Errorf("%w: beam threshold must be a non-negative number, got %v", ErrInvalidConfiguration, o.BeamThreshold))
	}
	if !finite(o.LMWeight) {
		errs = append(errs, fmt.Errorf("%w: lm weight must be finite, got %v", ErrInvalidConfiguration, o.LMWeight))
	}
	if !finite(o.WordBonus) {
		errs = append(errs, fmt.Errorf("%w: word bonus must be finite, got %v", ErrInvalidConfiguration, o.WordBonus))
	}
	if o.Merge != MergeMax && o.Merge != MergeLogSumExp {
		errs = append(errs, fmt.Errorf("%w: unknown merge policy %v", ErrInvalidConfiguration, o.Merge))
	}
	return errors.Join(errs...)
}

func (o Options) nbest() int {
	if o.NBest == 0 {
		return 1
	}
	return o.NBest
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Option configures optional collaborators of a [BeamSearch].
type Option func(*BeamSearch)

// WithLogger sets the logger used for debug output. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *BeamSearch) {
		if l != nil {
			b.log = l
		}
	}
}
