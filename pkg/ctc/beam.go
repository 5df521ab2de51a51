// Package ctc decodes per-timestep label log-probabilities into label
// sequences using Connectionist Temporal Classification rules.
//
// [BeamSearch] keeps up to BeamWidth hypotheses per timestep, collapses
// blanks and repeated labels, scores completed words with an optional
// [lm.Model], merges hypotheses that can no longer be told apart, and prunes
// with a linear-time partial selection ([SelectTop]). [Greedy] takes the
// per-timestep argmax instead.
//
// A decode owns all of its state. Decoders are safe for concurrent use as
// long as the language model is.
package ctc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"

	"github.com/MrWong99/ctcdecode/pkg/lm"
	"github.com/MrWong99/ctcdecode/pkg/vocab"
)

// Decoder turns a T×V log-probability matrix into ranked hypotheses.
type Decoder interface {
	Decode(ctx context.Context, logProbs [][]float32) ([]Hypothesis, error)
}

// Hypothesis is one decoded output sequence.
type Hypothesis struct {
	// Labels is the collapsed output label sequence, never nil.
	Labels []int

	// Text is Labels rendered by the vocabulary.
	Text string

	// Score is Acoustic + LM and determines the ranking.
	Score float64

	// Acoustic is the accumulated emission log-probability.
	Acoustic float64

	// LM is the accumulated weighted language-model score including word
	// bonuses and the end-of-sequence score.
	LM float64
}

// BeamSearch is a CTC prefix beam-search decoder.
type BeamSearch struct {
	vocab *vocab.Vocabulary
	model lm.Model
	opts  Options
	log   *slog.Logger
}

var _ Decoder = (*BeamSearch)(nil)

// NewBeamSearch returns a decoder over v. model may be nil, in which case
// hypotheses are ranked by acoustic score alone.
func NewBeamSearch(v *vocab.Vocabulary, model lm.Model, opts Options, options ...Option) (*BeamSearch, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil vocabulary", ErrInvalidConfiguration)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if b := v.Blank(); b < 0 || b >= v.Len() {
		return nil, fmt.Errorf("%w: blank index %d out of range [0, %d)", ErrInvalidInput, b, v.Len())
	}
	if model != nil {
		if t := reflect.TypeOf(model.Start()); t != nil && !t.Comparable() {
			return nil, fmt.Errorf("%w: language model state %v is not comparable", ErrInvalidConfiguration, t)
		}
	}
	b := &BeamSearch{
		vocab: v,
		model: model,
		opts:  opts,
		log:   slog.Default(),
	}
	for _, o := range options {
		o(b)
	}
	return b, nil
}

// Options returns the decoder's options.
func (b *BeamSearch) Options() Options { return b.opts }

// Vocabulary returns the decoder's vocabulary.
func (b *BeamSearch) Vocabulary() *vocab.Vocabulary { return b.vocab }

// HasLanguageModel reports whether a language model is attached.
func (b *BeamSearch) HasLanguageModel() bool { return b.model != nil }

// Decode validates the whole matrix, runs the beam search over every row and
// returns up to NBest hypotheses by descending score. ctx is checked between
// timesteps.
//
// An empty matrix yields a single empty hypothesis whose score is the
// weighted end-of-sequence score, or 0 without a language model.
func (b *BeamSearch) Decode(ctx context.Context, logProbs [][]float32) ([]Hypothesis, error) {
	if err := ValidateMatrix(logProbs, b.vocab.Len()); err != nil {
		return nil, err
	}
	s := b.newStream(len(logProbs))
	for t, row := range logProbs {
		if err := ctx.Err(); err != nil {
			s.abort()
			return nil, fmt.Errorf("ctc: decode cancelled before timestep %d: %w", t, err)
		}
		if err := s.step(row); err != nil {
			return nil, err
		}
	}
	return s.Finish(0)
}

// ValidateMatrix checks that every row has exactly v finite values.
func ValidateMatrix(logProbs [][]float32, v int) error {
	for t, row := range logProbs {
		if err := validateRow(row, v, t); err != nil {
			return err
		}
	}
	return nil
}

func validateRow(row []float32, v, t int) error {
	if len(row) != v {
		return fmt.Errorf("%w: timestep %d has %d values, want %d", ErrInvalidInput, t, len(row), v)
	}
	for i, x := range row {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: timestep %d label %d: non-finite log-probability %v", ErrInvalidInput, t, i, x)
		}
	}
	return nil
}
