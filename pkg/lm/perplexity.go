package lm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrNoWords is returned by [Perplexity] for an empty word sequence.
var ErrNoWords = errors.New("lm: perplexity of empty text")

// PerplexityResult is the outcome of [Perplexity].
type PerplexityResult struct {
	// Value is the perplexity.
	Value float64

	// LogProb is the summed log-probability in the model's own base.
	LogProb float64

	// Words is the number of scored events, including the end-of-sequence
	// event when requested.
	Words int
}

// PerplexityOption configures [Perplexity].
type PerplexityOption func(*perplexityConfig)

type perplexityConfig struct {
	eos  bool
	base float64
}

// WithEndOfSequence adds the model's end-of-sequence score and counts it as
// one more word.
func WithEndOfSequence() PerplexityOption {
	return func(c *perplexityConfig) { c.eos = true }
}

// WithLogBase declares the base of the model's log-probabilities. The
// default is e. ARPA and KenLM style models use base 10.
func WithLogBase(base float64) PerplexityOption {
	return func(c *perplexityConfig) {
		if base > 1 {
			c.base = base
		}
	}
}

// Perplexity scores words with m, threading state exactly as the decoder does,
// and returns base^(-mean log-probability).
func Perplexity(m Model, words []string, opts ...PerplexityOption) (PerplexityResult, error) {
	cfg := perplexityConfig{base: math.E}
	for _, o := range opts {
		o(&cfg)
	}
	if len(words) == 0 {
		return PerplexityResult{}, ErrNoWords
	}

	scores := make([]float64, 0, len(words)+1)
	state := m.Start()
	for i, w := range words {
		next, lp, err := m.Score(state, w)
		if err != nil {
			return PerplexityResult{}, fmt.Errorf("lm: score word %d (%q): %w", i, w, err)
		}
		scores = append(scores, lp)
		state = next
	}
	if cfg.eos {
		lp, err := m.Finish(state)
		if err != nil {
			return PerplexityResult{}, fmt.Errorf("lm: end of sequence: %w", err)
		}
		scores = append(scores, lp)
	}

	total := floats.Sum(scores)
	n := len(scores)
	return PerplexityResult{
		Value:   math.Pow(cfg.base, -total/float64(n)),
		LogProb: total,
		Words:   n,
	}, nil
}
