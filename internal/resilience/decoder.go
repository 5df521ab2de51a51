package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/ctcdecode/pkg/ctc"
)

// DecoderFallback implements [ctc.Decoder] by trying a language-model
// decoder first and re-running the decode on fallback decoders when it
// fails with [ctc.ErrLanguageModel]. Invalid input, invalid configuration
// and cancellation are returned as-is and never retried. Each entry has a
// breaker that only counts LM failures, so a persistently failing LM is
// skipped until its reset timeout elapses.
type DecoderFallback struct {
	group *FallbackGroup[ctc.Decoder]
}

var _ ctc.Decoder = (*DecoderFallback)(nil)

// NewDecoderFallback creates a [DecoderFallback] with primary as the
// preferred decoder. cfg.Retryable and cfg.CircuitBreaker.IsFailure are
// replaced by the LM-failure predicate.
func NewDecoderFallback(primary ctc.Decoder, primaryName string, cfg FallbackConfig) *DecoderFallback {
	cfg.Retryable = IsLanguageModelFailure
	cfg.CircuitBreaker.IsFailure = IsLanguageModelFailure
	return &DecoderFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional decoder, typically an acoustic-only
// beam search over the same vocabulary.
func (f *DecoderFallback) AddFallback(name string, d ctc.Decoder) {
	f.group.AddFallback(name, d)
}

// Breaker returns the breaker of the named entry, or nil.
func (f *DecoderFallback) Breaker(name string) *CircuitBreaker {
	return f.group.Breaker(name)
}

// Decode implements [ctc.Decoder].
func (f *DecoderFallback) Decode(ctx context.Context, logProbs [][]float32) ([]ctc.Hypothesis, error) {
	return ExecuteWithResult(f.group, func(d ctc.Decoder) ([]ctc.Hypothesis, error) {
		return d.Decode(ctx, logProbs)
	})
}

// IsLanguageModelFailure reports whether err is a language-model failure
// that another decoder could avoid.
func IsLanguageModelFailure(err error) bool {
	return err != nil && errors.Is(err, ctc.ErrLanguageModel)
}
