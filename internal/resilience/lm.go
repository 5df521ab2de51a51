package resilience

import (
	"github.com/MrWong99/ctcdecode/pkg/lm"
)

// LanguageModel guards an [lm.Model] with a [CircuitBreaker]. Once the
// breaker opens, Score and Finish fail fast with [ErrCircuitOpen] instead of
// waiting on a failing backend. Start is not guarded.
type LanguageModel struct {
	next    lm.Model
	breaker *CircuitBreaker
}

var _ lm.Model = (*LanguageModel)(nil)

// NewLanguageModel wraps model. An empty cfg.Name becomes "language_model".
func NewLanguageModel(model lm.Model, cfg CircuitBreakerConfig) *LanguageModel {
	if cfg.Name == "" {
		cfg.Name = "language_model"
	}
	return &LanguageModel{next: model, breaker: NewCircuitBreaker(cfg)}
}

// Breaker exposes the breaker for health reporting.
func (l *LanguageModel) Breaker() *CircuitBreaker { return l.breaker }

// Start implements [lm.Model].
func (l *LanguageModel) Start() lm.State { return l.next.Start() }

// Score implements [lm.Model].
func (l *LanguageModel) Score(state lm.State, word string) (next lm.State, logProb float64, err error) {
	err = l.breaker.Execute(func() error {
		var innerErr error
		next, logProb, innerErr = l.next.Score(state, word)
		return innerErr
	})
	return next, logProb, err
}

// Finish implements [lm.Model].
func (l *LanguageModel) Finish(state lm.State) (logProb float64, err error) {
	err = l.breaker.Execute(func() error {
		var innerErr error
		logProb, innerErr = l.next.Finish(state)
		return innerErr
	})
	return logProb, err
}
