package ctc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/ctcdecode/pkg/lm"
	"github.com/MrWong99/ctcdecode/pkg/vocab"
)

// candidate is a proposed extension of a beam node for the current timestep.
// Only candidates that survive pruning become arena nodes.
type candidate struct {
	parent int32
	label  int32
	last   int32
	prefix int32
	state  lm.State

	blank    float64
	nonBlank float64
	lm       float64

	score float64
	seq   int32
}

// better orders candidates by descending score, then by insertion order.
func better(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.seq < b.seq
}

// scorer applies the CTC transition rules and language-model scoring to a
// single (hypothesis, label) pair.
type scorer struct {
	vocab    *vocab.Vocabulary
	model    lm.Model
	weight   float64
	bonus    float64
	blank    int32
	boundary int32
	merge    MergePolicy

	lmCalls int
}

func newScorer(v *vocab.Vocabulary, model lm.Model, opts Options) scorer {
	return scorer{
		vocab:    v,
		model:    model,
		weight:   opts.LMWeight,
		bonus:    opts.WordBonus,
		blank:    int32(v.Blank()),
		boundary: int32(v.Boundary()),
		merge:    opts.Merge,
	}
}

// combine merges two acoustic log-probabilities under the merge policy.
func (s *scorer) combine(a, b float64) float64 {
	switch {
	case math.IsInf(a, -1):
		return b
	case math.IsInf(b, -1):
		return a
	case s.merge == MergeLogSumExp:
		pair := [2]float64{a, b}
		return floats.LogSumExp(pair[:])
	default:
		return math.Max(a, b)
	}
}

func (s *scorer) start() lm.State {
	if s.model == nil {
		return nil
	}
	return s.model.Start()
}

// expand proposes the candidates reached from node h (at arena index hi) by
// label with emission log-probability e.
//
//   - blank keeps the output and ends the path in blank.
//   - a repeat of h's last label collapses into it when the path ends in a
//     non-blank label, and emits a new symbol when it ends in blank.
//   - any other label emits a new symbol.
func (s *scorer) expand(a *arena, hi int32, h *node, label int32, e float64, add func(candidate)) error {
	switch {
	case label == s.blank:
		add(candidate{
			parent:   hi,
			label:    noLabel,
			last:     h.last,
			prefix:   h.prefix,
			state:    h.state,
			blank:    s.combine(h.blank, h.nonBlank) + e,
			nonBlank: negInf,
			lm:       h.lm,
		})
	case label == h.last:
		if !math.IsInf(h.nonBlank, -1) {
			add(candidate{
				parent:   hi,
				label:    noLabel,
				last:     h.last,
				prefix:   h.prefix,
				state:    h.state,
				blank:    negInf,
				nonBlank: h.nonBlank + e,
				lm:       h.lm,
			})
		}
		if !math.IsInf(h.blank, -1) {
			return s.emit(a, hi, h, label, h.blank+e, add)
		}
	default:
		return s.emit(a, hi, h, label, s.combine(h.blank, h.nonBlank)+e, add)
	}
	return nil
}

// emit proposes h's output extended by label.
func (s *scorer) emit(a *arena, hi int32, h *node, label int32, acoustic float64, add func(candidate)) error {
	state, lmAdd, err := s.wordCompleted(a, h.prefix, h.state, label)
	if err != nil {
		return err
	}
	add(candidate{
		parent:   hi,
		label:    label,
		last:     label,
		prefix:   a.child(h.prefix, label, label == s.boundary),
		state:    state,
		blank:    negInf,
		nonBlank: acoustic,
		lm:       h.lm + lmAdd,
	})
	return nil
}

// wordCompleted scores the word finished by emitting label after prefix p.
// Without a boundary symbol every label is a word of its own.
func (s *scorer) wordCompleted(a *arena, p int32, state lm.State, label int32) (lm.State, float64, error) {
	if s.model == nil {
		return state, 0, nil
	}
	if s.boundary < 0 {
		return s.score(state, s.vocab.Symbol(int(label)))
	}
	if label != s.boundary {
		return state, 0, nil
	}
	word := a.word(p, s.boundary)
	if len(word) == 0 {
		return state, 0, nil
	}
	return s.score(state, s.vocab.Word(word))
}

// score queries the model and returns the weighted contribution of word.
func (s *scorer) score(state lm.State, word string) (lm.State, float64, error) {
	s.lmCalls++
	next, lp, err := s.model.Score(state, word)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: score %q: %w", ErrLanguageModel, word, err)
	}
	if math.IsNaN(lp) {
		return nil, 0, fmt.Errorf("%w: score %q: model returned NaN", ErrLanguageModel, word)
	}
	return next, lp*s.weight + s.bonus, nil
}

// finish returns the language-model score added at the end of the input:
// the trailing unfinished word, then end of sequence.
func (s *scorer) finish(a *arena, n *node) (float64, error) {
	if s.model == nil {
		return 0, nil
	}
	state, total := n.state, 0.0
	if s.boundary >= 0 {
		if word := a.word(n.prefix, s.boundary); len(word) > 0 {
			next, add, err := s.score(state, s.vocab.Word(word))
			if err != nil {
				return 0, err
			}
			state, total = next, add
		}
	}
	s.lmCalls++
	eos, err := s.model.Finish(state)
	if err != nil {
		return 0, fmt.Errorf("%w: end of sequence: %w", ErrLanguageModel, err)
	}
	if math.IsNaN(eos) {
		return 0, fmt.Errorf("%w: end of sequence: model returned NaN", ErrLanguageModel)
	}
	return total + eos*s.weight, nil
}
