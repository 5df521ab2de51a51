package ctc

import (
	"context"
	"fmt"

	"github.com/MrWong99/ctcdecode/pkg/vocab"
)

// Greedy decodes by taking the most likely label at every timestep and
// collapsing the result. It ignores language models and always returns a
// single hypothesis.
type Greedy struct {
	vocab *vocab.Vocabulary
}

var _ Decoder = (*Greedy)(nil)

// NewGreedy returns a greedy decoder over v.
func NewGreedy(v *vocab.Vocabulary) (*Greedy, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil vocabulary", ErrInvalidConfiguration)
	}
	return &Greedy{vocab: v}, nil
}

// Decode implements [Decoder]. Ties within a row go to the lowest label.
func (g *Greedy) Decode(ctx context.Context, logProbs [][]float32) ([]Hypothesis, error) {
	if err := ValidateMatrix(logProbs, g.vocab.Len()); err != nil {
		return nil, err
	}
	blank := g.vocab.Blank()
	labels := []int{}
	prev := noLabel
	var score float64
	for t, row := range logProbs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ctc: greedy decode cancelled before timestep %d: %w", t, err)
		}
		best := 0
		for i, x := range row {
			if x > row[best] {
				best = i
			}
		}
		score += float64(row[best])
		if best != blank && best != prev {
			labels = append(labels, best)
		}
		prev = best
	}
	return []Hypothesis{{
		Labels:   labels,
		Text:     g.vocab.Text(labels),
		Score:    score,
		Acoustic: score,
	}}, nil
}
