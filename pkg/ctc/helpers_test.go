package ctc_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/ctcdecode/pkg/ctc"
	"github.com/MrWong99/ctcdecode/pkg/lm"
	"github.com/MrWong99/ctcdecode/pkg/vocab"
)

var vocabBoundary = vocab.WithWordBoundary("|")

func mustVocab(t *testing.T, symbols []string, opts ...vocab.Option) *vocab.Vocabulary {
	t.Helper()
	v, err := vocab.New(symbols, opts...)
	if err != nil {
		t.Fatalf("vocab.New: %v", err)
	}
	return v
}

func mustBeam(t *testing.T, v *vocab.Vocabulary, model lm.Model, opts ctc.Options) *ctc.BeamSearch {
	t.Helper()
	d, err := ctc.NewBeamSearch(v, model, opts)
	if err != nil {
		t.Fatalf("NewBeamSearch: %v", err)
	}
	return d
}

func opts(width int) ctc.Options {
	o := ctc.DefaultOptions()
	o.BeamWidth = width
	return o
}

// peaked builds one row per entry of argmax in which that label has
// probability p and the rest share 1-p evenly.
func peaked(v int, argmax []int, p float64) [][]float32 {
	hi := float32(math.Log(p))
	lo := float32(math.Log((1 - p) / float64(v-1)))
	out := make([][]float32, len(argmax))
	for t, a := range argmax {
		row := make([]float32, v)
		for i := range row {
			row[i] = lo
		}
		row[a] = hi
		out[t] = row
	}
	return out
}

// probs converts rows of probabilities to log-probabilities.
func probs(rows ...[]float64) [][]float32 {
	out := make([][]float32, len(rows))
	for t, r := range rows {
		out[t] = make([]float32, len(r))
		for i, p := range r {
			out[t][i] = float32(math.Log(p))
		}
	}
	return out
}

// randomMatrix returns log-softmax rows of random logits.
func randomMatrix(r *rand.Rand, steps, v int) [][]float32 {
	out := make([][]float32, steps)
	for t := range out {
		logits := make([]float64, v)
		var sum float64
		for i := range logits {
			logits[i] = r.NormFloat64() * 2
			sum += math.Exp(logits[i])
		}
		lse := math.Log(sum)
		row := make([]float32, v)
		for i, l := range logits {
			row[i] = float32(l - lse)
		}
		out[t] = row
	}
	return out
}

func labelKey(labels []int) string {
	b := make([]byte, 0, len(labels)*2)
	for _, l := range labels {
		b = append(b, byte(l), ',')
	}
	return string(b)
}
