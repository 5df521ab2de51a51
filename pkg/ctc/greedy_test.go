package ctc_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/ctcdecode/pkg/ctc"
)

func TestGreedy(t *testing.T) {
	t.Parallel()
	v := mustVocab(t, abSymbols)
	g, err := ctc.NewGreedy(v)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		argmax []int
		want   []int
		text   string
	}{
		{"collapse and separate", []int{1, 1, 0, 1, 2}, []int{1, 1, 2}, "aab"},
		{"empty", nil, []int{}, ""},
		{"only blanks", []int{0, 0}, []int{}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			input := peaked(3, tc.argmax, 0.7)
			hyps, err := g.Decode(context.Background(), input)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if len(hyps) != 1 {
				t.Fatalf("got %d hypotheses", len(hyps))
			}
			h := hyps[0]
			if !slices.Equal(h.Labels, tc.want) || h.Text != tc.text {
				t.Errorf("got %v %q, want %v %q", h.Labels, h.Text, tc.want, tc.text)
			}
			want := float64(len(tc.argmax)) * float64(float32(math.Log(0.7)))
			if math.Abs(h.Score-want) > 1e-9 || h.Acoustic != h.Score || h.LM != 0 {
				t.Errorf("score = %v/%v/%v, want %v", h.Score, h.Acoustic, h.LM, want)
			}
		})
	}
}

func TestGreedy_Errors(t *testing.T) {
	t.Parallel()
	if _, err := ctc.NewGreedy(nil); !errors.Is(err, ctc.ErrInvalidConfiguration) {
		t.Errorf("nil vocab: err = %v", err)
	}
	g, _ := ctc.NewGreedy(mustVocab(t, abSymbols))
	if _, err := g.Decode(context.Background(), [][]float32{{-1}}); !errors.Is(err, ctc.ErrInvalidInput) {
		t.Errorf("bad row: err = %v", err)
	}
}
