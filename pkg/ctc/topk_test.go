package ctc_test

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MrWong99/ctcdecode/pkg/ctc"
)

type scored struct {
	score float64
	seq   int
}

func betterScored(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.seq < b.seq
}

func TestSelectTop_MatchesSort(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(7, 11))
	for trial := range 200 {
		n := r.IntN(40)
		items := make([]scored, n)
		for i := range items {
			// Few distinct scores so ties are common.
			items[i] = scored{score: float64(r.IntN(6)), seq: i}
		}
		sorted := slices.Clone(items)
		slices.SortFunc(sorted, func(a, b scored) int {
			if c := cmp.Compare(b.score, a.score); c != 0 {
				return c
			}
			return cmp.Compare(a.seq, b.seq)
		})

		k := r.IntN(n + 2)
		got := ctc.SelectTop(slices.Clone(items), k, betterScored)
		want := sorted[:min(k, n)]
		if len(got) != len(want) {
			t.Fatalf("trial %d: len = %d, want %d", trial, len(got), len(want))
		}
		slices.SortFunc(got, func(a, b scored) int { return cmp.Compare(a.seq, b.seq) })
		slices.SortFunc(want, func(a, b scored) int { return cmp.Compare(a.seq, b.seq) })
		if !slices.Equal(got, want) {
			t.Fatalf("trial %d (n=%d k=%d): got %v, want %v", trial, n, k, got, want)
		}
	}
}

func TestSelectTop_KAtLeastLen(t *testing.T) {
	t.Parallel()
	items := []scored{{1, 0}, {3, 1}, {2, 2}}
	for _, k := range []int{3, 4, 100} {
		got := ctc.SelectTop(slices.Clone(items), k, betterScored)
		if !slices.Equal(got, items) {
			t.Errorf("k=%d: got %v, want unchanged %v", k, got, items)
		}
	}
}

func TestSelectTop_TieGoesToFirst(t *testing.T) {
	t.Parallel()
	items := []scored{{1, 0}, {5, 1}, {5, 2}, {5, 3}, {0, 4}}
	got := ctc.SelectTop(items, 2, betterScored)
	seqs := []int{got[0].seq, got[1].seq}
	slices.Sort(seqs)
	if !slices.Equal(seqs, []int{1, 2}) {
		t.Errorf("selected seqs %v, want [1 2]", seqs)
	}
}

func TestSelectTop_Zero(t *testing.T) {
	t.Parallel()
	if got := ctc.SelectTop([]scored{{1, 0}}, 0, betterScored); len(got) != 0 {
		t.Errorf("k=0: got %v", got)
	}
}
