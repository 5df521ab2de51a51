package ngram_test

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/MrWong99/ctcdecode/pkg/lm"
	"github.com/MrWong99/ctcdecode/pkg/lm/ngram"
)

func testEntries() []ngram.Entry {
	return []ngram.Entry{
		{Words: []string{"<s>"}, LogProb: -99, Backoff: -0.3},
		{Words: []string{"</s>"}, LogProb: -1.0},
		{Words: []string{"the"}, LogProb: -1.0, Backoff: -0.2},
		{Words: []string{"cat"}, LogProb: -2.0, Backoff: -0.1},
		{Words: []string{"dog"}, LogProb: -2.5},
		{Words: []string{"<s>", "the"}, LogProb: -0.3, Backoff: -0.05},
		{Words: []string{"the", "cat"}, LogProb: -0.7},
		{Words: []string{"cat", "</s>"}, LogProb: -0.2},
		{Words: []string{"<s>", "the", "cat"}, LogProb: -0.1},
	}
}

func testModel(t *testing.T, opts ...ngram.Option) *ngram.Model {
	t.Helper()
	m, err := ngram.Build(3, testEntries(), opts...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuild_Counts(t *testing.T) {
	t.Parallel()
	m := testModel(t)
	if m.Order() != 3 {
		t.Errorf("Order = %d, want 3", m.Order())
	}
	for n, want := range map[int]int{1: 5, 2: 3, 3: 1, 4: 0} {
		if got := m.Count(n); got != want {
			t.Errorf("Count(%d) = %d, want %d", n, got, want)
		}
	}
	if got := len(m.Entries()); got != 9 {
		t.Errorf("len(Entries) = %d, want 9", got)
	}
}

func TestScore_Sentence(t *testing.T) {
	t.Parallel()
	m := testModel(t)

	s := m.Start()
	if got := m.Words(s); !slices.Equal(got, []string{"<s>"}) {
		t.Fatalf("Start words = %q", got)
	}

	s, lp, err := m.Score(s, "the")
	if err != nil || !approx(lp, -0.3) {
		t.Fatalf("Score(the) = %v, %v; want -0.3", lp, err)
	}
	if got := m.Words(s); !slices.Equal(got, []string{"<s>", "the"}) {
		t.Errorf("state after the = %q", got)
	}

	s, lp, err = m.Score(s, "cat")
	if err != nil || !approx(lp, -0.1) {
		t.Fatalf("Score(cat) = %v, %v; want -0.1", lp, err)
	}
	if got := m.Words(s); !slices.Equal(got, []string{"the", "cat"}) {
		t.Errorf("state after cat = %q", got)
	}

	eos, err := m.Finish(s)
	if err != nil || !approx(eos, -0.2) {
		t.Errorf("Finish = %v, %v; want -0.2", eos, err)
	}
}

func TestScore_Backoff(t *testing.T) {
	t.Parallel()
	m := testModel(t)

	s, lp, err := m.Score(m.Start(), "dog")
	if err != nil {
		t.Fatal(err)
	}
	// backoff(<s>) + p(dog)
	if !approx(lp, -2.8) {
		t.Errorf("Score(dog) = %v, want -2.8", lp)
	}
	if got := m.Words(s); !slices.Equal(got, []string{"dog"}) {
		t.Errorf("state after dog = %q, want [dog]", got)
	}
}

func TestScore_StateMinimisation(t *testing.T) {
	t.Parallel()
	m := testModel(t)

	a, _, _ := m.Score(m.Start(), "dog")
	s, _, _ := m.Score(m.Start(), "the")
	b, _, _ := m.Score(s, "dog")
	if a != b {
		t.Errorf("states differ: %v vs %v", m.Words(a), m.Words(b))
	}
}

func TestScore_Unknown(t *testing.T) {
	t.Parallel()

	m := testModel(t, ngram.WithUnknownLogProb(-42))
	s, lp, err := m.Score(m.Start(), "bird")
	if err != nil {
		t.Fatal(err)
	}
	if lp != -42 {
		t.Errorf("unknown log prob = %v, want -42", lp)
	}
	if s.(ngram.State).Len() != 0 {
		t.Errorf("state after unknown should be empty")
	}

	entries := append(testEntries(), ngram.Entry{Words: []string{"<unk>"}, LogProb: -5})
	withUnk, err := ngram.Build(3, entries)
	if err != nil {
		t.Fatal(err)
	}
	_, lp, _ = withUnk.Score(withUnk.Start(), "bird")
	if !approx(lp, -5.3) {
		t.Errorf("<unk> log prob = %v, want -5.3", lp)
	}
}

func TestUnigramModel(t *testing.T) {
	t.Parallel()
	m, err := ngram.Build(1, []ngram.Entry{
		{Words: []string{"a"}, LogProb: -0.5},
		{Words: []string{"</s>"}, LogProb: -1},
	})
	if err != nil {
		t.Fatal(err)
	}
	s, lp, _ := m.Score(m.Start(), "a")
	if lp != -0.5 {
		t.Errorf("Score(a) = %v, want -0.5", lp)
	}
	if eos, _ := m.Finish(s); eos != -1 {
		t.Errorf("Finish = %v, want -1", eos)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()
	if _, err := ngram.New(0); !errors.Is(err, ngram.ErrOrder) {
		t.Errorf("New(0): err = %v", err)
	}
	if _, err := ngram.New(ngram.MaxOrder + 1); !errors.Is(err, ngram.ErrOrder) {
		t.Errorf("New(max+1): err = %v", err)
	}

	m, _ := ngram.New(2)
	tests := []struct {
		name  string
		words []string
		lp    float64
		want  error
	}{
		{"too long", []string{"a", "b", "c"}, -1, ngram.ErrOrder},
		{"empty", nil, -1, ngram.ErrInvalidEntry},
		{"empty word", []string{""}, -1, ngram.ErrInvalidEntry},
		{"nan", []string{"a"}, math.NaN(), ngram.ErrInvalidEntry},
		{"inf", []string{"a"}, math.Inf(-1), ngram.ErrInvalidEntry},
	}
	for _, tc := range tests {
		if err := m.Add(tc.words, tc.lp, 0); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	if _, _, err := m.Score("not a state", "a"); err == nil {
		t.Error("Score with foreign state: expected error")
	}
	if _, err := m.Finish(42); err == nil {
		t.Error("Finish with foreign state: expected error")
	}
}

func TestPerplexity(t *testing.T) {
	t.Parallel()
	m := testModel(t)

	res, err := lm.Perplexity(m, []string{"the", "cat"}, lm.WithEndOfSequence(), lm.WithLogBase(10))
	if err != nil {
		t.Fatalf("Perplexity: %v", err)
	}
	if res.Words != 3 {
		t.Errorf("Words = %d, want 3", res.Words)
	}
	if !approx(res.LogProb, -0.6) {
		t.Errorf("LogProb = %v, want -0.6", res.LogProb)
	}
	if want := math.Pow(10, 0.2); !approx(res.Value, want) {
		t.Errorf("Value = %v, want %v", res.Value, want)
	}
}
