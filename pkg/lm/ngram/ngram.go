// Package ngram implements an in-memory backoff n-gram language model.
//
// Probabilities and backoff weights are log10, as in ARPA files. The model is
// assembled programmatically with [Model.Add] (or [Build]) and then queried
// through the [lm.Model] interface. Scoring uses Katz backoff:
//
//	P(w | h) = p(h w)                       if h w is known
//	         = backoff(h) + P(w | h[1:])    otherwise
//
// The state returned after each word is minimised to the longest suffix of
// the history that is itself a known n-gram, so histories that can never be
// told apart by future queries compare equal.
//
// A Model must not be modified once scoring has started. After construction
// it is safe for concurrent read-only use.
package ngram

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/ctcdecode/pkg/lm"
)

// MaxOrder is the highest supported n-gram order.
const MaxOrder = 6

// Conventional special words.
const (
	BeginSentence = "<s>"
	EndSentence   = "</s>"
	Unknown       = "<unk>"
)

// DefaultUnknownLogProb is the log10 probability used for words missing from
// the model when no <unk> unigram exists.
const DefaultUnknownLogProb = -100.0

var (
	// ErrOrder is returned for an order outside [1, MaxOrder] or an entry
	// longer than the model order.
	ErrOrder = errors.New("ngram: invalid order")

	// ErrInvalidEntry is returned for empty or non-finite entries.
	ErrInvalidEntry = errors.New("ngram: invalid entry")
)

// Entry is one n-gram with its log10 probability and backoff weight.
type Entry struct {
	Words   []string
	LogProb float64
	Backoff float64
}

// State is the word history carried between calls. ids holds the n most
// recent word ids, oldest first.
type State struct {
	n   uint8
	ids [MaxOrder - 1]uint32
}

// Len returns the number of history words the state remembers.
func (s State) Len() int { return int(s.n) }

type key struct {
	n   uint8
	ids [MaxOrder]uint32
}

type weights struct {
	logProb float64
	backoff float64
}

// Model is a Katz backoff n-gram model.
type Model struct {
	order      int
	ids        map[string]uint32
	words      []string
	grams      map[key]weights
	counts     [MaxOrder]int
	unkLogProb float64
}

var _ lm.Model = (*Model)(nil)

// Option configures a [Model].
type Option func(*Model)

// WithUnknownLogProb sets the log10 probability for words with no unigram
// when the model has no <unk> entry.
func WithUnknownLogProb(lp float64) Option {
	return func(m *Model) { m.unkLogProb = lp }
}

// New returns an empty model of the given order.
func New(order int, opts ...Option) (*Model, error) {
	if order < 1 || order > MaxOrder {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrOrder, order, MaxOrder)
	}
	m := &Model{
		order:      order,
		ids:        make(map[string]uint32),
		words:      []string{""},
		grams:      make(map[key]weights),
		unkLogProb: DefaultUnknownLogProb,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Build creates a model and adds all entries.
func Build(order int, entries []Entry, opts ...Option) (*Model, error) {
	m, err := New(order, opts...)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		if err := m.Add(e.Words, e.LogProb, e.Backoff); err != nil {
			return nil, fmt.Errorf("ngram: entry %d: %w", i, err)
		}
	}
	return m, nil
}

// Add inserts or replaces an n-gram.
func (m *Model) Add(words []string, logProb, backoff float64) error {
	if len(words) == 0 {
		return fmt.Errorf("%w: no words", ErrInvalidEntry)
	}
	if len(words) > m.order {
		return fmt.Errorf("%w: %d-gram in order %d model", ErrOrder, len(words), m.order)
	}
	if math.IsNaN(logProb) || math.IsInf(logProb, 0) || math.IsNaN(backoff) || math.IsInf(backoff, 0) {
		return fmt.Errorf("%w: non-finite weight for %q", ErrInvalidEntry, words)
	}
	k := key{n: uint8(len(words))}
	for i, w := range words {
		if w == "" {
			return fmt.Errorf("%w: empty word in %q", ErrInvalidEntry, words)
		}
		k.ids[i] = m.intern(w)
	}
	if _, ok := m.grams[k]; !ok {
		m.counts[len(words)-1]++
	}
	m.grams[k] = weights{logProb: logProb, backoff: backoff}
	return nil
}

func (m *Model) intern(w string) uint32 {
	if id, ok := m.ids[w]; ok {
		return id
	}
	id := uint32(len(m.words))
	m.ids[w] = id
	m.words = append(m.words, w)
	return id
}

// Order returns the model order.
func (m *Model) Order() int { return m.order }

// Count returns the number of n-grams of length n.
func (m *Model) Count(n int) int {
	if n < 1 || n > MaxOrder {
		return 0
	}
	return m.counts[n-1]
}

// Entries returns every n-gram, grouped by length. Words within a group are
// in no particular order.
func (m *Model) Entries() []Entry {
	out := make([]Entry, 0, len(m.grams))
	for n := 1; n <= m.order; n++ {
		for k, w := range m.grams {
			if int(k.n) != n {
				continue
			}
			words := make([]string, n)
			for i := range n {
				words[i] = m.words[k.ids[i]]
			}
			out = append(out, Entry{Words: words, LogProb: w.logProb, Backoff: w.backoff})
		}
	}
	return out
}

// Start returns the sentence-start state. It holds <s> when the model knows
// it and the order allows any history.
func (m *Model) Start() lm.State {
	var s State
	if m.order < 2 {
		return s
	}
	if id, ok := m.ids[BeginSentence]; ok {
		s.n = 1
		s.ids[0] = id
	}
	return s
}

// Score implements [lm.Model].
func (m *Model) Score(state lm.State, word string) (lm.State, float64, error) {
	s, ok := state.(State)
	if !ok {
		return nil, 0, fmt.Errorf("ngram: foreign state %T", state)
	}
	id, known := m.lookup(word)
	if !known {
		return State{}, m.unkLogProb, nil
	}
	return m.next(s, id), m.prob(s, id), nil
}

// Finish implements [lm.Model] by scoring </s>.
func (m *Model) Finish(state lm.State) (float64, error) {
	s, ok := state.(State)
	if !ok {
		return 0, fmt.Errorf("ngram: foreign state %T", state)
	}
	id, known := m.lookup(EndSentence)
	if !known {
		return m.unkLogProb, nil
	}
	return m.prob(s, id), nil
}

// lookup maps word to its id, falling back to <unk>.
func (m *Model) lookup(word string) (uint32, bool) {
	if id, ok := m.ids[word]; ok {
		if _, isGram := m.grams[key{n: 1, ids: [MaxOrder]uint32{id}}]; isGram {
			return id, true
		}
	}
	if id, ok := m.ids[Unknown]; ok {
		if _, isGram := m.grams[key{n: 1, ids: [MaxOrder]uint32{id}}]; isGram {
			return id, true
		}
	}
	return 0, false
}

// prob walks from the longest context down to the unigram, accumulating
// backoff weights of the contexts that did not contain w.
func (m *Model) prob(s State, w uint32) float64 {
	var backoff float64
	for l := int(s.n); l >= 0; l-- {
		k := gramKey(s, l, w)
		if g, ok := m.grams[k]; ok {
			return backoff + g.logProb
		}
		if l > 0 {
			if ctx, ok := m.grams[gramKey(s, l, 0)]; ok {
				backoff += ctx.backoff
			}
		}
	}
	return backoff + m.unkLogProb
}

// gramKey builds the key for the last l history words followed by w. With
// w == 0 it builds the key for the context alone.
func gramKey(s State, l int, w uint32) key {
	var k key
	copy(k.ids[:l], s.ids[int(s.n)-l:s.n])
	k.n = uint8(l)
	if w != 0 {
		k.ids[l] = w
		k.n++
	}
	return k
}

// next appends w to the history, truncates it to order-1 words and
// shortens it to the longest suffix that is a known n-gram.
func (m *Model) next(s State, w uint32) State {
	limit := m.order - 1
	if limit == 0 {
		return State{}
	}
	hist := make([]uint32, 0, MaxOrder)
	hist = append(hist, s.ids[:s.n]...)
	hist = append(hist, w)
	if len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	for l := len(hist); l > 0; l-- {
		var k key
		k.n = uint8(l)
		copy(k.ids[:], hist[len(hist)-l:])
		if _, ok := m.grams[k]; ok {
			var out State
			out.n = uint8(l)
			copy(out.ids[:], hist[len(hist)-l:])
			return out
		}
	}
	return State{}
}

// Words returns the words remembered by state, oldest first.
func (m *Model) Words(state lm.State) []string {
	s, ok := state.(State)
	if !ok {
		return nil
	}
	out := make([]string, s.n)
	for i := range int(s.n) {
		out[i] = m.words[s.ids[i]]
	}
	return out
}
