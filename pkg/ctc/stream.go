package ctc

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/MrWong99/ctcdecode/pkg/lm"
)

type streamState int

const (
	stateInitialized streamState = iota
	stateStepping
	stateFinalized
	stateDone
)

// Stats describes the work done by a stream so far.
type Stats struct {
	Timesteps  int
	Nodes      int
	Candidates int
	Merged     int
	Pruned     int
	LMCalls    int
}

// mergeKey identifies candidates that behave identically from here on.
type mergeKey struct {
	prefix int32
	state  lm.State
}

// Stream decodes one sequence incrementally, one timestep per [Stream.Step].
// It moves from initialized through stepping to finalized and done; once
// [Stream.Finish] has run, or a step failed on the language model, every
// method returns [ErrStreamClosed].
//
// A Stream is not safe for concurrent use.
type Stream struct {
	bs     *BeamSearch
	scorer scorer
	arena  *arena
	state  streamState

	beam  []int32
	next  []int32
	raw   []candidate
	cands []candidate
	index map[mergeKey]int32
	add   func(candidate)

	all    []int
	labels []int

	stats Stats
}

// NewStream starts an incremental decode.
func (b *BeamSearch) NewStream() *Stream {
	return b.newStream(0)
}

func (b *BeamSearch) newStream(steps int) *Stream {
	width := b.opts.BeamWidth
	s := &Stream{
		bs:     b,
		scorer: newScorer(b.vocab, b.model, b.opts),
		arena:  newArena((steps + 1) * width),
		beam:   make([]int32, 0, width),
		next:   make([]int32, 0, width),
		index:  make(map[mergeKey]int32, width*4),
		all:    make([]int, b.vocab.Len()),
	}
	for i := range s.all {
		s.all[i] = i
	}
	s.add = s.addCandidate
	s.beam = append(s.beam, s.arena.root(s.scorer.start()))
	return s
}

// Step consumes one row of log-probabilities. A malformed row is rejected
// with [ErrInvalidInput] and leaves the stream unchanged. A language-model
// failure aborts the stream.
func (s *Stream) Step(row []float32) error {
	if s.state >= stateFinalized {
		return ErrStreamClosed
	}
	if err := validateRow(row, s.bs.vocab.Len(), s.stats.Timesteps); err != nil {
		return err
	}
	return s.step(row)
}

func (s *Stream) step(row []float32) error {
	s.state = stateStepping
	t := s.stats.Timesteps

	s.raw = s.raw[:0]
	labels := s.expansionLabels(row)
	for _, hi := range s.beam {
		h := s.arena.node(hi)
		for _, l := range labels {
			if err := s.scorer.expand(s.arena, hi, h, int32(l), float64(row[l]), s.add); err != nil {
				s.abort()
				return fmt.Errorf("ctc: timestep %d: %w", t, err)
			}
		}
	}
	s.stats.Candidates += len(s.raw)

	// The threshold is measured against unmerged extensions.
	floor := negInf
	if thr := s.bs.opts.BeamThreshold; thr > 0 {
		best := negInf
		for i := range s.raw {
			c := &s.raw[i]
			c.score = s.scorer.combine(c.blank, c.nonBlank) + c.lm
			best = max(best, c.score)
		}
		floor = best - thr
	}

	s.cands = s.cands[:0]
	clear(s.index)
	for i := range s.raw {
		if s.raw[i].score < floor {
			s.stats.Pruned++
			continue
		}
		s.merge(s.raw[i])
	}
	for i := range s.cands {
		c := &s.cands[i]
		c.score = s.scorer.combine(c.blank, c.nonBlank) + c.lm
	}

	top := SelectTop(s.cands, s.bs.opts.BeamWidth, better)
	slices.SortFunc(top, func(a, b candidate) int { return cmp.Compare(a.seq, b.seq) })

	s.next = s.next[:0]
	for _, c := range top {
		s.next = append(s.next, s.arena.extend(c.parent, c.label, c.last, c.prefix, c.state, c.blank, c.nonBlank, c.lm))
	}
	s.beam, s.next = s.next, s.beam
	s.stats.Timesteps++
	return nil
}

func (s *Stream) addCandidate(c candidate) { s.raw = append(s.raw, c) }

// merge inserts c or merges it into the candidate with the same key.
func (s *Stream) merge(c candidate) {
	k := mergeKey{prefix: c.prefix, state: c.state}
	if i, ok := s.index[k]; ok {
		m := &s.cands[i]
		m.blank = s.scorer.combine(m.blank, c.blank)
		m.nonBlank = s.scorer.combine(m.nonBlank, c.nonBlank)
		s.stats.Merged++
		return
	}
	c.seq = int32(len(s.cands))
	s.index[k] = c.seq
	s.cands = append(s.cands, c)
}

// expansionLabels returns the labels to expand this timestep in ascending
// order: all of them, or the TokenBeam most likely ones.
func (s *Stream) expansionLabels(row []float32) []int {
	k := s.bs.opts.TokenBeam
	if k == 0 || k >= len(s.all) {
		return s.all
	}
	s.labels = append(s.labels[:0], s.all...)
	top := SelectTop(s.labels, k, func(a, b int) bool {
		if row[a] != row[b] {
			return row[a] > row[b]
		}
		return a < b
	})
	slices.Sort(top)
	return top
}

// Len returns the current number of hypotheses in the beam.
func (s *Stream) Len() int { return len(s.beam) }

// Stats returns counters for the work done so far.
func (s *Stream) Stats() Stats {
	st := s.stats
	st.Nodes = s.arena.size()
	st.LMCalls = s.scorer.lmCalls
	return st
}

// Partial returns every hypothesis in the current beam ranked by score,
// without end-of-sequence scoring.
func (s *Stream) Partial() ([]Hypothesis, error) {
	if s.state >= stateFinalized {
		return nil, ErrStreamClosed
	}
	rn := make([]rankedNode, len(s.beam))
	for i, ni := range s.beam {
		n := s.arena.node(ni)
		rn[i] = rankedNode{node: ni, acoustic: s.scorer.combine(n.blank, n.nonBlank), lm: n.lm}
	}
	return s.hypotheses(rn, len(rn)), nil
}

// Best returns the best partial hypothesis.
func (s *Stream) Best() (Hypothesis, error) {
	hyps, err := s.Partial()
	if err != nil {
		return Hypothesis{}, err
	}
	return hyps[0], nil
}

// Finish applies end-of-input language-model scoring to every hypothesis in
// the beam and returns the nbest highest scoring ones. nbest <= 0 uses the
// decoder's NBest option.
func (s *Stream) Finish(nbest int) ([]Hypothesis, error) {
	if s.state >= stateFinalized {
		return nil, ErrStreamClosed
	}
	s.state = stateFinalized
	if nbest <= 0 {
		nbest = s.bs.opts.nbest()
	}

	rn := make([]rankedNode, len(s.beam))
	for i, ni := range s.beam {
		n := s.arena.node(ni)
		add, err := s.scorer.finish(s.arena, n)
		if err != nil {
			s.state = stateDone
			return nil, fmt.Errorf("ctc: finalize: %w", err)
		}
		rn[i] = rankedNode{node: ni, acoustic: s.scorer.combine(n.blank, n.nonBlank), lm: n.lm + add}
	}
	out := s.hypotheses(rn, nbest)
	s.state = stateDone

	st := s.Stats()
	s.bs.log.Debug("ctc: decode finished",
		"timesteps", st.Timesteps,
		"nodes", st.Nodes,
		"candidates", st.Candidates,
		"merged", st.Merged,
		"pruned", st.Pruned,
		"lm_calls", st.LMCalls,
		"best_score", out[0].Score,
	)
	return out, nil
}

func (s *Stream) abort() { s.state = stateDone }

type rankedNode struct {
	node     int32
	acoustic float64
	lm       float64
}

func (r rankedNode) score() float64 { return r.acoustic + r.lm }

// hypotheses sorts r by descending score, keeping beam order on ties, and
// reconstructs the first n.
func (s *Stream) hypotheses(r []rankedNode, n int) []Hypothesis {
	slices.SortStableFunc(r, func(a, b rankedNode) int { return cmp.Compare(b.score(), a.score()) })
	n = min(n, len(r))
	out := make([]Hypothesis, n)
	for i := range n {
		labels := s.arena.reconstruct(r[i].node)
		out[i] = Hypothesis{
			Labels:   labels,
			Text:     s.bs.vocab.Text(labels),
			Score:    r[i].score(),
			Acoustic: r[i].acoustic,
			LM:       r[i].lm,
		}
	}
	return out
}
