// Package mock provides a scripted test double for the lm package.
//
// Model keeps its state as the list of words seen so far (joined into a
// string, so it stays comparable) and looks up scores from a table. Every call
// is recorded for inspection.
//
// Example:
//
//	m := &mock.Model{
//	    Scores: map[string]float64{"cat": -1, "dog": -3},
//	    Default: -10,
//	}
//	dec, _ := ctc.NewBeamSearch(v, m, opts)
package mock

import (
	"strings"
	"sync"

	"github.com/MrWong99/ctcdecode/pkg/lm"
)

// ScoreCall records a single invocation of Model.Score.
type ScoreCall struct {
	// History is the space-joined words preceding Word.
	History string
	// Word is the word that was scored.
	Word string
}

// Model is a mock implementation of lm.Model.
type Model struct {
	mu sync.Mutex

	// Scores maps a word to its log-probability. Keys of the form
	// "prev word" (space-separated) override the unigram score when the
	// previous word matches.
	Scores map[string]float64

	// Default is returned for words missing from Scores.
	Default float64

	// EOS is returned from Finish.
	EOS float64

	// ScoreErr, if non-nil, is returned from Score for words listed in
	// FailOn, or for every word when FailOn is empty.
	ScoreErr error

	// FailOn restricts ScoreErr to these words.
	FailOn []string

	// FinishErr, if non-nil, is returned from Finish.
	FinishErr error

	// ScoreCalls records every call to Score.
	ScoreCalls []ScoreCall

	// FinishCalls records the history passed to every Finish call.
	FinishCalls []string
}

var _ lm.Model = (*Model)(nil)

// Start returns the empty history.
func (m *Model) Start() lm.State { return "" }

// Score records the call and looks word up in Scores.
func (m *Model) Score(state lm.State, word string) (lm.State, float64, error) {
	history, _ := state.(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScoreCalls = append(m.ScoreCalls, ScoreCall{History: history, Word: word})

	if m.ScoreErr != nil && (len(m.FailOn) == 0 || contains(m.FailOn, word)) {
		return nil, 0, m.ScoreErr
	}

	score, ok := m.Default, false
	if history != "" {
		prev := history[strings.LastIndexByte(history, ' ')+1:]
		score, ok = m.Scores[prev+" "+word]
	}
	if !ok {
		if s, found := m.Scores[word]; found {
			score = s
		} else {
			score = m.Default
		}
	}

	next := word
	if history != "" {
		next = history + " " + word
	}
	return next, score, nil
}

// Finish records the call and returns EOS, FinishErr.
func (m *Model) Finish(state lm.State) (float64, error) {
	history, _ := state.(string)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinishCalls = append(m.FinishCalls, history)
	if m.FinishErr != nil {
		return 0, m.FinishErr
	}
	return m.EOS, nil
}

// Words returns the scored words in call order. Thread-safe.
func (m *Model) Words() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ScoreCalls))
	for i, c := range m.ScoreCalls {
		out[i] = c.Word
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScoreCalls = nil
	m.FinishCalls = nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
