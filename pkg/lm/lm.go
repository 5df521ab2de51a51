// Package lm defines the language-model capability consumed by the CTC
// decoder.
//
// A [Model] scores whole words given an opaque [State] and returns the state
// to use for the next word. The decoder never looks inside a State; it only
// threads it through calls and compares states for equality when merging
// hypotheses. Implementations must therefore use comparable values (structs of
// scalars or fixed-size arrays, pointers) as their concrete state types.
//
// Models are shared read-only across concurrent decodes. All methods must be
// safe for concurrent use.
package lm

// State is an opaque language-model context. Concrete values must be
// comparable with ==.
type State any

// Model is the language-model capability.
type Model interface {
	// Start returns the state before any word has been seen.
	Start() State

	// Score returns the state after word and the log-probability of word given
	// state. A non-nil error aborts the decode that issued the call.
	Score(state State, word string) (State, float64, error)

	// Finish returns the end-of-sequence log-probability for state.
	Finish(state State) (float64, error)
}

// Zero is a [Model] that assigns log-probability 0 to everything. Decoding
// with Zero is equivalent to decoding without a language model.
type Zero struct{}

var _ Model = Zero{}

// Start implements [Model].
func (Zero) Start() State { return struct{}{} }

// Score implements [Model].
func (Zero) Score(state State, _ string) (State, float64, error) { return state, 0, nil }

// Finish implements [Model].
func (Zero) Finish(State) (float64, error) { return 0, nil }
