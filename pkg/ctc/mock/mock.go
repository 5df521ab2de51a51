// Package mock provides a scripted test double for ctc.Decoder.
//
// Example:
//
//	d := &mock.Decoder{Hypotheses: []ctc.Hypothesis{{Text: "cat"}}}
//	srv := server.New(server.Decoders{Beam: d}, ...)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/ctcdecode/pkg/ctc"
)

// Decoder is a mock implementation of ctc.Decoder.
type Decoder struct {
	mu sync.Mutex

	// Hypotheses is returned from Decode when Err is nil.
	Hypotheses []ctc.Hypothesis

	// Err is returned from Decode when non-nil.
	Err error

	// DecodeFunc, if set, replaces the scripted response.
	DecodeFunc func(ctx context.Context, logProbs [][]float32) ([]ctc.Hypothesis, error)

	// Calls records the input of every Decode call.
	Calls [][][]float32
}

var _ ctc.Decoder = (*Decoder)(nil)

// Decode records the call and returns the scripted response.
func (d *Decoder) Decode(ctx context.Context, logProbs [][]float32) ([]ctc.Hypothesis, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, logProbs)
	fn, hyps, err := d.DecodeFunc, d.Hypotheses, d.Err
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, logProbs)
	}
	if err != nil {
		return nil, err
	}
	return hyps, nil
}

// CallCount returns the number of Decode calls so far.
func (d *Decoder) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
