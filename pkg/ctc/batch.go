package ctc

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one item of [DecodeBatch].
type BatchResult struct {
	Hypotheses []Hypothesis
	Err        error
}

// DecodeBatch decodes every input with d, running at most workers decodes at
// once (workers <= 0 means one per input). Each item gets its own result: a
// failure in one never affects another. Results are in input order.
func DecodeBatch(ctx context.Context, d Decoder, inputs [][][]float32, workers int) []BatchResult {
	results := make([]BatchResult, len(inputs))

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Hypotheses, results[i].Err = d.Decode(ctx, in)
			return nil
		})
	}
	// Per-item errors live in results; the group itself never fails.
	_ = g.Wait()
	return results
}
