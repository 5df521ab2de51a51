package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/ctcdecode/pkg/ctc"
	"github.com/MrWong99/ctcdecode/pkg/lm"
)

// ErrorKind classifies a decode error for metrics and logs: invalid_input,
// invalid_configuration, language_model, stream_closed, cancelled or
// internal. A nil error yields "".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ctc.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ctc.ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, ctc.ErrLanguageModel):
		return "language_model"
	case errors.Is(err, ctc.ErrStreamClosed):
		return "stream_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// Decoder wraps a [ctc.Decoder] with a span and decode metrics per call.
type Decoder struct {
	next    ctc.Decoder
	mode    string
	metrics *Metrics
}

var _ ctc.Decoder = (*Decoder)(nil)

// InstrumentDecoder wraps d. mode labels the metrics ("beam", "greedy").
// A nil m selects [DefaultMetrics].
func InstrumentDecoder(d ctc.Decoder, mode string, m *Metrics) *Decoder {
	if m == nil {
		m = DefaultMetrics()
	}
	return &Decoder{next: d, mode: mode, metrics: m}
}

// Decode runs the wrapped decoder inside a "ctc.decode" span.
func (d *Decoder) Decode(ctx context.Context, logProbs [][]float32) (hyps []ctc.Hypothesis, err error) {
	ctx, span := StartSpan(ctx, "ctc.decode", trace.WithAttributes(
		attribute.String("ctc.mode", d.mode),
		attribute.Int("ctc.timesteps", len(logProbs)),
	))
	defer func() { EndSpan(span, err) }()

	start := time.Now()
	hyps, err = d.next.Decode(ctx, logProbs)
	elapsed := time.Since(start)
	d.metrics.RecordDecode(ctx, d.mode, len(logProbs), elapsed, err)

	if err != nil {
		Logger(ctx).Debug("observe: decode failed", "mode", d.mode, "kind", ErrorKind(err), "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("ctc.hypotheses", len(hyps)))
	if len(hyps) > 0 {
		span.SetAttributes(attribute.Float64("ctc.best_score", hyps[0].Score))
	}
	return hyps, nil
}

// LanguageModel wraps an [lm.Model] and counts its calls. States pass
// through unchanged, so the wrapper is transparent to state merging.
type LanguageModel struct {
	next    lm.Model
	metrics *Metrics
}

var _ lm.Model = (*LanguageModel)(nil)

// InstrumentLanguageModel wraps model. A nil m selects [DefaultMetrics].
func InstrumentLanguageModel(model lm.Model, m *Metrics) *LanguageModel {
	if m == nil {
		m = DefaultMetrics()
	}
	return &LanguageModel{next: model, metrics: m}
}

// Start implements [lm.Model].
func (l *LanguageModel) Start() lm.State { return l.next.Start() }

// Score implements [lm.Model].
func (l *LanguageModel) Score(state lm.State, word string) (lm.State, float64, error) {
	next, lp, err := l.next.Score(state, word)
	l.metrics.RecordLMCall(context.Background(), "score", err)
	return next, lp, err
}

// Finish implements [lm.Model].
func (l *LanguageModel) Finish(state lm.State) (float64, error) {
	lp, err := l.next.Finish(state)
	l.metrics.RecordLMCall(context.Background(), "finish", err)
	return lp, err
}
