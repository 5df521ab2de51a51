package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/ctcdecode/internal/config"
	"github.com/MrWong99/ctcdecode/internal/health"
	"github.com/MrWong99/ctcdecode/internal/observe"
	"github.com/MrWong99/ctcdecode/internal/resilience"
	"github.com/MrWong99/ctcdecode/internal/server"
	"github.com/MrWong99/ctcdecode/pkg/ctc"
	"github.com/MrWong99/ctcdecode/pkg/lm"
	"github.com/MrWong99/ctcdecode/pkg/lm/ngram"
	"github.com/MrWong99/ctcdecode/pkg/lm/ngram/pgstore"
	"github.com/MrWong99/ctcdecode/pkg/vocab"
)

// registerLanguageModels wires the built-in language-model factories into
// reg. Factories that open a store append a readiness check to checkers.
func registerLanguageModels(reg *config.Registry, checkers *[]health.Checker) {
	reg.RegisterLanguageModel("ngram-postgres", func(ctx context.Context, c config.LanguageModelConfig) (lm.Model, func(), error) {
		store, err := pgstore.Open(ctx, c.DSN)
		if err != nil {
			return nil, nil, err
		}
		var opts []ngram.Option
		if c.UnknownLogProb != nil {
			opts = append(opts, ngram.WithUnknownLogProb(*c.UnknownLogProb))
		}

		start := time.Now()
		m, err := store.Load(ctx, c.Model, opts...)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		slog.Info("language model loaded",
			"model", c.Model,
			"order", m.Order(),
			"unigrams", m.Count(1),
			"duration", time.Since(start),
		)
		*checkers = append(*checkers, health.PingChecker("lm_store", store))
		return m, store.Close, nil
	})
}

// guardLanguageModel puts model behind a circuit breaker and counts its
// calls. A nil model stays nil.
func guardLanguageModel(model lm.Model, c config.LanguageModelConfig, m *observe.Metrics) lm.Model {
	if model == nil {
		return nil
	}
	guarded := resilience.NewLanguageModel(model, breakerConfig(c.CircuitBreaker, "language_model"))
	return observe.InstrumentLanguageModel(guarded, m)
}

func breakerConfig(c config.BreakerConfig, name string) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  c.MaxFailures,
		ResetTimeout: c.ResetTimeout,
		HalfOpenMax:  c.HalfOpenMax,
	}
}

// engineBuilder turns decoder settings into a [server.Engine]. The
// vocabulary and language model are fixed for the process lifetime.
type engineBuilder struct {
	vocab   *vocab.Vocabulary
	model   lm.Model
	lmCfg   config.LanguageModelConfig
	metrics *observe.Metrics
}

func (b *engineBuilder) build(c config.DecoderConfig) (*server.Engine, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	mode := c.EffectiveMode()
	e := &server.Engine{
		Mode:       string(mode),
		Vocabulary: b.vocab,
		Model:      b.model,
	}
	if b.model != nil {
		// n-gram scores are log10.
		e.LogBase = 10
	}

	if mode == config.ModeGreedy {
		g, err := ctc.NewGreedy(b.vocab)
		if err != nil {
			return nil, err
		}
		e.Decoder = observe.InstrumentDecoder(g, e.Mode, b.metrics)
		e.NBest = 1
		return e, nil
	}

	beam, err := ctc.NewBeamSearch(b.vocab, b.model, opts)
	if err != nil {
		return nil, err
	}
	e.Streamer = beam
	e.NBest = max(opts.NBest, 1)

	var dec ctc.Decoder = beam
	if b.model != nil && b.lmCfg.AcousticFallback {
		acoustic, err := ctc.NewBeamSearch(b.vocab, nil, opts)
		if err != nil {
			return nil, err
		}
		fb := resilience.NewDecoderFallback(beam, "beam+lm", resilience.FallbackConfig{
			CircuitBreaker: breakerConfig(b.lmCfg.CircuitBreaker, ""),
		})
		fb.AddFallback("beam", acoustic)
		dec = fb
	}
	e.Decoder = observe.InstrumentDecoder(dec, e.Mode, b.metrics)

	slog.Info("decoder built",
		"mode", e.Mode,
		"beam_width", opts.BeamWidth,
		"token_beam", opts.TokenBeam,
		"lm_weight", opts.LMWeight,
		"word_bonus", opts.WordBonus,
		"merge", opts.Merge,
		"acoustic_fallback", dec != beam,
	)
	return e, nil
}
