package main

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/ctcdecode/internal/config"
	"github.com/MrWong99/ctcdecode/internal/observe"
	"github.com/MrWong99/ctcdecode/internal/resilience"
	"github.com/MrWong99/ctcdecode/internal/server"
	"github.com/MrWong99/ctcdecode/pkg/ctc"
	lmmock "github.com/MrWong99/ctcdecode/pkg/lm/mock"
	"github.com/MrWong99/ctcdecode/pkg/vocab"
)

func testBuilder(t *testing.T, model *lmmock.Model, fallback bool) *engineBuilder {
	t.Helper()
	v, err := vocab.New([]string{"-", "a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	b := &engineBuilder{vocab: v, lmCfg: config.LanguageModelConfig{AcousticFallback: fallback}, metrics: m}
	if model != nil {
		b.model = guardLanguageModel(model, b.lmCfg, m)
	}
	return b
}

func abInput() [][]float32 {
	hi, lo := float32(math.Log(0.8)), float32(math.Log(0.1))
	return [][]float32{{lo, hi, lo}, {hi, lo, lo}, {lo, lo, hi}}
}

func TestEngineBuilder_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		cfg           config.DecoderConfig
		wantMode      string
		wantStreaming bool
		wantNBest     int
	}{
		{"default is beam", config.DecoderConfig{}, "beam", true, 1},
		{"beam n-best", config.DecoderConfig{NBest: 4}, "beam", true, 4},
		{"greedy", config.DecoderConfig{Mode: config.ModeGreedy}, "greedy", false, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e, err := testBuilder(t, nil, false).build(tc.cfg)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if e.Mode != tc.wantMode {
				t.Errorf("mode = %q, want %q", e.Mode, tc.wantMode)
			}
			if e.NBest != tc.wantNBest {
				t.Errorf("n-best = %d, want %d", e.NBest, tc.wantNBest)
			}
			if (e.Streamer != nil) != tc.wantStreaming {
				t.Errorf("streaming = %v, want %v", e.Streamer != nil, tc.wantStreaming)
			}
			hyps, err := e.Decoder.Decode(context.Background(), abInput())
			if err != nil || hyps[0].Text != "ab" {
				t.Errorf("Decode = %+v, %v; want ab", hyps, err)
			}
		})
	}
}

func TestEngineBuilder_InvalidOptions(t *testing.T) {
	t.Parallel()
	_, err := testBuilder(t, nil, false).build(config.DecoderConfig{BeamWidth: -1})
	if !errors.Is(err, ctc.ErrInvalidConfiguration) {
		t.Errorf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestEngineBuilder_LanguageModel(t *testing.T) {
	t.Parallel()
	b := testBuilder(t, &lmmock.Model{Default: -1}, false)
	e, err := b.build(config.DecoderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if e.Model == nil || e.LogBase != 10 {
		t.Errorf("engine model = %v, log base = %v", e.Model, e.LogBase)
	}
	hyps, err := e.Decoder.Decode(context.Background(), abInput())
	if err != nil {
		t.Fatal(err)
	}
	if hyps[0].LM == 0 {
		t.Error("language model did not contribute to the score")
	}
}

func TestEngineBuilder_AcousticFallback(t *testing.T) {
	t.Parallel()

	failing := &lmmock.Model{ScoreErr: errors.New("backend down")}

	withFallback, err := testBuilder(t, failing, true).build(config.DecoderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	hyps, err := withFallback.Decoder.Decode(context.Background(), abInput())
	if err != nil {
		t.Fatalf("Decode with fallback: %v", err)
	}
	if hyps[0].Text != "ab" || hyps[0].LM != 0 {
		t.Errorf("best = %+v, want acoustic-only ab", hyps[0])
	}

	without, err := testBuilder(t, failing, false).build(config.DecoderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = without.Decoder.Decode(context.Background(), abInput())
	if !errors.Is(err, ctc.ErrLanguageModel) || errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want a plain language model error", err)
	}
}

func TestApplyReload(t *testing.T) {
	t.Parallel()
	b := testBuilder(t, nil, false)
	initial, err := b.build(config.DecoderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	srv := server.New(initial, server.WithMetrics(b.metrics))
	var level slog.LevelVar

	applyReload(config.ConfigDiff{
		LogLevelChanged: true,
		NewLogLevel:     config.LogDebug,
		DecoderChanged:  true,
		NewDecoder:      config.DecoderConfig{Mode: config.ModeGreedy},
	}, &level, srv, b)
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if srv.Engine().Mode != "greedy" {
		t.Errorf("mode = %q, want greedy", srv.Engine().Mode)
	}

	applyReload(config.ConfigDiff{
		DecoderChanged: true,
		NewDecoder:     config.DecoderConfig{BeamWidth: -4},
	}, &level, srv, b)
	if srv.Engine().Mode != "greedy" {
		t.Error("invalid decoder config replaced the engine")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
