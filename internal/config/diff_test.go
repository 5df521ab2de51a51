package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/ctcdecode/internal/config"
)

func ptr[T any](v T) *T { return &v }

func baseConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Vocabulary: config.VocabularyConfig{Symbols: []string{"-", "a"}, BlankIndex: ptr(0)},
		Decoder:    config.DecoderConfig{BeamWidth: 8, LMWeight: ptr(0.5)},
		LanguageModel: config.LanguageModelConfig{
			Name:           "ngram-postgres",
			DSN:            "postgres://localhost/test",
			Model:          "m",
			UnknownLogProb: ptr(-10.0),
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for equal configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(baseConfig(), new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.DecoderChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_Decoder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.DecoderConfig)
	}{
		{"beam width", func(c *config.DecoderConfig) { c.BeamWidth = 32 }},
		{"lm weight value", func(c *config.DecoderConfig) { c.LMWeight = ptr(2.0) }},
		{"lm weight unset", func(c *config.DecoderConfig) { c.LMWeight = nil }},
		{"merge", func(c *config.DecoderConfig) { c.Merge = "logsumexp" }},
		{"mode", func(c *config.DecoderConfig) { c.Mode = config.ModeGreedy }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tc.mutate(&new.Decoder)
			d := config.Diff(baseConfig(), new)
			if !d.DecoderChanged {
				t.Fatal("expected DecoderChanged=true")
			}
			if d.NewDecoder.BeamWidth != new.Decoder.BeamWidth || d.NewDecoder.Merge != new.Decoder.Merge {
				t.Errorf("NewDecoder = %+v, want %+v", d.NewDecoder, new.Decoder)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	new := baseConfig()
	new.Server.ListenAddr = ":9090"
	new.Vocabulary.BlankIndex = ptr(1)
	new.LanguageModel.Model = "other"
	new.Telemetry.ServiceName = "renamed"

	d := config.Diff(baseConfig(), new)
	want := []string{"server", "vocabulary", "language_model", "telemetry"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.DecoderChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot-reload changes: %+v", d)
	}
}
