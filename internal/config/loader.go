package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownLanguageModels lists the language-model names the service registers.
// Used by [Validate] to warn about unrecognised names.
var KnownLanguageModels = []string{"none", "ngram-postgres"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxConcurrentDecodes < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_decodes must not be negative, got %d", cfg.Server.MaxConcurrentDecodes))
	}
	if cfg.Server.BatchWorkers < 0 {
		errs = append(errs, fmt.Errorf("server.batch_workers must not be negative, got %d", cfg.Server.BatchWorkers))
	}
	if cfg.Server.MaxTimesteps < 0 {
		errs = append(errs, fmt.Errorf("server.max_timesteps must not be negative, got %d", cfg.Server.MaxTimesteps))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Vocabulary
	v := cfg.Vocabulary
	switch {
	case v.Path != "" && len(v.Symbols) > 0:
		errs = append(errs, errors.New("vocabulary.path and vocabulary.symbols are mutually exclusive"))
	case v.Path == "" && len(v.Symbols) == 0:
		slog.Warn("no vocabulary configured; the server will not be able to decode")
	}
	if v.BlankIndex != nil && *v.BlankIndex < 0 {
		errs = append(errs, fmt.Errorf("vocabulary.blank_index must not be negative, got %d", *v.BlankIndex))
	}
	if v.BlankSymbol != "" && v.BlankIndex != nil {
		slog.Warn("vocabulary.blank_symbol and vocabulary.blank_index are both set; blank_symbol wins")
	}

	// Decoder
	if cfg.Decoder.Mode != "" && !cfg.Decoder.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("decoder.mode %q is invalid; valid values: beam, greedy", cfg.Decoder.Mode))
	}
	if _, err := cfg.Decoder.Options(); err != nil {
		errs = append(errs, fmt.Errorf("decoder: %w", err))
	}

	// Language model
	validateLanguageModel(cfg, &errs)

	return errors.Join(errs...)
}

func validateLanguageModel(cfg *Config, errs *[]error) {
	lm := cfg.LanguageModel
	if !lm.Enabled() {
		if cfg.Decoder.WordBonus != 0 {
			slog.Warn("decoder.word_bonus is set but no language model is configured; it has no effect")
		}
		return
	}
	validateLanguageModelName(lm.Name)

	if lm.Name == "ngram-postgres" {
		if lm.DSN == "" {
			*errs = append(*errs, errors.New("language_model.dsn is required for ngram-postgres"))
		}
		if lm.Model == "" {
			*errs = append(*errs, errors.New("language_model.model is required for ngram-postgres"))
		}
	}
	if cfg.Decoder.EffectiveMode() == ModeGreedy {
		slog.Warn("decoder.mode is greedy; the configured language model is only used by /v1/perplexity")
	}
	cb := lm.CircuitBreaker
	if cb.MaxFailures < 0 {
		*errs = append(*errs, fmt.Errorf("language_model.circuit_breaker.max_failures must not be negative, got %d", cb.MaxFailures))
	}
	if cb.ResetTimeout < 0 {
		*errs = append(*errs, fmt.Errorf("language_model.circuit_breaker.reset_timeout must not be negative, got %s", cb.ResetTimeout))
	}
	if cb.HalfOpenMax < 0 {
		*errs = append(*errs, fmt.Errorf("language_model.circuit_breaker.half_open_max must not be negative, got %d", cb.HalfOpenMax))
	}
}

// validateLanguageModelName logs a warning if name is not one of
// [KnownLanguageModels].
func validateLanguageModelName(name string) {
	if slices.Contains(KnownLanguageModels, name) {
		return
	}
	slog.Warn("unknown language model name; may be a typo or a third-party registration",
		"name", name,
		"known", KnownLanguageModels,
	)
}
