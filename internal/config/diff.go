package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Decoder options and the log level are applied in place; the remaining
// flags only tell the operator that a restart is needed.
type ConfigDiff struct {
	DecoderChanged bool
	NewDecoder     DecoderConfig

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists sections that changed but cannot be reloaded.
	RestartRequired []string
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.DecoderChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !decoderEqual(old.Decoder, new.Decoder) {
		d.DecoderChanged = true
		d.NewDecoder = new.Decoder
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.MaxConcurrentDecodes != new.Server.MaxConcurrentDecodes ||
		old.Server.BatchWorkers != new.Server.BatchWorkers ||
		old.Server.MaxTimesteps != new.Server.MaxTimesteps ||
		old.Server.ShutdownTimeout != new.Server.ShutdownTimeout ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !vocabularyEqual(old.Vocabulary, new.Vocabulary) {
		d.RestartRequired = append(d.RestartRequired, "vocabulary")
	}
	if !languageModelEqual(old.LanguageModel, new.LanguageModel) {
		d.RestartRequired = append(d.RestartRequired, "language_model")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func decoderEqual(a, b DecoderConfig) bool {
	return a.Mode == b.Mode &&
		a.BeamWidth == b.BeamWidth &&
		a.TokenBeam == b.TokenBeam &&
		a.BeamThreshold == b.BeamThreshold &&
		floatPtrEqual(a.LMWeight, b.LMWeight) &&
		a.WordBonus == b.WordBonus &&
		a.NBest == b.NBest &&
		a.Merge == b.Merge
}

func vocabularyEqual(a, b VocabularyConfig) bool {
	return a.Path == b.Path &&
		slices.Equal(a.Symbols, b.Symbols) &&
		a.BlankSymbol == b.BlankSymbol &&
		intPtrEqual(a.BlankIndex, b.BlankIndex) &&
		a.WordBoundary == b.WordBoundary
}

func languageModelEqual(a, b LanguageModelConfig) bool {
	return a.Name == b.Name &&
		a.DSN == b.DSN &&
		a.Model == b.Model &&
		floatPtrEqual(a.UnknownLogProb, b.UnknownLogProb) &&
		a.CircuitBreaker == b.CircuitBreaker &&
		a.AcousticFallback == b.AcousticFallback
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
