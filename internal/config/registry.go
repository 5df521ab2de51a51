package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/ctcdecode/pkg/lm"
)

// ErrProviderNotRegistered is returned by [Registry.CreateLanguageModel] when
// no factory has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LanguageModelFactory builds a language model from its config block.
// The returned close function releases any resources and may be nil.
type LanguageModelFactory func(ctx context.Context, cfg LanguageModelConfig) (model lm.Model, close func(), err error)

// Registry maps language-model names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]LanguageModelFactory
}

// NewRegistry returns a [Registry] with the "none" model pre-registered.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]LanguageModelFactory)}
	r.RegisterLanguageModel("none", func(context.Context, LanguageModelConfig) (lm.Model, func(), error) {
		return nil, nil, nil
	})
	return r
}

// RegisterLanguageModel registers a factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLanguageModel(name string, factory LanguageModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = factory
}

// LanguageModels returns the registered names in sorted order.
func (r *Registry) LanguageModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateLanguageModel looks up the factory for cfg.Name and invokes it. An
// empty name is treated as "none". A nil model means decoding without LM.
func (r *Registry) CreateLanguageModel(ctx context.Context, cfg LanguageModelConfig) (lm.Model, func(), error) {
	name := cfg.Name
	if name == "" {
		name = "none"
	}
	r.mu.RLock()
	factory, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: language_model/%q", ErrProviderNotRegistered, name)
	}
	m, closeFn, err := factory(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config: create language model %q: %w", name, err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return m, closeFn, nil
}
