package inference

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// Sentinel errors.
var (
	ErrNoProvider      = errors.New("inference: no provider matches model ID")
	ErrUnknownProvider = errors.New("inference: unknown provider")
	ErrInvalidEntry    = errors.New("inference: invalid registry entry")
)

// Factory creates a language model from a ModelConfig.
type Factory func(ctx context.Context, cfg ModelConfig) (LanguageModel, error)

// Entry is a provider registration.
type Entry struct {
	// Name identifies the provider for explicit selection.
	Name string
	// Patterns are regular expressions matched against model IDs.
	Patterns []string
	// Priority breaks ties when several entries match; higher wins.
	Priority int
	Factory  Factory
}

type registration struct {
	entry    Entry
	patterns []*regexp.Regexp
}

// Registry maps model-ID patterns to provider factories.
//
// Resolution picks the matching entry with the highest priority; among equal
// priorities the entry registered first wins.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry is the registry provider packages register into from init().
var DefaultRegistry = NewRegistry()

// Register adds an entry. Names must be unique and every pattern must compile.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if e.Factory == nil {
		return fmt.Errorf("%w: %s: factory is required", ErrInvalidEntry, e.Name)
	}
	if len(e.Patterns) == 0 {
		return fmt.Errorf("%w: %s: at least one pattern is required", ErrInvalidEntry, e.Name)
	}

	compiled := make([]*regexp.Regexp, 0, len(e.Patterns))
	for _, p := range e.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: %s: pattern %q: %w", ErrInvalidEntry, e.Name, p, err)
		}
		compiled = append(compiled, re)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.entries {
		if reg.entry.Name == e.Name {
			return fmt.Errorf("%w: %s: already registered", ErrInvalidEntry, e.Name)
		}
	}
	r.entries = append(r.entries, registration{entry: e, patterns: compiled})
	return nil
}

// MustRegister is like Register but panics on error. Intended for init().
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Resolve returns the entry that should serve modelID.
func (r *Registry) Resolve(modelID string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := -1
	for i, reg := range r.entries {
		if !reg.matches(modelID) {
			continue
		}
		if best == -1 || reg.entry.Priority > r.entries[best].entry.Priority {
			best = i
		}
	}

	if best == -1 {
		return Entry{}, fmt.Errorf("%w: %q", ErrNoProvider, modelID)
	}
	return r.entries[best].entry, nil
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.entries {
		if reg.entry.Name == name {
			return reg.entry, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Create builds a model for cfg. An explicit cfg.Provider is looked up by name;
// otherwise cfg.ModelID is resolved against the registered patterns.
func (r *Registry) Create(ctx context.Context, cfg ModelConfig) (LanguageModel, error) {
	var (
		entry Entry
		err   error
	)
	if cfg.Provider != "" {
		entry, err = r.Lookup(cfg.Provider)
	} else {
		entry, err = r.Resolve(cfg.ModelID)
	}
	if err != nil {
		return nil, err
	}
	return entry.Factory(ctx, cfg)
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for _, reg := range r.entries {
		names = append(names, reg.entry.Name)
	}
	return names
}

func (reg registration) matches(modelID string) bool {
	for _, re := range reg.patterns {
		if re.MatchString(modelID) {
			return true
		}
	}
	return false
}

// Register adds an entry to DefaultRegistry.
func Register(e Entry) error {
	return DefaultRegistry.Register(e)
}

// CreateModel builds a model from DefaultRegistry.
func CreateModel(ctx context.Context, cfg ModelConfig) (LanguageModel, error) {
	return DefaultRegistry.Create(ctx, cfg)
}
