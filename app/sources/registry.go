package sources

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry maps a source-type identifier to its registered implementation.
// Lookup by type string keeps dispatch explicit while new sources plug in
// without changes to the aggregation core.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

func (r *Registry) Register(source Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sourceType := source.Type()
	if sourceType == "" {
		return errors.New("source type must not be empty")
	}
	if _, exists := r.sources[sourceType]; exists {
		return fmt.Errorf("source type '%s' already registered", sourceType)
	}

	r.sources[sourceType] = source
	return nil
}

func (r *Registry) Get(sourceType string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, ok := r.sources[sourceType]
	return source, ok
}

// Types returns all registered source types, sorted for determinism.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.sources))
	for t := range r.sources {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
