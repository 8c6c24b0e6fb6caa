package enrich

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/3cpo-dev/specrun/internal/capability"
)

// ErrKindNotRegistered is returned by Get for an unknown capability kind.
var ErrKindNotRegistered = errors.New("enricher not registered")

// Enricher adjusts a per-task capability copy before the task is handed out.
// Enrich receives a copy it may mutate freely and returns the final descriptor.
type Enricher interface {
	Kind() string
	Enrich(ctx context.Context, caps capability.Capabilities, taskID string) (capability.Capabilities, error)
}

// Registry maps capability kinds to enrichers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	enrichers map[string]Enricher
}

func NewRegistry() *Registry {
	return &Registry{enrichers: map[string]Enricher{}}
}

// DefaultRegistry holds the chrome and firefox enrichers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewChrome())
	r.Register(NewFirefox())
	return r
}

// Register adds e, replacing any enricher of the same kind.
func (r *Registry) Register(e Enricher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichers[e.Kind()] = e
}

// Lookup returns the enricher for kind, if any.
func (r *Registry) Lookup(kind string) (Enricher, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.enrichers[kind]
	return e, ok
}

func (r *Registry) Get(kind string) (Enricher, error) {
	e, ok := r.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKindNotRegistered, kind)
	}
	return e, nil
}

// Kinds lists registered kinds in name order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.enrichers))
	for k := range r.enrichers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
