package gateway

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dukerupert/kasse/internal/domain"
)

// Registry maps provider keys to gateways. It is built at startup and
// dispatches on exact key match only.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry registers gs in order.
func NewRegistry(gs ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[string]Gateway, len(gs))}
	for _, g := range gs {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds g. A second gateway with the same key is rejected.
func (r *Registry) Register(g Gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := g.Key()
	if _, ok := r.gateways[key]; ok {
		return fmt.Errorf("%w: %q", errDuplicateGateway, key)
	}
	r.gateways[key] = g
	return nil
}

// Lookup returns the gateway registered under key. An unknown key is a
// configuration error, never a fallback.
func (r *Registry) Lookup(key string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[key]
	if !ok {
		return nil, domain.UnknownProvider("gateway.lookup", key)
	}
	return g, nil
}

// Keys lists registered providers, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.gateways))
	for k := range r.gateways {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
