package domainbus

import (
	"fmt"
	"sync"
)

// Registry maps domain type tags to domains. Entries are added once, by
// NewDomain, and never removed. Create one per application (or per test)
// and hand it to the domains and the Bus that share it.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]*Domain
	order   []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		domains: make(map[string]*Domain),
	}
}

// Register adds d under typeTag.
// Returns ErrDomainExists if the tag is taken; the registry is unchanged.
func (r *Registry) Register(typeTag string, d *Domain) error {
	if typeTag == "" {
		return ErrEmptyTypeTag
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.domains[typeTag]; ok {
		return fmt.Errorf("%w: %q", ErrDomainExists, typeTag)
	}
	r.domains[typeTag] = d
	r.order = append(r.order, typeTag)
	return nil
}

// Lookup returns the domain registered under typeTag
func (r *Registry) Lookup(typeTag string) (*Domain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[typeTag]
	return d, ok
}

// Tags returns registered type tags in registration order
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, len(r.order))
	copy(tags, r.order)
	return tags
}

// Domains returns registered domains in registration order
func (r *Registry) Domains() []*Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Domain, 0, len(r.order))
	for _, tag := range r.order {
		out = append(out, r.domains[tag])
	}
	return out
}
