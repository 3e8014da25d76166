package domainbus

import (
	"fmt"
	"log/slog"
	"sort"
)

// DefaultDomain is the domain Control routes to unless WithDefaultDomain says otherwise
var DefaultDomain = "component"

// busOptions holds configuration for bus (unexported)
type busOptions struct {
	defaultDomain string
	strict        bool
	logger        *slog.Logger
}

// BusOption option function for bus configuration
type BusOption func(*busOptions)

// WithDefaultDomain sets the domain Control routes to
func WithDefaultDomain(typeTag string) BusOption {
	return func(o *busOptions) {
		if typeTag != "" {
			o.defaultDomain = typeTag
		}
	}
}

// WithStrictRouting makes Listen and Control fail with ErrUnknownDomain
// for domain tags missing from the registry. By default they are skipped.
func WithStrictRouting(enabled bool) BusOption {
	return func(o *busOptions) {
		o.strict = enabled
	}
}

// WithBusLogger sets a custom logger for the bus
func WithBusLogger(l *slog.Logger) BusOption {
	return func(o *busOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Bus routes subscriptions to the domains of a registry.
// It holds no subscription state of its own.
type Bus struct {
	registry      *Registry
	defaultDomain string
	strict        bool
	logger        *slog.Logger
}

// NewBus creates a bus over reg
func NewBus(reg *Registry, opts ...BusOption) (*Bus, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	o := &busOptions{
		defaultDomain: DefaultDomain,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Bus{
		registry:      reg,
		defaultDomain: o.defaultDomain,
		strict:        o.strict,
		logger:        o.logger.With("component", "bus"),
	}, nil
}

// Registry returns the bus registry
func (b *Bus) Registry() *Registry {
	return b.registry
}

// DefaultDomain returns the type tag Control routes to
func (b *Bus) DefaultDomain() string {
	return b.defaultDomain
}

// Listen forwards each domain's bindings to that domain's Listen.
// Domains are visited in sorted tag order. In strict mode every tag is
// checked before anything is registered.
func (b *Bus) Listen(sub Subscriber, domains map[string]Bindings) error {
	tags := make([]string, 0, len(domains))
	for tag := range domains {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	targets := make([]*Domain, 0, len(tags))
	for _, tag := range tags {
		d, ok := b.registry.Lookup(tag)
		if !ok {
			if b.strict {
				return fmt.Errorf("%w: %q", ErrUnknownDomain, tag)
			}
			b.logger.Debug("skipping unknown domain", "domain", tag)
		}
		targets = append(targets, d)
	}

	for i, d := range targets {
		if d == nil {
			continue
		}
		if err := d.Listen(sub, domains[tags[i]]); err != nil {
			return err
		}
	}
	return nil
}

// Control listens on the default domain
func (b *Bus) Control(sub Subscriber, bindings Bindings) error {
	return b.Listen(sub, map[string]Bindings{b.defaultDomain: bindings})
}

// Unlisten removes ownerID's listeners from every registered domain
func (b *Bus) Unlisten(ownerID string) {
	for _, d := range b.registry.Domains() {
		d.Unlisten(ownerID)
	}
}
