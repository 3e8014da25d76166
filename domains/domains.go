// Package domains provides the stock event domains: component, controller,
// global and store.
//
// Example:
//
//	reg := domainbus.NewRegistry()
//	set, err := domains.Install(reg)
//	if err != nil {
//		return err
//	}
//	set.Component.Monitor(buttons)
//	bus, _ := domainbus.NewBus(reg)
package domains

import (
	"context"
	"slices"
	"strings"

	"github.com/rbaliyan/domainbus"
)

// Type tags of the stock domains
const (
	ComponentTag  = "component"
	ControllerTag = "controller"
	GlobalTag     = "global"
	StoreTag      = "store"
)

// NewComponent creates the component domain. Selectors are component
// queries (see ParseQuery); malformed queries match nothing.
func NewComponent(reg *domainbus.Registry, opts ...domainbus.DomainOption) (*domainbus.Domain, error) {
	cache := &queryCache{}
	matcher := domainbus.MatcherFunc(func(target domainbus.Target, selector string) bool {
		if selector == domainbus.Wildcard {
			return true
		}
		q := cache.get(selector)
		return q != nil && q.Match(target)
	})
	return domainbus.NewDomain(reg, ComponentTag, append([]domainbus.DomainOption{
		domainbus.WithIDProperty("id"),
		domainbus.WithMatcher(matcher),
		domainbus.WithSelectorFunc(strings.TrimSpace),
	}, opts...)...)
}

// controllerMatcher matches '*', "application" against the application
// controller, ids, and finally aliases of the form "controller.<selector>"
type controllerMatcher struct{}

func (controllerMatcher) Match(target domainbus.Target, selector string) bool {
	if selector == domainbus.Wildcard {
		return true
	}
	if selector == "application" {
		v, _ := target.Property("isApplication")
		return v == true
	}
	if id, ok := domainbus.PropertyString(target, "id"); ok && id == selector {
		return true
	}
	return hasAlias(target, "controller."+selector)
}

func hasAlias(target domainbus.Target, alias string) bool {
	v, ok := target.Property("alias")
	if !ok {
		return false
	}
	switch list := v.(type) {
	case string:
		return list == alias
	case []string:
		return slices.Contains(list, alias)
	case []any:
		return slices.Contains(list, any(alias))
	}
	return false
}

// NewController creates the controller domain. "#application" selects the
// application controller.
func NewController(reg *domainbus.Registry, opts ...domainbus.DomainOption) (*domainbus.Domain, error) {
	return domainbus.NewDomain(reg, ControllerTag, append([]domainbus.DomainOption{
		domainbus.WithIDProperty("id"),
		domainbus.WithMatcher(controllerMatcher{}),
	}, opts...)...)
}

// NewStore creates the store domain, matching selectors against storeId
func NewStore(reg *domainbus.Registry, opts ...domainbus.DomainOption) (*domainbus.Domain, error) {
	return domainbus.NewDomain(reg, StoreTag, append([]domainbus.DomainOption{
		domainbus.WithIDProperty("storeId"),
	}, opts...)...)
}

// Global is the domain for application-wide events. Every selector
// collapses to "global" and matches every firing.
type Global struct {
	*domainbus.Domain
	events *domainbus.Observable
}

// NewGlobal creates the global domain and its Events source
func NewGlobal(reg *domainbus.Registry, opts ...domainbus.DomainOption) (*Global, error) {
	d, err := domainbus.NewDomain(reg, GlobalTag, append([]domainbus.DomainOption{
		domainbus.WithMatcher(domainbus.MatchAll),
		domainbus.WithSelectorFunc(func(string) string { return GlobalTag }),
	}, opts...)...)
	if err != nil {
		return nil, err
	}
	g := &Global{
		Domain: d,
		events: domainbus.NewObservable(domainbus.Attributes{"id": GlobalTag}, nil),
	}
	d.Monitor(g.events)
	return g, nil
}

// Events returns the global event source
func (g *Global) Events() *domainbus.Observable {
	return g.events
}

// Fire fires event on the global event source
func (g *Global) Fire(ctx context.Context, event string, args ...any) (bool, error) {
	return g.events.Fire(ctx, event, args...)
}

// Set holds the stock domains built by Install
type Set struct {
	Component  *domainbus.Domain
	Controller *domainbus.Domain
	Global     *Global
	Store      *domainbus.Domain
}

// Install creates the four stock domains in reg. opts apply to each of
// them after its own defaults.
func Install(reg *domainbus.Registry, opts ...domainbus.DomainOption) (*Set, error) {
	var (
		s   Set
		err error
	)
	if s.Component, err = NewComponent(reg, opts...); err != nil {
		return nil, err
	}
	if s.Controller, err = NewController(reg, opts...); err != nil {
		return nil, err
	}
	if s.Global, err = NewGlobal(reg, opts...); err != nil {
		return nil, err
	}
	if s.Store, err = NewStore(reg, opts...); err != nil {
		return nil, err
	}
	return &s, nil
}
