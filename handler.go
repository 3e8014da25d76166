package domainbus

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
)

// Handler is invoked for every matching firing of an event.
// Returning ErrHalt stops dispatch quietly; any other error stops dispatch
// and is returned to the code that fired the event.
type Handler func(ctx context.Context, target Target, args ...any) error

// Middleware wraps a handler with additional behavior
type Middleware func(Handler) Handler

// Chain wraps h so that the first middleware is the outermost
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// MethodResolver turns a handler name into a handler.
// Names are resolved once, when the binding is registered.
type MethodResolver interface {
	Handler(name string) (Handler, bool)
}

// Methods is a map-backed MethodResolver
type Methods map[string]Handler

// Handler returns the named handler
func (m Methods) Handler(name string) (Handler, bool) {
	h, ok := m[name]
	return h, ok && h != nil
}

// Binding attaches one handler to one event of the targets a selector matches
type Binding struct {
	Selector string
	Event    string
	// Handler takes precedence over Method
	Handler Handler
	// Method names a handler resolved against Scope, or the subscriber when Scope is nil
	Method  string
	Scope   MethodResolver
	Options []ListenerOption
}

// Bindings is an ordered list of bindings.
// Registration order is dispatch order.
type Bindings []Binding

// On appends a handler binding
func (b Bindings) On(selector, event string, h Handler, opts ...ListenerOption) Bindings {
	return append(b, Binding{Selector: selector, Event: event, Handler: h, Options: opts})
}

// OnMethod appends a binding whose handler is resolved by name
func (b Bindings) OnMethod(selector, event, method string, opts ...ListenerOption) Bindings {
	return append(b, Binding{Selector: selector, Event: event, Method: method, Options: opts})
}

// Events maps event names to handlers
type Events map[string]Handler

// Selectors maps selectors to their event handlers
type Selectors map[string]Events

// Bindings flattens s in sorted selector then event order
func (s Selectors) Bindings() Bindings {
	selectors := make([]string, 0, len(s))
	for sel := range s {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)

	var out Bindings
	for _, sel := range selectors {
		events := make([]string, 0, len(s[sel]))
		for ev := range s[sel] {
			events = append(events, ev)
		}
		sort.Strings(events)
		for _, ev := range events {
			out = out.On(sel, ev, s[sel][ev])
		}
	}
	return out
}

func resolveHandler(b Binding, sub Subscriber) (Handler, error) {
	if b.Event == "" {
		return nil, ErrEmptyEventName
	}
	if b.Handler != nil {
		return b.Handler, nil
	}
	if b.Method == "" {
		return nil, ErrNilHandler
	}
	scope := b.Scope
	if scope == nil {
		r, ok := sub.(MethodResolver)
		if !ok {
			return nil, fmt.Errorf("%w: %q (subscriber %q resolves no methods)", ErrHandlerNotFound, b.Method, sub.OwnerID())
		}
		scope = r
	}
	h, ok := scope.Handler(b.Method)
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotFound, b.Method)
	}
	return h, nil
}

// Listener is one registered subscription: an owner's handler for one
// event under one selector.
type Listener struct {
	ownerID  string
	event    string
	selector string
	handler  Handler
	single   bool
	fired     int32
	removed   int32
	cancelled int32
}

// OwnerID returns the id of the subscriber that registered the listener
func (l *Listener) OwnerID() string {
	return l.ownerID
}

// EventName returns the event the listener handles
func (l *Listener) EventName() string {
	return l.event
}

// Selector returns the selector the listener was filed under, after
// the domain's selector preprocessing
func (l *Listener) Selector() string {
	return l.selector
}

// Single reports whether the listener fires at most once
func (l *Listener) Single() bool {
	return l.single
}

// Active reports whether the listener can still be invoked
func (l *Listener) Active() bool {
	if atomic.LoadInt32(&l.removed) == 1 {
		return false
	}
	return !l.single || atomic.LoadInt32(&l.fired) == 0
}

// invoke runs the handler. ran is false when the listener was skipped.
func (l *Listener) invoke(ctx context.Context, target Target, args []any) (ran bool, err error) {
	if l.isRemoved() {
		return false, nil
	}
	if l.single && !atomic.CompareAndSwapInt32(&l.fired, 0, 1) {
		return false, nil
	}
	return true, l.handler(ctx, target, args...)
}

func (l *Listener) isRemoved() bool {
	return atomic.LoadInt32(&l.removed) == 1
}

func (l *Listener) isCancelled() bool {
	return atomic.LoadInt32(&l.cancelled) == 1
}

// cancel removes the listener and drops its pending delayed or buffered calls
func (l *Listener) cancel() {
	atomic.StoreInt32(&l.cancelled, 1)
	l.markRemoved()
}

func (l *Listener) markRemoved() {
	atomic.StoreInt32(&l.removed, 1)
}
