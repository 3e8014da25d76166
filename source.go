package domainbus

import (
	"context"
	"slices"
	"sync"
)

// Dispatcher receives every event fired by a monitored source.
// Returning false or an error stops the firing.
// Sources deduplicate dispatchers by ==, so implementations must be
// comparable; pointer types are.
//
// Sources only run dispatchers for events their ListenerCounts know about.
// Domain.Monitor and Domain.Listen keep the counts; any other dispatcher
// must call Counts().Incr for the events it wants.
type Dispatcher interface {
	Dispatch(ctx context.Context, target Target, event string, args ...any) (bool, error)
}

// Monitorable is a source a domain can monitor: a Class of sources or a
// single Observable.
type Monitorable interface {
	// AddDispatcher appends d to the dispatchers run after the source's own
	// listeners. It returns false if d is already registered. d only sees
	// events counted in Counts.
	AddDispatcher(d Dispatcher) bool
	// Counts returns the source's listener-presence counters
	Counts() *ListenerCounts
}

// ListenerCounts tracks, per event name, how many registrations a source
// has seen. Firing code checks it to skip dispatch when nobody listens.
// Counts only grow: a stale positive costs one empty dispatch.
type ListenerCounts struct {
	mu     sync.RWMutex
	counts map[string]int
}

// Incr records one more registration for event
func (c *ListenerCounts) Incr(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[event]++
}

// Count returns the registrations recorded for event
func (c *ListenerCounts) Count(event string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[event]
}

// Has reports whether any registration was recorded for event
func (c *ListenerCounts) Has(event string) bool {
	return c.Count(event) > 0
}

// dispatcherList is an append-only, duplicate-free list of dispatchers
type dispatcherList struct {
	mu   sync.RWMutex
	list []Dispatcher
}

func (l *dispatcherList) add(d Dispatcher) bool {
	if d == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Contains(l.list, d) {
		return false
	}
	l.list = append(l.list, d)
	return true
}

func (l *dispatcherList) snapshot() []Dispatcher {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.list[:len(l.list):len(l.list)]
}

// Class groups sources of the same kind. Dispatchers added to a Class see
// events of every Observable created from it, before and after monitoring.
type Class struct {
	name        string
	dispatchers dispatcherList
	counts      ListenerCounts
}

// NewClass creates a class of sources
func NewClass(name string) *Class {
	return &Class{name: name}
}

// Name returns the class name
func (c *Class) Name() string {
	return c.name
}

// AddDispatcher implements Monitorable
func (c *Class) AddDispatcher(d Dispatcher) bool {
	return c.dispatchers.add(d)
}

// Counts implements Monitorable
func (c *Class) Counts() *ListenerCounts {
	return &c.counts
}

// New creates an Observable of this class
func (c *Class) New(target Target) *Observable {
	return NewObservable(target, c)
}

// Observable is a source of events. Its own listeners run first on every
// Fire; then the dispatchers of its class, then its own dispatchers.
type Observable struct {
	class       *Class
	target      Target
	dispatchers dispatcherList
	counts      ListenerCounts

	mu     sync.RWMutex
	native map[string][]*nativeListener
}

type nativeListener struct {
	handler Handler
}

// NewObservable creates a source that fires on behalf of target.
// class may be nil.
func NewObservable(target Target, class *Class) *Observable {
	if target == nil {
		target = Attributes{}
	}
	return &Observable{
		class:  class,
		target: target,
		native: make(map[string][]*nativeListener),
	}
}

// Target returns the target handlers see for this source
func (o *Observable) Target() Target {
	return o.target
}

// Class returns the source's class, or nil
func (o *Observable) Class() *Class {
	return o.class
}

// AddDispatcher implements Monitorable
func (o *Observable) AddDispatcher(d Dispatcher) bool {
	return o.dispatchers.add(d)
}

// Counts implements Monitorable
func (o *Observable) Counts() *ListenerCounts {
	return &o.counts
}

// On adds a listener owned by the source itself. The returned function removes it.
func (o *Observable) On(event string, h Handler) (off func()) {
	l := &nativeListener{handler: h}
	o.mu.Lock()
	o.native[event] = append(o.native[event], l)
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		list := o.native[event]
		if i := slices.Index(list, l); i >= 0 {
			o.native[event] = slices.Delete(slices.Clone(list), i, i+1)
		}
		if len(o.native[event]) == 0 {
			delete(o.native, event)
		}
	}
}

// HasListeners reports whether firing event can reach any listener or domain
func (o *Observable) HasListeners(event string) bool {
	o.mu.RLock()
	n := len(o.native[event])
	o.mu.RUnlock()
	if n > 0 || o.counts.Has(event) {
		return true
	}
	return o.class != nil && o.class.counts.Has(event)
}

// Fire runs the source's own listeners, then every dispatcher monitoring
// it. It returns false if any of them halted; the first error stops the
// firing and is returned.
func (o *Observable) Fire(ctx context.Context, event string, args ...any) (bool, error) {
	if !o.HasListeners(event) {
		return true, nil
	}

	o.mu.RLock()
	native := o.native[event]
	o.mu.RUnlock()

	for _, l := range native {
		if err := l.handler(ctx, o.target, args...); err != nil {
			if IsHalt(err) {
				return false, nil
			}
			return false, err
		}
	}

	var dispatchers []Dispatcher
	if o.class != nil {
		dispatchers = append(dispatchers, o.class.dispatchers.snapshot()...)
	}
	dispatchers = append(dispatchers, o.dispatchers.snapshot()...)

	for _, d := range dispatchers {
		ok, err := d.Dispatch(ctx, o.target, event, args...)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
