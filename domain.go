package domainbus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/rbaliyan/domainbus/internal/ordered"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// owners maps owner id to that owner's listeners, in registration order
type owners = ordered.Map[string, []*Listener]

// selectors maps a selector to its owners, in first-registration order
type selectors = ordered.Map[string, *owners]

// domainOptions holds configuration for a domain (unexported)
type domainOptions struct {
	idProperty     string
	matcher        Matcher
	selectorFunc   func(string) string
	logger         *slog.Logger
	tracingEnabled bool
	metricsEnabled bool
}

// DomainOption option function for domain configuration
type DomainOption func(*domainOptions)

// WithIDProperty names the target property the default matcher compares
// selectors against. Setting it also enables '#' stripping on selectors.
func WithIDProperty(name string) DomainOption {
	return func(o *domainOptions) {
		o.idProperty = name
	}
}

// WithMatcher sets the domain's selector matcher
func WithMatcher(m Matcher) DomainOption {
	return func(o *domainOptions) {
		if m != nil {
			o.matcher = m
		}
	}
}

// WithSelectorFunc sets the preprocessing applied to every selector at Listen time
func WithSelectorFunc(fn func(string) string) DomainOption {
	return func(o *domainOptions) {
		if fn != nil {
			o.selectorFunc = fn
		}
	}
}

// WithDomainLogger sets a custom logger for the domain
func WithDomainLogger(l *slog.Logger) DomainOption {
	return func(o *domainOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDomainTracing enables/disables a span per dispatch
func WithDomainTracing(enabled bool) DomainOption {
	return func(o *domainOptions) {
		o.tracingEnabled = enabled
	}
}

// WithDomainMetrics enables/disables OpenTelemetry metrics for the domain
func WithDomainMetrics(enabled bool) DomainOption {
	return func(o *domainOptions) {
		o.metricsEnabled = enabled
	}
}

// TrimSigil returns a selector function that drops one leading sigil,
// leaving the wildcard alone
func TrimSigil(sigil string) func(string) string {
	return func(selector string) string {
		if selector == Wildcard {
			return selector
		}
		return strings.TrimPrefix(selector, sigil)
	}
}

func identity(s string) string { return s }

// Domain is a namespace of subscriptions with its own selector matching.
// Listeners are filed by event name, then selector, then owner id.
type Domain struct {
	typeTag        string
	idProperty     string
	matcher        Matcher
	selectorFunc   func(string) string
	logger         *slog.Logger
	tracingEnabled bool
	metrics        *instruments

	mu        sync.RWMutex
	bus       map[string]*selectors
	monitored []Monitorable
}

// NewDomain creates a domain and registers it under typeTag.
// Returns ErrDomainExists if reg already holds a domain with that tag.
func NewDomain(reg *Registry, typeTag string, opts ...DomainOption) (*Domain, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if typeTag == "" {
		return nil, ErrEmptyTypeTag
	}

	o := &domainOptions{
		logger:         slog.Default(),
		tracingEnabled: true,
		metricsEnabled: true,
	}
	for _, opt := range opts {
		opt(o)
	}

	d := &Domain{
		typeTag:        typeTag,
		idProperty:     o.idProperty,
		matcher:        o.matcher,
		selectorFunc:   o.selectorFunc,
		logger:         o.logger.With("component", "domain>"+typeTag),
		tracingEnabled: o.tracingEnabled,
		bus:            make(map[string]*selectors),
	}
	if d.matcher == nil {
		if d.idProperty != "" {
			d.matcher = IDMatcher{Property: d.idProperty}
		} else {
			d.matcher = MatchNone
		}
	}
	if d.selectorFunc == nil {
		if d.idProperty != "" {
			d.selectorFunc = TrimSigil("#")
		} else {
			d.selectorFunc = identity
		}
	}
	if o.metricsEnabled {
		d.metrics = newInstruments(typeTag)
	}

	if err := reg.Register(typeTag, d); err != nil {
		return nil, err
	}
	return d, nil
}

// TypeTag returns the domain's registry key
func (d *Domain) TypeTag() string {
	return d.typeTag
}

// IDProperty returns the property selectors are matched against, or ""
func (d *Domain) IDProperty() string {
	return d.idProperty
}

// Listen registers sub's handlers. Every binding is resolved before any
// is filed, so a failing call registers nothing. Repeated calls append:
// the same (event, selector, owner) may hold several listeners.
func (d *Domain) Listen(sub Subscriber, bindings Bindings) error {
	if sub == nil || sub.OwnerID() == "" {
		return ErrEmptyOwnerID
	}
	ownerID := sub.OwnerID()

	listeners := make([]*Listener, 0, len(bindings))
	for _, b := range bindings {
		h, err := resolveHandler(b, sub)
		if err != nil {
			return fmt.Errorf("domain %q: selector %q event %q: %w", d.typeTag, b.Selector, b.Event, err)
		}
		o := newListenerOptions(b.Options...)
		l := &Listener{
			ownerID:  ownerID,
			event:    b.Event,
			selector: d.selectorFunc(b.Selector),
			single:   o.single,
		}
		l.handler = o.wrap(h, l.isCancelled)
		listeners = append(listeners, l)
	}
	if len(listeners) == 0 {
		return nil
	}

	var events []string
	d.mu.Lock()
	for _, l := range listeners {
		sels, ok := d.bus[l.event]
		if !ok {
			sels = ordered.New[string, *owners]()
			d.bus[l.event] = sels
		}
		if !slices.Contains(events, l.event) {
			events = append(events, l.event)
		}
		own := sels.GetOrInit(l.selector, ordered.New[string, []*Listener])
		list, _ := own.Get(ownerID)
		own.Set(ownerID, append(slices.Clip(list), l))
	}
	monitored := slices.Clone(d.monitored)
	d.mu.Unlock()

	// once per distinct event name per call
	for _, src := range monitored {
		for _, ev := range events {
			src.Counts().Incr(ev)
		}
	}

	d.metrics.recordListeners(context.Background(), len(listeners))
	d.logger.Debug("listen", "owner_id", ownerID, "listeners", len(listeners), "events", events)
	return nil
}

// Unlisten removes every listener registered by ownerID, across all events
// and selectors. Unknown ids are ignored.
func (d *Domain) Unlisten(ownerID string) {
	removed := 0
	d.mu.Lock()
	for _, sels := range d.bus {
		sels.Range(func(_ string, own *owners) bool {
			if list, ok := own.Get(ownerID); ok {
				for _, l := range list {
					l.cancel()
				}
				removed += len(list)
				own.Delete(ownerID)
			}
			return true
		})
	}
	d.mu.Unlock()

	if removed > 0 {
		d.metrics.recordListeners(context.Background(), -removed)
		d.logger.Debug("unlisten", "owner_id", ownerID, "listeners", removed)
	}
}

// remove drops a single listener, used after a single-fire listener ran
func (d *Domain) remove(l *Listener) {
	l.markRemoved()
	d.mu.Lock()
	defer d.mu.Unlock()
	sels, ok := d.bus[l.event]
	if !ok {
		return
	}
	own, ok := sels.Get(l.selector)
	if !ok {
		return
	}
	list, ok := own.Get(l.ownerID)
	if !ok {
		return
	}
	i := slices.Index(list, l)
	if i < 0 {
		return
	}
	if len(list) == 1 {
		own.Delete(l.ownerID)
	} else {
		own.Set(l.ownerID, slices.Delete(slices.Clone(list), i, i+1))
	}
	d.metrics.recordListeners(context.Background(), -1)
}

// Match reports whether selector applies to target under this domain's matcher
func (d *Domain) Match(target Target, selector string) bool {
	return d.matcher.Match(target, selector)
}

type dispatchEntry struct {
	selector  string
	listeners []*Listener
}

// snapshot copies the listeners filed under event, grouped by selector
func (d *Domain) snapshot(event string) ([]dispatchEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sels, ok := d.bus[event]
	if !ok {
		return nil, false
	}
	entries := make([]dispatchEntry, 0, sels.Len())
	sels.Range(func(selector string, own *owners) bool {
		var ls []*Listener
		own.Range(func(_ string, list []*Listener) bool {
			ls = append(ls, list...)
			return true
		})
		if len(ls) > 0 {
			entries = append(entries, dispatchEntry{selector: selector, listeners: ls})
		}
		return true
	})
	return entries, true
}

// Dispatch invokes, synchronously and in registration order, every
// listener for event whose selector matches target. It returns false if a
// listener halted; a listener error stops dispatch and is returned wrapped
// in a *HandlerError.
//
// Listeners run without any domain lock held, so they may Listen, Unlisten
// or Dispatch re-entrantly. Listeners removed during a dispatch are skipped;
// listeners added during a dispatch first see the next one.
func (d *Domain) Dispatch(ctx context.Context, target Target, event string, args ...any) (bool, error) {
	entries, ok := d.snapshot(event)
	if !ok || len(entries) == 0 {
		return true, nil
	}

	d.metrics.recordDispatch(ctx)

	var span trace.Span
	if d.tracingEnabled {
		ctx, span = otel.Tracer(instrumentationName).Start(ctx, event+".dispatch",
			trace.WithAttributes(
				attribute.String(spanKeyDomain, d.typeTag),
				attribute.String(spanKeyEvent, event)),
			trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()
	}

	matched := 0
	for _, e := range entries {
		if !d.matcher.Match(target, e.selector) {
			continue
		}
		matched++
		for _, l := range e.listeners {
			hctx := contextWithDispatch(ctx, d.typeTag, event, l.ownerID, target)
			ran, err := l.invoke(hctx, target, args)
			if !ran {
				continue
			}
			d.metrics.recordHandled(ctx)
			if l.single {
				d.remove(l)
			}
			if err == nil {
				continue
			}
			if IsHalt(err) {
				d.metrics.recordHalt(ctx)
				if span != nil {
					span.SetAttributes(attribute.Int(spanKeyMatched, matched),
						attribute.String(spanKeyOwnerID, l.ownerID),
						attribute.String(spanKeySelector, e.selector))
				}
				return false, nil
			}
			hErr := &HandlerError{Domain: d.typeTag, Event: event, OwnerID: l.ownerID, Err: err}
			if span != nil {
				span.RecordError(hErr)
				span.SetStatus(codes.Error, err.Error())
			}
			return false, hErr
		}
	}
	if span != nil {
		span.SetAttributes(attribute.Int(spanKeyMatched, matched))
	}
	return true, nil
}

// Monitor makes every event fired by source reach this domain's Dispatch.
// Monitoring the same source twice is a no-op and returns false.
func (d *Domain) Monitor(source Monitorable) bool {
	if source == nil {
		return false
	}
	d.mu.Lock()
	if slices.Contains(d.monitored, source) {
		d.mu.Unlock()
		return false
	}
	d.monitored = append(d.monitored, source)
	var events []string
	for ev, sels := range d.bus {
		if sels.Len() > 0 {
			events = append(events, ev)
		}
	}
	d.mu.Unlock()

	// listeners registered before monitoring must not be skipped by the fast path
	for _, ev := range events {
		source.Counts().Incr(ev)
	}
	if !source.AddDispatcher(d) {
		d.logger.Debug("source already dispatches to domain")
	}
	return true
}

// HasListeners reports whether any active listener is filed under event
func (d *Domain) HasListeners(event string) bool {
	return len(d.Listeners(event)) > 0
}

// Listeners returns the active listeners for event in dispatch order
func (d *Domain) Listeners(event string) []*Listener {
	entries, _ := d.snapshot(event)
	var out []*Listener
	for _, e := range entries {
		for _, l := range e.listeners {
			if l.Active() {
				out = append(out, l)
			}
		}
	}
	return out
}
