// Package domainbus provides an event-domain dispatch bus: selector-routed,
// synchronous publish/subscribe across independent namespaces called domains.
//
// Architecture:
//   - A Domain files listeners by event name, selector and owner id, and
//     matches selectors against firing targets with its Matcher
//   - A Registry maps domain type tags to domains; it is an explicit value,
//     not a process global
//   - A Bus routes a subscriber's bindings to the domains named in them
//   - Sources (Observable, Class) fire events; a domain monitoring a source
//     dispatches every event the source fires
//
// Basic example:
//
//	reg := domainbus.NewRegistry()
//	components, _ := domainbus.NewDomain(reg, "component", domainbus.WithIDProperty("id"))
//	bus, _ := domainbus.NewBus(reg)
//
//	// A class of sources, monitored by the domain
//	buttons := domainbus.NewClass("button")
//	components.Monitor(buttons)
//
//	// A controller listens to every "click" of the button with id "save"
//	ctrl := domainbus.NewController(bus, domainbus.WithControllerID("editor"))
//	ctrl.Control(domainbus.Bindings{}.On("#save", "click",
//	    func(ctx context.Context, target domainbus.Target, args ...any) error {
//	        fmt.Println("saving")
//	        return nil
//	    }))
//
//	save := buttons.New(domainbus.Attributes{"id": "save"})
//	save.Fire(ctx, "click")
//
//	// Remove every listener the controller registered
//	ctrl.Destroy()
//
// Dispatch order:
// Selectors run in the order they were first registered for an event;
// within a selector, owners run in the order they first registered; an
// owner's listeners run in registration order.
//
// Handler results:
//   - nil: continue
//   - ErrHalt (or Halt(err)): stop; Dispatch and Fire report false
//   - any other error: stop; the error reaches the caller of Fire
//
// Listener options:
//   - Delay: run later on a detached context
//   - Buffer: debounce bursts
//   - Single: fire once, then remove
//   - RateLimit: skip firings beyond a token bucket
//   - WithMiddleware: wrap the handler
//
// Domain options:
//   - WithIDProperty: property compared by the default matcher
//   - WithMatcher: custom selector matching
//   - WithSelectorFunc: selector preprocessing at Listen time
//   - WithDomainTracing / WithDomainMetrics: OpenTelemetry, on by default
//   - WithDomainLogger: set logger for the domain
//
// Listen, Unlisten and Dispatch are safe for concurrent use. Handlers run
// with no lock held and may call back into the domain.
package domainbus
