package domainbus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/rbaliyan/domainbus"

	spanKeyDomain   = "domain.type"
	spanKeyEvent    = "event.name"
	spanKeyMatched  = "event.matched"
	spanKeyOwnerID  = "listener.owner_id"
	spanKeySelector = "listener.selector"
)

// instruments are the otel instruments of one domain
type instruments struct {
	attrs      metric.MeasurementOption
	dispatched metric.Int64Counter
	handled    metric.Int64Counter
	halted     metric.Int64Counter
	listeners  metric.Int64UpDownCounter
}

func newInstruments(typeTag string) *instruments {
	meter := otel.Meter(instrumentationName)
	dispatched, _ := meter.Int64Counter("domainbus.dispatched",
		metric.WithDescription("Total number of events dispatched by a domain"))
	handled, _ := meter.Int64Counter("domainbus.handled",
		metric.WithDescription("Total number of listener invocations"))
	halted, _ := meter.Int64Counter("domainbus.halted",
		metric.WithDescription("Total number of dispatches stopped by a listener"))
	listeners, _ := meter.Int64UpDownCounter("domainbus.listeners",
		metric.WithDescription("Number of registered listeners"))
	return &instruments{
		attrs:      metric.WithAttributes(attribute.String(spanKeyDomain, typeTag)),
		dispatched: dispatched,
		handled:    handled,
		halted:     halted,
		listeners:  listeners,
	}
}

func (m *instruments) recordDispatch(ctx context.Context) {
	if m != nil && m.dispatched != nil {
		m.dispatched.Add(ctx, 1, m.attrs)
	}
}

func (m *instruments) recordHandled(ctx context.Context) {
	if m != nil && m.handled != nil {
		m.handled.Add(ctx, 1, m.attrs)
	}
}

func (m *instruments) recordHalt(ctx context.Context) {
	if m != nil && m.halted != nil {
		m.halted.Add(ctx, 1, m.attrs)
	}
}

func (m *instruments) recordListeners(ctx context.Context, delta int) {
	if m != nil && m.listeners != nil && delta != 0 {
		m.listeners.Add(ctx, int64(delta), m.attrs)
	}
}
