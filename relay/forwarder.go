package relay

import (
	"context"
	"maps"
	"time"

	"github.com/rbaliyan/domainbus"
	"github.com/rbaliyan/domainbus/relay/transport"
)

// Forwarder publishes local domain firings to a transport topic.
// It is a Subscriber: Detach removes every listener it attached.
type Forwarder struct {
	id        string
	transport transport.Transport
	opts      *options
	metadata  map[string]string
	attached  []*domainbus.Domain
}

// NewForwarder creates a forwarder publishing on t
func NewForwarder(t transport.Transport, opts ...Option) *Forwarder {
	return &Forwarder{
		id:        "relay.forwarder." + domainbus.NewID(),
		transport: t,
		opts:      newOptions("relay>forwarder", opts...),
	}
}

// OwnerID implements domainbus.Subscriber
func (f *Forwarder) OwnerID() string {
	return f.id
}

// WithMetadata sets key-value pairs copied into every envelope
func (f *Forwarder) WithMetadata(md map[string]string) *Forwarder {
	f.metadata = maps.Clone(md)
	return f
}

// Attach forwards firings of events on d that match selector.
// Firings that were themselves relayed are not forwarded again.
func (f *Forwarder) Attach(d *domainbus.Domain, selector string, events ...string) error {
	if len(events) == 0 {
		return ErrNoEvents
	}
	var b domainbus.Bindings
	for _, ev := range events {
		b = b.On(selector, ev, f.forward)
	}
	if err := d.Listen(f, b); err != nil {
		return err
	}
	f.attached = append(f.attached, d)
	return nil
}

// Detach stops forwarding from every domain
func (f *Forwarder) Detach() {
	for _, d := range f.attached {
		d.Unlisten(f.id)
	}
	f.attached = nil
}

// forward never halts the local dispatch and blocks it at most the publish
// timeout: failures go to the error handler
func (f *Forwarder) forward(ctx context.Context, target domainbus.Target, args ...any) error {
	if IsRelayed(ctx) {
		return nil
	}

	doc, err := domainbus.DescribeTarget(target)
	if err != nil {
		f.fail("describe target", err)
		return nil
	}

	env := &Envelope{
		ID:       domainbus.NewID(),
		Source:   f.opts.nodeID,
		Domain:   domainbus.ContextDomain(ctx),
		Event:    domainbus.ContextEventName(ctx),
		Target:   []byte(doc),
		Args:     args,
		Metadata: maps.Clone(f.metadata),
		Time:     time.Now(),
	}
	data, err := f.opts.codec.Encode(env)
	if err != nil {
		f.fail("encode envelope", err, "event", env.Event)
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, f.opts.publishTimeout)
	defer cancel()
	if err := f.transport.Publish(pubCtx, f.opts.topic, data); err != nil {
		f.fail("publish envelope", err, "event", env.Event)
		return nil
	}
	f.opts.logger.Debug("forwarded", "domain", env.Domain, "event", env.Event, "id", env.ID)
	return nil
}

func (f *Forwarder) fail(msg string, err error, attrs ...any) {
	f.opts.logger.Error(msg+" failed", append(attrs, "error", err)...)
	f.opts.onError(err)
}
