package relay

import (
	"context"
	"sync"

	"github.com/rbaliyan/domainbus"
	"github.com/rbaliyan/domainbus/relay/transport"
)

// Receiver re-fires envelopes from a transport topic on local sources.
// Each domain tag has its own Class; Bind makes a domain monitor it.
type Receiver struct {
	transport transport.Transport
	opts      *options
	subOpts   []transport.SubscribeOption

	mu      sync.Mutex
	classes map[string]*domainbus.Class
	sub     transport.Subscription
	done    chan struct{}
}

// NewReceiver creates a receiver reading from t
func NewReceiver(t transport.Transport, opts ...Option) *Receiver {
	return &Receiver{
		transport: t,
		opts:      newOptions("relay>receiver", opts...),
		classes:   make(map[string]*domainbus.Class),
	}
}

// WithSubscribeOptions sets transport options used by Start, such as a worker group
func (r *Receiver) WithSubscribeOptions(opts ...transport.SubscribeOption) *Receiver {
	r.subOpts = opts
	return r
}

// Class returns the source class for envelopes of domain tag, creating it on first use
func (r *Receiver) Class(tag string) *domainbus.Class {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[tag]
	if !ok {
		c = domainbus.NewClass("relay." + tag)
		r.classes[tag] = c
	}
	return c
}

// Bind makes d receive envelopes published from domains with the same tag
func (r *Receiver) Bind(d *domainbus.Domain) bool {
	return d.Monitor(r.Class(d.TypeTag()))
}

// Start subscribes to the topic and fires envelopes until ctx ends or Stop is called
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return ErrAlreadyStarted
	}
	sub, err := r.transport.Subscribe(ctx, r.opts.topic, r.subOpts...)
	if err != nil {
		return err
	}
	r.sub = sub
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		r.loop(ctx, sub)
	}()
	r.opts.logger.Debug("started", "topic", r.opts.topic, "node", r.opts.nodeID)
	return nil
}

// Stop closes the subscription and waits for the receive loop to exit.
// The receiver can be started again afterwards.
func (r *Receiver) Stop(ctx context.Context) error {
	r.mu.Lock()
	sub, done := r.sub, r.done
	r.mu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close(ctx)
	<-done

	r.mu.Lock()
	if r.sub == sub {
		r.sub, r.done = nil, nil
	}
	r.mu.Unlock()
	return err
}

func (r *Receiver) loop(ctx context.Context, sub transport.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			msg.Ack(r.handle(ctx, msg.Data()))
		}
	}
}

// handle returns an error only for envelopes worth redelivering
func (r *Receiver) handle(ctx context.Context, data []byte) error {
	env, err := r.opts.codec.Decode(data)
	if err != nil {
		r.opts.logger.Error("decode envelope failed", "error", err)
		r.opts.onError(err)
		return nil
	}
	if env.Source == r.opts.nodeID {
		return nil
	}

	r.mu.Lock()
	class, ok := r.classes[env.Domain]
	r.mu.Unlock()
	if !ok {
		r.opts.logger.Debug("no local domain for envelope", "domain", env.Domain, "event", env.Event)
		return nil
	}

	var target domainbus.Target = domainbus.JSONTarget("{}")
	if len(env.Target) > 0 {
		target = domainbus.JSONTarget(env.Target)
	}
	src := class.New(target)
	if _, err := src.Fire(withEnvelope(ctx, env), env.Event, env.Args...); err != nil {
		r.opts.logger.Error("relayed firing failed", "domain", env.Domain, "event", env.Event, "error", err)
		r.opts.onError(err)
	}
	return nil
}
