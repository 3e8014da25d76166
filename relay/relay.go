// Package relay bridges domains across processes.
//
// A Forwarder listens on local domains and publishes every matching firing
// as an Envelope on a transport topic. A Receiver subscribes to the topic
// and re-fires each envelope on a local source of the envelope's domain,
// so remote firings reach local listeners through the normal dispatch path.
//
// Example:
//
//	t := channel.New()
//	fwd := relay.NewForwarder(t, relay.WithTopic("ui"))
//	fwd.Attach(set.Component, "button", "click")
//
//	rcv := relay.NewReceiver(t, relay.WithTopic("ui"))
//	rcv.Bind(remoteComponents)
//	rcv.Start(ctx)
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/domainbus/relay/codec"
)

// Envelope is one domain firing in transit
type Envelope = codec.Envelope

// DefaultTopic is the transport topic used unless WithTopic says otherwise
var DefaultTopic = "domainbus"

// DefaultNodeID identifies this process. Forwarders and receivers created
// without WithNodeID share it, so a process never re-fires its own envelopes.
var DefaultNodeID = uuid.NewString()

// DefaultPublishTimeout bounds how long a forwarded firing may block the
// local dispatch waiting on the transport
var DefaultPublishTimeout = time.Second

// Relay errors
var (
	ErrAlreadyStarted = errors.New("relay: receiver already started")
	ErrNoEvents       = errors.New("relay: at least one event is required")
)

// options shared by Forwarder and Receiver (unexported)
type options struct {
	topic   string
	nodeID  string
	codec   codec.Codec
	logger  *slog.Logger
	onError func(error)

	publishTimeout time.Duration
}

// Option configures a Forwarder or Receiver
type Option func(*options)

// WithTopic sets the transport topic
func WithTopic(topic string) Option {
	return func(o *options) {
		if topic != "" {
			o.topic = topic
		}
	}
}

// WithNodeID sets the id written to and filtered from envelopes
func WithNodeID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.nodeID = id
		}
	}
}

// WithCodec sets the envelope codec. Both ends of a topic must agree.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithPublishTimeout bounds each forwarder publish. Zero or less keeps the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorHandler sets the callback for publish, decode and fire errors
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

func newOptions(component string, opts ...Option) *options {
	o := &options{
		topic:   DefaultTopic,
		nodeID:  DefaultNodeID,
		codec:   codec.Default(),
		logger:  slog.Default(),
		onError: func(error) {},

		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", component)
	return o
}

type relayedKey struct{}

// withEnvelope marks ctx as carrying a relayed firing
func withEnvelope(ctx context.Context, env *Envelope) context.Context {
	return context.WithValue(ctx, relayedKey{}, env)
}

// ContextEnvelope returns the envelope a firing was relayed from, or nil
// for local firings
func ContextEnvelope(ctx context.Context) *Envelope {
	env, _ := ctx.Value(relayedKey{}).(*Envelope)
	return env
}

// IsRelayed reports whether the firing in ctx arrived through a Receiver
func IsRelayed(ctx context.Context) bool {
	return ContextEnvelope(ctx) != nil
}
