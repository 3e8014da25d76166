// Package transport provides the types shared by relay transports.
//
// A transport moves opaque frames between processes on named topics.
// Implementations (channel, redis, nats, kafka) import this package
// rather than the relay package to avoid import cycles.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Transport errors
var (
	ErrTransportClosed    = errors.New("transport closed")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrPublishTimeout     = errors.New("publish timeout")
	ErrEmptyTopic         = errors.New("topic name is required")
)

// Message is one frame received from a transport
type Message interface {
	// ID returns the transport-specific message identifier
	ID() string
	// Data returns the frame bytes as published
	Data() []byte
	// Ack acknowledges the message. Pass nil for success, or an error to
	// leave it for redelivery where the transport supports it.
	Ack(error) error
}

type message struct {
	id    string
	data  []byte
	ackFn func(error) error
}

func (m *message) ID() string   { return m.id }
func (m *message) Data() []byte { return m.data }
func (m *message) Ack(err error) error {
	if m.ackFn != nil {
		return m.ackFn(err)
	}
	return nil
}

// NewMessage creates a message. ackFn may be nil.
func NewMessage(id string, data []byte, ackFn func(error) error) Message {
	return &message{id: id, data: data, ackFn: ackFn}
}

// DeliveryMode determines how messages are distributed to subscribers
type DeliveryMode int

const (
	// Broadcast delivers message to ALL subscribers (pub/sub fan-out)
	Broadcast DeliveryMode = iota
	// WorkerPool delivers message to ONE subscriber of a group (load balancing)
	WorkerPool
)

// StartPosition determines where a new subscription starts reading
type StartPosition int

const (
	// StartFromLatest only receives messages published after subscription
	StartFromLatest StartPosition = iota
	// StartFromBeginning replays what the transport still retains
	StartFromBeginning
)

// SubscribeOptions configures subscription behavior
type SubscribeOptions struct {
	// DeliveryMode determines how messages are distributed. Default: Broadcast.
	DeliveryMode DeliveryMode

	// WorkerGroup names the group WorkerPool subscribers compete in.
	// Different groups each receive every message.
	WorkerGroup string

	// StartFrom determines where to start reading. Default: StartFromLatest.
	StartFrom StartPosition

	// BufferSize overrides the default message channel buffer size
	BufferSize int
}

// SubscribeOption is a functional option for configuring subscriptions
type SubscribeOption func(*SubscribeOptions)

// WithDeliveryMode sets the message delivery mode
func WithDeliveryMode(mode DeliveryMode) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.DeliveryMode = mode
	}
}

// WithWorkerGroup sets the worker group name and switches to WorkerPool mode.
//
// Example:
//
//	sub, err := t.Subscribe(ctx, "ui-events",
//	    transport.WithWorkerGroup("audit"))
func WithWorkerGroup(group string) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.DeliveryMode = WorkerPool
		o.WorkerGroup = group
	}
}

// WithStartFrom sets where to start reading messages
func WithStartFrom(pos StartPosition) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.StartFrom = pos
	}
}

// WithBufferSize sets the message channel buffer size
func WithBufferSize(size int) SubscribeOption {
	return func(o *SubscribeOptions) {
		o.BufferSize = size
	}
}

// ApplySubscribeOptions applies functional options over the defaults
func ApplySubscribeOptions(opts ...SubscribeOption) *SubscribeOptions {
	o := &SubscribeOptions{
		DeliveryMode: Broadcast,
		StartFrom:    StartFromLatest,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Transport moves frames between processes
type Transport interface {
	// Publish sends data to every subscription of topic.
	// Returns nil if nobody is subscribed.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe creates a subscription to topic. Default is Broadcast mode
	// starting from the latest message.
	Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) (Subscription, error)

	// Close shuts down the transport and all its subscriptions
	Close(ctx context.Context) error
}

// Subscription represents a subscriber's connection to a topic
type Subscription interface {
	// ID returns the unique subscription identifier
	ID() string

	// Messages returns the channel to receive messages
	Messages() <-chan Message

	// Close unsubscribes and closes the message channel
	Close(ctx context.Context) error
}

// NewID generates a new unique ID
func NewID() string {
	return uuid.NewString()
}

// Logger returns a logger with the given component name
func Logger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Jitter adds randomness to a duration to prevent thundering herd.
// Returns a duration between d*(1-factor) and d*(1+factor).
func Jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || factor > 1 {
		return d
	}
	jitter := (rand.Float64()*2 - 1) * factor
	return time.Duration(float64(d) * (1 + jitter))
}
