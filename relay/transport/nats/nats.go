// Package nats provides a NATS Core relay transport.
//
// Topics map to subjects. Delivery is at-most-once: frames published while
// a receiver is disconnected are lost, and a full subscription buffer drops
// new frames. Worker groups map to NATS queue groups.
package nats

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rbaliyan/domainbus/relay/transport"
)

// Conn is the part of *nats.Conn the transport uses
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// ErrConnRequired is returned when no NATS connection is provided
var ErrConnRequired = errors.New("nats connection is required")

// DefaultSubjectPrefix prefixes every topic subject
var DefaultSubjectPrefix = "domainbus"

// Transport implements transport.Transport over NATS Core
type Transport struct {
	status     int32
	conn       Conn
	prefix     string
	bufferSize int
	logger     *slog.Logger
	onError    func(error)
}

// Option configures the NATS transport
type Option func(*Transport)

// WithSubjectPrefix sets the subject prefix; topics become "<prefix>.<topic>"
func WithSubjectPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithBufferSize sets the per-subscription buffer
func WithBufferSize(size int) Option {
	return func(t *Transport) {
		if size > 0 {
			t.bufferSize = size
		}
	}
}

// WithLogger sets the logger for transport
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithErrorHandler sets the callback for publish errors
func WithErrorHandler(fn func(error)) Option {
	return func(t *Transport) {
		if fn != nil {
			t.onError = fn
		}
	}
}

// New creates a NATS transport over a connection the caller owns
func New(conn Conn, opts ...Option) (*Transport, error) {
	if conn == nil {
		return nil, ErrConnRequired
	}
	t := &Transport{
		status:     1,
		conn:       conn,
		prefix:     DefaultSubjectPrefix,
		bufferSize: 100,
		logger:     transport.Logger("transport>nats"),
		onError:    func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

func (t *Transport) subject(topic string) string {
	return t.prefix + "." + topic
}

// Publish sends data on the topic's subject
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if topic == "" {
		return transport.ErrEmptyTopic
	}
	if err := t.conn.Publish(t.subject(topic), data); err != nil {
		t.onError(err)
		return err
	}
	return nil
}

// Subscribe subscribes to the topic's subject; worker groups use queue groups.
// StartFromBeginning is not supported by NATS Core and behaves like StartFromLatest.
func (t *Transport) Subscribe(ctx context.Context, topic string, opts ...transport.SubscribeOption) (transport.Subscription, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if topic == "" {
		return nil, transport.ErrEmptyTopic
	}
	subOpts := transport.ApplySubscribeOptions(opts...)

	bufSize := t.bufferSize
	if subOpts.BufferSize > 0 {
		bufSize = subOpts.BufferSize
	}
	sub := &subscription{
		id:       transport.NewID(),
		ch:       make(chan transport.Message, bufSize),
		closedCh: make(chan struct{}),
		logger:   t.logger,
	}

	var (
		natsSub *nats.Subscription
		err     error
	)
	subject := t.subject(topic)
	if subOpts.DeliveryMode == transport.WorkerPool {
		queue := subOpts.WorkerGroup
		if queue == "" {
			queue = "workers"
		}
		natsSub, err = t.conn.QueueSubscribe(subject, queue, sub.handleMessage)
	} else {
		natsSub, err = t.conn.Subscribe(subject, sub.handleMessage)
	}
	if err != nil {
		return nil, err
	}
	sub.sub = natsSub

	t.logger.Debug("subscribed", "subject", subject, "subscriber", sub.id, "mode", subOpts.DeliveryMode)
	return sub, nil
}

// Close marks the transport closed. The connection is left to its owner.
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	t.logger.Debug("transport closed")
	return nil
}

type subscription struct {
	id       string
	sub      *nats.Subscription
	ch       chan transport.Message
	closedCh chan struct{}
	closed   int32
	sending  sync.RWMutex
	logger   *slog.Logger
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Messages() <-chan transport.Message {
	return s.ch
}

func (s *subscription) Close(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.closedCh)
		var err error
		if s.sub != nil {
			err = s.sub.Unsubscribe()
		}
		s.sending.Lock()
		close(s.ch)
		s.sending.Unlock()
		return err
	}
	return nil
}

func (s *subscription) handleMessage(msg *nats.Msg) {
	s.sending.RLock()
	defer s.sending.RUnlock()
	if atomic.LoadInt32(&s.closed) != 0 {
		return
	}
	select {
	case s.ch <- transport.NewMessage(transport.NewID(), msg.Data, nil):
	default:
		s.logger.Warn("subscription buffer full, message dropped", "subject", msg.Subject, "subscriber", s.id)
	}
}

// Compile-time interface checks
var _ transport.Transport = (*Transport)(nil)
var _ transport.Subscription = (*subscription)(nil)
var _ Conn = (*nats.Conn)(nil)
