// Package channel provides an in-memory relay transport using Go channels.
//
// It connects forwarders and receivers inside one process: tests, or
// several buses in one binary. Messages are lost on restart and there is
// no redelivery. Topics are created by the first subscription.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/domainbus/relay/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Transport implements transport.Transport using Go channels
type Transport struct {
	status     int32
	topics     sync.Map // map[string]*topic
	bufferSize int
	timeout    time.Duration
	logger     *slog.Logger
	onError    func(error)

	droppedCounter metric.Int64Counter
}

// topic manages subscribers for a single topic
type topic struct {
	name        string
	subscribers sync.Map // map[string]*subscription
	nextWorker  int64    // round-robin among workers of a group
}

// subscription implements transport.Subscription
type subscription struct {
	id       string
	group    string
	ch       chan transport.Message
	tp       *topic
	mode     transport.DeliveryMode
	closed   int32
	closedCh chan struct{}
	sending  sync.RWMutex // held by senders; Close takes it before closing ch
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
		if s.tp != nil {
			s.tp.subscribers.Delete(s.id)
		}
		s.sending.Lock()
		close(s.ch)
		s.sending.Unlock()
	}
	return nil
}

// New creates a new channel-based transport
func New(opts ...Option) *Transport {
	o := newOptions(opts...)

	meter := otel.Meter("domainbus.relay.channel")
	droppedCounter, _ := meter.Int64Counter("domainbus.relay.channel.dropped",
		metric.WithDescription("Number of messages dropped by channel transport"),
		metric.WithUnit("{message}"),
	)

	return &Transport{
		status:         1,
		bufferSize:     o.bufferSize,
		timeout:        o.timeout,
		logger:         o.logger,
		onError:        o.onError,
		droppedCounter: droppedCounter,
	}
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

func (t *Transport) dropped(ctx context.Context, name, reason string) {
	if t.droppedCounter != nil {
		t.droppedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("topic", name),
			attribute.String("reason", reason),
		))
	}
}

// Publish delivers data to every broadcast subscriber of the topic and to
// one worker of each worker group
func (t *Transport) Publish(ctx context.Context, name string, data []byte) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if name == "" {
		return transport.ErrEmptyTopic
	}

	val, ok := t.topics.Load(name)
	if !ok {
		t.logger.Debug("dropping message, no subscribers", "topic", name)
		t.dropped(ctx, name, "no_subscribers")
		return nil
	}
	tp := val.(*topic)

	var (
		broadcast []*subscription
		groups    = make(map[string][]*subscription)
		order     []string
	)
	tp.subscribers.Range(func(_, value any) bool {
		sub := value.(*subscription)
		if atomic.LoadInt32(&sub.closed) != 0 {
			return true
		}
		if sub.mode == transport.WorkerPool {
			if _, ok := groups[sub.group]; !ok {
				order = append(order, sub.group)
			}
			groups[sub.group] = append(groups[sub.group], sub)
		} else {
			broadcast = append(broadcast, sub)
		}
		return true
	})

	msg := transport.NewMessage(transport.NewID(), data, nil)

	for _, sub := range broadcast {
		if err := t.send(ctx, sub, msg); err != nil {
			if errors.Is(err, transport.ErrPublishTimeout) {
				t.logger.Debug("broadcast message dropped, subscriber too slow",
					"topic", name, "subscriber", sub.id)
				t.dropped(ctx, name, "timeout")
			}
			t.onError(err)
		}
	}

	var lastErr error
	for _, g := range order {
		workers := groups[g]
		start := atomic.AddInt64(&tp.nextWorker, 1)
		n := int64(len(workers))
		delivered := false
		for i := range n {
			sub := workers[(start+i)%n]
			if err := t.send(ctx, sub, msg); err != nil {
				lastErr = err
				continue
			}
			delivered = true
			break
		}
		if !delivered {
			t.logger.Warn("all workers failed, message dropped", "topic", name, "group", g, "error", lastErr)
			t.dropped(ctx, name, "all_workers_failed")
			t.onError(lastErr)
		}
	}
	return lastErr
}

func (t *Transport) send(ctx context.Context, sub *subscription, msg transport.Message) error {
	sub.sending.RLock()
	defer sub.sending.RUnlock()
	if atomic.LoadInt32(&sub.closed) != 0 {
		return transport.ErrSubscriptionClosed
	}
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			return transport.ErrPublishTimeout
		case <-sub.closedCh:
			return transport.ErrSubscriptionClosed
		case sub.ch <- msg:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sub.closedCh:
		return transport.ErrSubscriptionClosed
	case sub.ch <- msg:
		return nil
	}
}

// Subscribe creates a subscription to a topic, creating the topic if needed.
// StartFromBeginning behaves like StartFromLatest: nothing is retained.
func (t *Transport) Subscribe(ctx context.Context, name string, opts ...transport.SubscribeOption) (transport.Subscription, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if name == "" {
		return nil, transport.ErrEmptyTopic
	}
	subOpts := transport.ApplySubscribeOptions(opts...)

	val, _ := t.topics.LoadOrStore(name, &topic{name: name})
	tp := val.(*topic)

	bufSize := t.bufferSize
	if subOpts.BufferSize > 0 {
		bufSize = subOpts.BufferSize
	}

	sub := &subscription{
		id:       transport.NewID(),
		group:    subOpts.WorkerGroup,
		ch:       make(chan transport.Message, bufSize),
		tp:       tp,
		mode:     subOpts.DeliveryMode,
		closedCh: make(chan struct{}),
	}
	tp.subscribers.Store(sub.id, sub)

	t.logger.Debug("added subscriber", "topic", name, "subscriber", sub.id, "mode", subOpts.DeliveryMode)
	return sub, nil
}

// Close shuts down the transport and all subscriptions
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	t.topics.Range(func(_, value any) bool {
		value.(*topic).subscribers.Range(func(_, v any) bool {
			v.(*subscription).Close(ctx)
			return true
		})
		return true
	})
	t.logger.Debug("transport closed")
	return nil
}

// Compile-time interface checks
var _ transport.Transport = (*Transport)(nil)
var _ transport.Subscription = (*subscription)(nil)
