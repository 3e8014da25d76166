// Package kafka provides a Kafka relay transport built on IBM/sarama.
//
// Frames are produced with a SyncProducer, keyed by a fresh message id.
// Broadcast subscriptions each get a unique consumer group; worker groups
// share "<prefix>-<topic>-<group>". Offsets are marked when the receiver
// acks a message. Where a new group starts reading is governed by the
// client's Consumer.Offsets.Initial setting.
//
// Recommended sarama.Config settings:
//
//	config := sarama.NewConfig()
//	config.Producer.Return.Successes = true
//	config.Producer.RequiredAcks = sarama.WaitForAll
//	config.Consumer.Offsets.Initial = sarama.OffsetNewest
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rbaliyan/domainbus/relay/transport"
)

// ErrClientRequired is returned when no sarama client is provided
var ErrClientRequired = errors.New("kafka client is required")

// DefaultGroupPrefix prefixes consumer group names
var DefaultGroupPrefix = "domainbus"

// GroupFactory creates a consumer group for a group id
type GroupFactory func(groupID string) (sarama.ConsumerGroup, error)

// Transport implements transport.Transport using Kafka
type Transport struct {
	status      int32
	producer    sarama.SyncProducer
	newGroup    GroupFactory
	groupPrefix string
	topicPrefix string
	logger      *slog.Logger
	onError     func(error)
}

// Option configures the Kafka transport
type Option func(*Transport)

// WithGroupPrefix sets the consumer group prefix
func WithGroupPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.groupPrefix = prefix
		}
	}
}

// WithTopicPrefix prefixes Kafka topic names; topics become "<prefix>.<topic>"
func WithTopicPrefix(prefix string) Option {
	return func(t *Transport) {
		t.topicPrefix = prefix
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

// WithErrorHandler sets the callback for publish and consume errors
func WithErrorHandler(fn func(error)) Option {
	return func(t *Transport) {
		if fn != nil {
			t.onError = fn
		}
	}
}

// New creates a Kafka transport from a connected client. The client must
// have Producer.Return.Successes enabled.
func New(client sarama.Client, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, err
	}
	return NewWithProducer(producer, func(groupID string) (sarama.ConsumerGroup, error) {
		return sarama.NewConsumerGroupFromClient(groupID, client)
	}, opts...), nil
}

// NewWithProducer creates a transport from an existing producer and a
// consumer group factory. newGroup may be nil for publish-only use.
func NewWithProducer(producer sarama.SyncProducer, newGroup GroupFactory, opts ...Option) *Transport {
	t := &Transport{
		status:      1,
		producer:    producer,
		newGroup:    newGroup,
		groupPrefix: DefaultGroupPrefix,
		logger:      transport.Logger("transport>kafka"),
		onError:     func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

func (t *Transport) topicName(topic string) string {
	if t.topicPrefix == "" {
		return topic
	}
	return t.topicPrefix + "." + topic
}

// Publish produces data to the topic
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if topic == "" {
		return transport.ErrEmptyTopic
	}
	partition, offset, err := t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.topicName(topic),
		Key:   sarama.StringEncoder(transport.NewID()),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		t.onError(err)
		return err
	}
	t.logger.Debug("published message", "topic", topic, "partition", partition, "offset", offset)
	return nil
}

// Subscribe starts a consumer group on the topic
func (t *Transport) Subscribe(ctx context.Context, topic string, opts ...transport.SubscribeOption) (transport.Subscription, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if topic == "" {
		return nil, transport.ErrEmptyTopic
	}
	if t.newGroup == nil {
		return nil, errors.New("kafka: transport has no consumer group factory")
	}
	subOpts := transport.ApplySubscribeOptions(opts...)

	subID := transport.NewID()
	groupID := t.groupPrefix + "-" + topic + "-" + subID
	if subOpts.DeliveryMode == transport.WorkerPool {
		groupID = t.groupPrefix + "-" + topic + "-" + subOpts.WorkerGroup
	}
	consumer, err := t.newGroup(groupID)
	if err != nil {
		return nil, err
	}

	bufSize := 100
	if subOpts.BufferSize > 0 {
		bufSize = subOpts.BufferSize
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		id:       subID,
		ch:       make(chan transport.Message, bufSize),
		closedCh: make(chan struct{}),
		consumer: consumer,
		topic:    t.topicName(topic),
		cancel:   cancel,
		logger:   t.logger,
		onError:  t.onError,
	}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		sub.consumeLoop(subCtx)
	}()

	t.logger.Debug("added subscriber", "topic", topic, "subscriber", subID, "group", groupID)
	return sub, nil
}

// Close closes the producer. Subscriptions are closed by their owners.
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	t.logger.Debug("transport closed")
	return t.producer.Close()
}

type subscription struct {
	id       string
	ch       chan transport.Message
	closedCh chan struct{}
	closed   int32
	consumer sarama.ConsumerGroup
	topic    string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
	onError  func(error)
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
		s.cancel()
		err := s.consumer.Close()
		s.wg.Wait()
		close(s.ch)
		return err
	}
	return nil
}

func (s *subscription) consumeLoop(ctx context.Context) {
	handler := &consumerHandler{sub: s}
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-s.closedCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := s.consumer.Consume(ctx, []string{s.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			wait := transport.Jitter(backoff, 0.3)
			s.logger.Error("consumer error, retrying with backoff", "error", err, "backoff", wait)
			s.onError(err)
			select {
			case <-s.closedCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 100 * time.Millisecond
	}
}

// consumerHandler implements sarama.ConsumerGroupHandler
type consumerHandler struct {
	sub *subscription
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-h.sub.closedCh:
			return nil
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			ack := func(err error) error {
				if err == nil {
					session.MarkMessage(msg, "")
				}
				return nil
			}
			select {
			case <-h.sub.closedCh:
				return nil
			case h.sub.ch <- transport.NewMessage(string(msg.Key), msg.Value, ack):
			}
		}
	}
}

// Compile-time interface checks
var _ transport.Transport = (*Transport)(nil)
var _ transport.Subscription = (*subscription)(nil)
var _ sarama.ConsumerGroupHandler = (*consumerHandler)(nil)
