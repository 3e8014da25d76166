// Package redis provides a Redis Streams relay transport.
//
// Each topic is a stream. Broadcast subscriptions get their own consumer
// group, removed on Close; worker groups share a named consumer group.
// Messages are acknowledged with XACK when the receiver acks them.
package redis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/domainbus/relay/transport"
	"github.com/redis/go-redis/v9"
)

// Client defines the Redis operations the transport uses.
// Satisfied by *redis.Client, *redis.ClusterClient and redis.UniversalClient.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XGroupDestroy(ctx context.Context, stream, group string) *redis.IntCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// ErrClientRequired is returned when no Redis client is provided
var ErrClientRequired = errors.New("redis client is required")

// Default configuration
var (
	DefaultGroupPrefix  = "domainbus"
	DefaultStreamPrefix = "relay"
	DefaultBlockTime    = 5 * time.Second
)

// dataField is the stream entry field holding the frame
const dataField = "data"

// Transport implements transport.Transport using Redis Streams
type Transport struct {
	status       int32
	client       Client
	groupPrefix  string
	streamPrefix string
	maxLen       int64
	blockTime    time.Duration
	logger       *slog.Logger
	onError      func(error)
	subs         sync.Map // id -> *subscription
}

// New creates a Redis transport over a connected client.
// The caller owns the client and closes it.
func New(client Client, opts ...Option) (*Transport, error) {
	if client == nil {
		return nil, ErrClientRequired
	}
	t := &Transport{
		status:       1,
		client:       client,
		groupPrefix:  DefaultGroupPrefix,
		streamPrefix: DefaultStreamPrefix,
		blockTime:    DefaultBlockTime,
		logger:       transport.Logger("transport>redis"),
		onError:      func(error) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) isOpen() bool {
	return atomic.LoadInt32(&t.status) == 1
}

func (t *Transport) streamName(topic string) string {
	return t.streamPrefix + ":" + topic
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Publish appends data to the topic's stream
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	if !t.isOpen() {
		return transport.ErrTransportClosed
	}
	if topic == "" {
		return transport.ErrEmptyTopic
	}

	args := &redis.XAddArgs{
		Stream: t.streamName(topic),
		Values: map[string]any{dataField: data},
	}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}
	id, err := t.client.XAdd(ctx, args).Result()
	if err != nil {
		t.onError(err)
		return err
	}
	t.logger.Debug("published message", "topic", topic, "msg_id", id)
	return nil
}

// Subscribe creates a consumer group reader on the topic's stream
func (t *Transport) Subscribe(ctx context.Context, topic string, opts ...transport.SubscribeOption) (transport.Subscription, error) {
	if !t.isOpen() {
		return nil, transport.ErrTransportClosed
	}
	if topic == "" {
		return nil, transport.ErrEmptyTopic
	}
	subOpts := transport.ApplySubscribeOptions(opts...)

	stream := t.streamName(topic)
	subID := transport.NewID()

	startID := "$"
	if subOpts.StartFrom == transport.StartFromBeginning {
		startID = "0"
	}

	broadcast := subOpts.DeliveryMode == transport.Broadcast
	group := t.groupPrefix + "-" + topic + "-" + subOpts.WorkerGroup
	if broadcast {
		group = t.groupPrefix + "-" + subID
	}
	if err := t.client.XGroupCreateMkStream(ctx, stream, group, startID).Err(); err != nil && !isBusyGroup(err) {
		return nil, err
	}

	bufSize := 100
	if subOpts.BufferSize > 0 {
		bufSize = subOpts.BufferSize
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		id:          subID,
		ch:          make(chan transport.Message, bufSize),
		closedCh:    make(chan struct{}),
		client:      t.client,
		stream:      stream,
		group:       group,
		cancel:      cancel,
		isBroadcast: broadcast,
		logger:      t.logger,
		onClose:     func() { t.subs.Delete(subID) },
	}
	t.subs.Store(subID, sub)
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		sub.consumeLoop(subCtx, t.blockTime)
	}()

	t.logger.Debug("added subscriber", "topic", topic, "subscriber", subID, "group", group, "start", startID)
	return sub, nil
}

// Close marks the transport closed and closes every open subscription,
// while the client is still usable for removing broadcast groups
func (t *Transport) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&t.status, 1, 0) {
		return nil
	}
	var errs []error
	t.subs.Range(func(_, value any) bool {
		if err := value.(*subscription).Close(ctx); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	t.logger.Debug("transport closed")
	return errors.Join(errs...)
}

// Ping checks the Redis connection
func (t *Transport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// subscription implements transport.Subscription for Redis
type subscription struct {
	id          string
	ch          chan transport.Message
	closedCh    chan struct{}
	closed      int32
	client      Client
	stream      string
	group       string
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	isBroadcast bool
	logger      *slog.Logger
	onClose     func()
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
		s.wg.Wait()
		close(s.ch)
		s.onClose()
		if s.isBroadcast {
			return s.client.XGroupDestroy(ctx, s.stream, s.group).Err()
		}
	}
	return nil
}

func (s *subscription) consumeLoop(ctx context.Context, blockTime time.Duration) {
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

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.id,
			Streams:  []string{s.stream, ">"},
			Count:    10,
			Block:    blockTime,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				backoff = 100 * time.Millisecond
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				s.logger.Debug("client closed, stopping reader", "subscriber", s.id)
				return
			}
			wait := transport.Jitter(backoff, 0.3)
			s.logger.Error("read error, retrying with backoff", "error", err, "backoff", wait)
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

		for _, stream := range streams {
			for _, xmsg := range stream.Messages {
				msgID := xmsg.ID
				ack := func(err error) error {
					if err != nil {
						return nil
					}
					return s.client.XAck(context.Background(), s.stream, s.group, msgID).Err()
				}

				var data []byte
				switch v := xmsg.Values[dataField].(type) {
				case string:
					data = []byte(v)
				case []byte:
					data = v
				default:
					s.logger.Error("invalid message format", "id", msgID)
					ack(nil)
					continue
				}

				select {
				case <-s.closedCh:
					return
				case s.ch <- transport.NewMessage(msgID, data, ack):
				}
			}
		}
	}
}

// Compile-time interface checks
var _ transport.Transport = (*Transport)(nil)
var _ transport.Subscription = (*subscription)(nil)
