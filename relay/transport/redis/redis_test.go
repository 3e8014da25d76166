package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/domainbus/relay/transport"
	"github.com/redis/go-redis/v9"
)

// mockRedisClient implements Client for testing. Every group reads the
// same queue, so tests use one subscription per stream.
type mockRedisClient struct {
	mu        sync.Mutex
	streams   map[string][]redis.XMessage
	groups    map[string]map[string]string // stream -> group -> start
	destroyed []string
	acked     []string
	msgID     int
	xaddErr   error
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{
		streams: make(map[string][]redis.XMessage),
		groups:  make(map[string]map[string]string),
	}
}

func (m *mockRedisClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := redis.NewStringCmd(ctx)
	if m.xaddErr != nil {
		cmd.SetErr(m.xaddErr)
		return cmd
	}
	m.msgID++
	id := fmt.Sprintf("%d-0", m.msgID)

	values := make(map[string]any)
	if v, ok := a.Values.(map[string]any); ok {
		for k, val := range v {
			values[k] = val
		}
	}
	m.streams[a.Stream] = append(m.streams[a.Stream], redis.XMessage{ID: id, Values: values})
	cmd.SetVal(id)
	return cmd
}

func (m *mockRedisClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := redis.NewStatusCmd(ctx)
	if m.groups[stream] == nil {
		m.groups[stream] = make(map[string]string)
	}
	if _, exists := m.groups[stream][group]; exists {
		cmd.SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
		return cmd
	}
	m.groups[stream][group] = start
	cmd.SetVal("OK")
	return cmd
}

func (m *mockRedisClient) XGroupDestroy(ctx context.Context, stream, group string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups[stream], group)
	m.destroyed = append(m.destroyed, group)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (m *mockRedisClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)
	stream := a.Streams[0]

	m.mu.Lock()
	messages := m.streams[stream]
	m.streams[stream] = nil
	m.mu.Unlock()

	if len(messages) == 0 {
		select {
		case <-ctx.Done():
			cmd.SetErr(ctx.Err())
		case <-time.After(5 * time.Millisecond):
			cmd.SetErr(redis.Nil)
		}
		return cmd
	}
	cmd.SetVal([]redis.XStream{{Stream: stream, Messages: messages}})
	return cmd
}

func (m *mockRedisClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, ids...)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (m *mockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrClientRequired) {
		t.Errorf("expected ErrClientRequired, got %v", err)
	}
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, err := New(client, WithBlockTime(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer tr.Close(ctx)

	sub, err := tr.Subscribe(ctx, "ui")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := tr.Publish(ctx, "ui", []byte("frame")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-sub.Messages():
		if string(msg.Data()) != "frame" {
			t.Errorf("expected frame, got %q", msg.Data())
		}
		if err := msg.Ack(nil); err != nil {
			t.Errorf("Ack failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	client.mu.Lock()
	acked := len(client.acked)
	client.mu.Unlock()
	if acked != 1 {
		t.Errorf("expected one XACK, got %d", acked)
	}

	if err := sub.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	client.mu.Lock()
	destroyed := len(client.destroyed)
	client.mu.Unlock()
	if destroyed != 1 {
		t.Error("broadcast consumer group should be destroyed on close")
	}
}

func TestWorkerGroupIsShared(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client, WithGroupPrefix("app"), WithStreamPrefix("s"))

	sub1, err := tr.Subscribe(ctx, "jobs", transport.WithWorkerGroup("w"))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub2, err := tr.Subscribe(ctx, "jobs", transport.WithWorkerGroup("w"))
	if err != nil {
		t.Fatalf("second worker should join the existing group: %v", err)
	}
	defer sub1.Close(ctx)
	defer sub2.Close(ctx)

	client.mu.Lock()
	defer client.mu.Unlock()
	if _, ok := client.groups["s:jobs"]["app-jobs-w"]; !ok {
		t.Errorf("expected group app-jobs-w, got %v", client.groups)
	}
	if len(client.groups["s:jobs"]) != 1 {
		t.Errorf("workers should share one group, got %v", client.groups["s:jobs"])
	}
}

func TestPublishError(t *testing.T) {
	client := newMockRedisClient()
	client.xaddErr = errors.New("connection refused")
	var reported error
	tr, _ := New(client, WithErrorHandler(func(err error) { reported = err }))

	if err := tr.Publish(context.Background(), "ui", []byte("x")); err == nil {
		t.Fatal("expected publish error")
	}
	if reported == nil {
		t.Error("error handler should be called")
	}
}

func TestClosedTransport(t *testing.T) {
	ctx := context.Background()
	tr, _ := New(newMockRedisClient())
	tr.Close(ctx)
	if err := tr.Publish(ctx, "ui", nil); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if _, err := tr.Subscribe(ctx, "ui"); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}

func TestCloseStopsSubscriptions(t *testing.T) {
	ctx := context.Background()
	client := newMockRedisClient()
	tr, _ := New(client, WithBlockTime(10*time.Millisecond))

	sub, err := tr.Subscribe(ctx, "ui")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := tr.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription still open after transport Close")
	}

	client.mu.Lock()
	destroyed := len(client.destroyed)
	client.mu.Unlock()
	if destroyed != 1 {
		t.Errorf("broadcast group should be removed on transport Close, got %d", destroyed)
	}
	if err := sub.Close(ctx); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
