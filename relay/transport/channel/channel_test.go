package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/domainbus/relay/transport"
)

func receive(t *testing.T, sub transport.Subscription) transport.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close(ctx)

	sub1, err := tr.Subscribe(ctx, "ui")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sub2, _ := tr.Subscribe(ctx, "ui")

	if err := tr.Publish(ctx, "ui", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	for _, sub := range []transport.Subscription{sub1, sub2} {
		if got := string(receive(t, sub).Data()); got != "hello" {
			t.Errorf("expected hello, got %q", got)
		}
	}
}

func TestWorkerGroups(t *testing.T) {
	ctx := context.Background()
	tr := New()
	defer tr.Close(ctx)

	w1, _ := tr.Subscribe(ctx, "jobs", transport.WithWorkerGroup("a"))
	w2, _ := tr.Subscribe(ctx, "jobs", transport.WithWorkerGroup("a"))
	other, _ := tr.Subscribe(ctx, "jobs", transport.WithWorkerGroup("b"))

	for i := 0; i < 4; i++ {
		if err := tr.Publish(ctx, "jobs", []byte{byte(i)}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if n := len(w1.Messages()) + len(w2.Messages()); n != 4 {
		t.Errorf("group a should share 4 messages, got %d", n)
	}
	if n := len(other.Messages()); n != 4 {
		t.Errorf("group b should see all 4 messages, got %d", n)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	tr := New()
	if err := tr.Publish(context.Background(), "nobody", []byte("x")); err != nil {
		t.Errorf("expected silent drop, got %v", err)
	}
}

func TestSubscriptionClose(t *testing.T) {
	ctx := context.Background()
	tr := New()
	sub, _ := tr.Subscribe(ctx, "ui")
	sub.Close(ctx)
	sub.Close(ctx)

	if _, ok := <-sub.Messages(); ok {
		t.Error("messages channel should be closed")
	}
	if err := tr.Publish(ctx, "ui", []byte("x")); err != nil {
		t.Errorf("publish after close should drop, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	ctx := context.Background()
	var reported error
	tr := New(WithBufferSize(0), WithTimeout(10*time.Millisecond), WithErrorHandler(func(err error) { reported = err }))
	tr.Subscribe(ctx, "ui")

	tr.Publish(ctx, "ui", []byte("x"))
	if !errors.Is(reported, transport.ErrPublishTimeout) {
		t.Errorf("expected ErrPublishTimeout, got %v", reported)
	}
}

func TestClosedTransport(t *testing.T) {
	ctx := context.Background()
	tr := New()
	sub, _ := tr.Subscribe(ctx, "ui")
	tr.Close(ctx)

	if _, ok := <-sub.Messages(); ok {
		t.Error("subscriptions should close with the transport")
	}
	if err := tr.Publish(ctx, "ui", nil); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if _, err := tr.Subscribe(ctx, "ui"); !errors.Is(err, transport.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
	if _, err := New().Subscribe(ctx, ""); !errors.Is(err, transport.ErrEmptyTopic) {
		t.Errorf("expected ErrEmptyTopic, got %v", err)
	}
}
