package domainbus

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"
)

func target(id string) Target {
	return Attributes{"id": id}
}

func TestDispatchSelectorMatch(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	err := d.Listen(SubscriberID("ctrl1"), Bindings{}.On("#foo", "bar", rec.Handler("x", nil)))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ok, err := d.Dispatch(ctx, target("foo"), "bar", 1, 2)
	if err != nil || !ok {
		t.Fatalf("expected dispatch to succeed, got %v %v", ok, err)
	}
	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if diff := cmp.Diff([]any{1, 2}, calls[0].Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if calls[0].Event != "bar" || calls[0].OwnerID != "ctrl1" || calls[0].Domain != "test" {
		t.Errorf("unexpected dispatch context: %+v", calls[0])
	}

	rec.Reset()
	if ok, err := d.Dispatch(ctx, target("other"), "bar", 1, 2); !ok || err != nil {
		t.Fatalf("expected dispatch to succeed, got %v %v", ok, err)
	}
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("expected no calls for non-matching target, got %d", n)
	}
}

func TestDispatchWildcard(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("a"), Bindings{}.On("*", "baz", rec.Handler("a", nil)))
	d.Listen(SubscriberID("b"), Bindings{}.On("*", "baz", rec.Handler("b", nil)))

	for i := 0; i < 5; i++ {
		rec.Reset()
		id := faker.Lorem().Word()
		if _, err := d.Dispatch(ctx, target(id), "baz"); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
		if diff := cmp.Diff([]string{"a", "b"}, rec.Names()); diff != "" {
			t.Errorf("target %q: order mismatch (-want +got):\n%s", id, diff)
		}
	}

	rec.Reset()
	d.Dispatch(ctx, Attributes{}, "baz")
	if n := len(rec.Calls()); n != 2 {
		t.Errorf("wildcard should match target without id, got %d calls", n)
	}
}

func TestDispatchHalt(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("first"), Bindings{}.On("*", "qux", rec.Handler("first", ErrHalt)))
	d.Listen(SubscriberID("second"), Bindings{}.On("*", "qux", rec.Handler("second", nil)))

	ok, err := d.Dispatch(ctx, target("any"), "qux")
	if err != nil {
		t.Fatalf("halt must not be reported as error: %v", err)
	}
	if ok {
		t.Error("expected dispatch to report false")
	}
	if diff := cmp.Diff([]string{"first"}, rec.Names()); diff != "" {
		t.Errorf("second handler must not run (-want +got):\n%s", diff)
	}
}

func TestDispatchHaltAcrossSelectors(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("a"), Bindings{}.
		On("#x", "ev", rec.Handler("a1", Halt(errors.New("stop here")))).
		On("*", "ev", rec.Handler("a2", nil)))

	ok, err := d.Dispatch(ctx, target("x"), "ev")
	if ok || err != nil {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
	if diff := cmp.Diff([]string{"a1"}, rec.Names()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()
	boom := errors.New("boom")

	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", rec.Handler("a", boom)))
	d.Listen(SubscriberID("b"), Bindings{}.On("*", "ev", rec.Handler("b", nil)))

	ok, err := d.Dispatch(ctx, target("x"), "ev")
	if ok {
		t.Error("expected false on handler error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var hErr *HandlerError
	if !errors.As(err, &hErr) {
		t.Fatalf("expected *HandlerError, got %T", err)
	}
	if hErr.OwnerID != "a" || hErr.Event != "ev" || hErr.Domain != "test" {
		t.Errorf("unexpected handler error fields: %+v", hErr)
	}
	if !IsHandlerError(err) || IsHandlerError(boom) || IsHandlerError(nil) {
		t.Error("IsHandlerError should only report dispatched handler errors")
	}
	if diff := cmp.Diff([]string{"a"}, rec.Names()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestDispatchContext(t *testing.T) {
	d := TestDomain("test")
	tg := target("save")
	var got Target
	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", func(ctx context.Context, _ Target, _ ...any) error {
		got = ContextTarget(ctx)
		if ContextOwnerID(ctx) != "a" || ContextDomain(ctx) != "test" || ContextEventName(ctx) != "ev" {
			t.Errorf("unexpected dispatch context %q %q %q", ContextOwnerID(ctx), ContextDomain(ctx), ContextEventName(ctx))
		}
		return nil
	}))

	d.Dispatch(context.Background(), tg, "ev")
	if id, _ := PropertyString(got, "id"); id != "save" {
		t.Errorf("ContextTarget should return the firing target, got %v", got)
	}
	if ContextTarget(context.Background()) != nil {
		t.Error("expected nil target outside a dispatch")
	}
}

func TestDispatchPanicPropagates(t *testing.T) {
	d := TestDomain("test")
	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", func(context.Context, Target, ...any) error {
		panic("handler panic")
	}))

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic to reach the caller")
		}
	}()
	d.Dispatch(context.Background(), target("x"), "ev")
}

func TestDispatchEventIsolation(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("a"), Bindings{}.On("*", "alpha", rec.Handler("alpha", nil)))

	if ok, err := d.Dispatch(ctx, target("x"), "beta"); !ok || err != nil {
		t.Fatalf("unexpected result %v %v", ok, err)
	}
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("handler for alpha ran on beta: %d calls", n)
	}
}

func TestDispatchOrdering(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	// selector order: "*" then "x"; owner order within "*": o1, o2
	d.Listen(SubscriberID("o1"), Bindings{}.On("*", "ev", rec.Handler("o1-star-1", nil)))
	d.Listen(SubscriberID("o2"), Bindings{}.On("#x", "ev", rec.Handler("o2-x", nil)))
	d.Listen(SubscriberID("o2"), Bindings{}.On("*", "ev", rec.Handler("o2-star", nil)))
	d.Listen(SubscriberID("o1"), Bindings{}.On("*", "ev", rec.Handler("o1-star-2", nil)))
	d.Listen(SubscriberID("o1"), Bindings{}.On("#x", "ev", rec.Handler("o1-x", nil)))

	d.Dispatch(ctx, target("x"), "ev")

	want := []string{"o1-star-1", "o1-star-2", "o2-star", "o2-x", "o1-x"}
	if diff := cmp.Diff(want, rec.Names()); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestListenAccumulates(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()
	sub := SubscriberID("ctrl")

	d.Listen(sub, Bindings{}.On("*", "ev", rec.Handler("h", nil)))
	d.Listen(sub, Bindings{}.On("*", "ev", rec.Handler("h", nil)))

	d.Dispatch(ctx, target("x"), "ev")
	if n := rec.Count("h"); n != 2 {
		t.Errorf("expected 2 invocations, got %d", n)
	}
	if n := len(d.Listeners("ev")); n != 2 {
		t.Errorf("expected 2 listeners, got %d", n)
	}
}

func TestUnlisten(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("ctrl1"), Bindings{}.
		On("*", "a", rec.Handler("ctrl1-a", nil)).
		On("#x", "b", rec.Handler("ctrl1-b", nil)))
	d.Listen(SubscriberID("ctrl2"), Bindings{}.
		On("*", "a", rec.Handler("ctrl2-a", nil)))

	d.Unlisten("ctrl1")

	d.Dispatch(ctx, target("x"), "a")
	d.Dispatch(ctx, target("x"), "b")
	if diff := cmp.Diff([]string{"ctrl2-a"}, rec.Names()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	t.Run("idempotent", func(t *testing.T) {
		before := len(d.Listeners("a"))
		d.Unlisten("ctrl1")
		d.Unlisten("never-registered")
		if after := len(d.Listeners("a")); after != before {
			t.Errorf("second unlisten changed state: %d -> %d", before, after)
		}
	})
}

func TestListenResolution(t *testing.T) {
	d := TestDomain("test")

	t.Run("nil handler", func(t *testing.T) {
		err := d.Listen(SubscriberID("a"), Bindings{{Selector: "*", Event: "ev"}})
		if !errors.Is(err, ErrNilHandler) {
			t.Errorf("expected ErrNilHandler, got %v", err)
		}
	})

	t.Run("empty event", func(t *testing.T) {
		err := d.Listen(SubscriberID("a"), Bindings{}.On("*", "", func(context.Context, Target, ...any) error { return nil }))
		if !errors.Is(err, ErrEmptyEventName) {
			t.Errorf("expected ErrEmptyEventName, got %v", err)
		}
	})

	t.Run("empty owner", func(t *testing.T) {
		err := d.Listen(SubscriberID(""), Bindings{})
		if !errors.Is(err, ErrEmptyOwnerID) {
			t.Errorf("expected ErrEmptyOwnerID, got %v", err)
		}
	})

	t.Run("method on subscriber without resolver", func(t *testing.T) {
		err := d.Listen(SubscriberID("a"), Bindings{}.OnMethod("*", "ev", "onEv"))
		if !errors.Is(err, ErrHandlerNotFound) {
			t.Errorf("expected ErrHandlerNotFound, got %v", err)
		}
	})

	t.Run("failed call registers nothing", func(t *testing.T) {
		rec := NewRecorder()
		err := d.Listen(SubscriberID("a"), Bindings{}.
			On("*", "partial", rec.Handler("ok", nil)).
			OnMethod("*", "partial", "missing"))
		if err == nil {
			t.Fatal("expected error")
		}
		if d.HasListeners("partial") {
			t.Error("no listener should be filed when resolution fails")
		}
	})

	t.Run("method on scope", func(t *testing.T) {
		rec := NewRecorder()
		scope := Methods{"onEv": rec.Handler("scoped", nil)}
		err := d.Listen(SubscriberID("a"), Bindings{{Selector: "*", Event: "scoped", Method: "onEv", Scope: scope}})
		if err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		d.Dispatch(context.Background(), target("x"), "scoped")
		if rec.Count("scoped") != 1 {
			t.Error("scoped method was not invoked")
		}
	})
}

func TestReentrantUnlisten(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", func(ctx context.Context, tg Target, args ...any) error {
		rec.Handler("a", nil)(ctx, tg, args...)
		d.Unlisten("b")
		d.Unlisten("a")
		return nil
	}))
	d.Listen(SubscriberID("b"), Bindings{}.On("*", "ev", rec.Handler("b", nil)))

	if _, err := d.Dispatch(ctx, target("x"), "ev"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, rec.Names()); diff != "" {
		t.Errorf("listener removed mid-dispatch must be skipped (-want +got):\n%s", diff)
	}
	if d.HasListeners("ev") {
		t.Error("expected no listeners left")
	}
}

func TestReentrantListen(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", func(ctx context.Context, tg Target, args ...any) error {
		rec.Handler("a", nil)(ctx, tg, args...)
		return d.Listen(SubscriberID("late"), Bindings{}.On("*", "ev", rec.Handler("late", nil)))
	}))

	d.Dispatch(ctx, target("x"), "ev")
	if diff := cmp.Diff([]string{"a"}, rec.Names()); diff != "" {
		t.Errorf("listener added mid-dispatch ran early (-want +got):\n%s", diff)
	}

	rec.Reset()
	d.Dispatch(ctx, target("x"), "ev")
	if rec.Count("late") != 1 {
		t.Errorf("expected late listener on next dispatch, got %v", rec.Names())
	}
}

func TestSelectorPreprocessing(t *testing.T) {
	t.Run("id property strips sigil", func(t *testing.T) {
		d := TestDomain("test")
		d.Listen(SubscriberID("a"), Bindings{}.On("#foo", "ev", func(context.Context, Target, ...any) error { return nil }))
		ls := d.Listeners("ev")
		if len(ls) != 1 || ls[0].Selector() != "foo" {
			t.Errorf("expected selector foo, got %+v", ls)
		}
	})

	t.Run("custom selector func", func(t *testing.T) {
		d := TestDomain("test", WithSelectorFunc(func(s string) string { return "all" }))
		d.Listen(SubscriberID("a"), Bindings{}.On("#foo", "ev", func(context.Context, Target, ...any) error { return nil }))
		if ls := d.Listeners("ev"); len(ls) != 1 || ls[0].Selector() != "all" {
			t.Errorf("expected selector all, got %+v", ls)
		}
	})
}

func TestDomainWithoutIDProperty(t *testing.T) {
	d, err := NewDomain(NewRegistry(), "plain", WithDomainMetrics(false), WithDomainTracing(false))
	if err != nil {
		t.Fatalf("NewDomain failed: %v", err)
	}
	rec := NewRecorder()
	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", rec.Handler("a", nil)))

	if d.Match(target("x"), "*") {
		t.Error("domain without id property must not match")
	}
	d.Dispatch(context.Background(), target("x"), "ev")
	if n := len(rec.Calls()); n != 0 {
		t.Errorf("expected no calls, got %d", n)
	}
}

func TestNewDomainDuplicate(t *testing.T) {
	reg := NewRegistry()
	if _, err := NewDomain(reg, "dup"); err != nil {
		t.Fatalf("NewDomain failed: %v", err)
	}
	if _, err := NewDomain(reg, "dup"); !errors.Is(err, ErrDomainExists) {
		t.Errorf("expected ErrDomainExists, got %v", err)
	}
	if _, err := NewDomain(nil, "x"); !errors.Is(err, ErrNilRegistry) {
		t.Errorf("expected ErrNilRegistry, got %v", err)
	}
	if _, err := NewDomain(reg, ""); !errors.Is(err, ErrEmptyTypeTag) {
		t.Errorf("expected ErrEmptyTypeTag, got %v", err)
	}
}

func TestSingleListener(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	rec := NewRecorder()

	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", rec.Handler("once", nil), Single()))
	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", rec.Handler("always", nil)))

	d.Dispatch(ctx, target("x"), "ev")
	d.Dispatch(ctx, target("x"), "ev")

	if diff := cmp.Diff([]string{"once", "always", "always"}, rec.Names()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := len(d.Listeners("ev")); n != 1 {
		t.Errorf("single listener should be removed, %d left", n)
	}
}

func TestSingleListenerReentrantFire(t *testing.T) {
	ctx := context.Background()
	d := TestDomain("test")
	calls := 0

	d.Listen(SubscriberID("a"), Bindings{}.On("*", "ev", func(ctx context.Context, tg Target, _ ...any) error {
		calls++
		_, err := d.Dispatch(ctx, tg, "ev")
		return err
	}, Single()))

	if _, err := d.Dispatch(ctx, target("x"), "ev"); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("single listener ran %d times", calls)
	}
}
