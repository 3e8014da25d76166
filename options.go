package domainbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// listenerOptions holds invocation configuration for one listener (unexported)
type listenerOptions struct {
	delay      time.Duration
	buffer     time.Duration
	single     bool
	limiter    *rate.Limiter
	middleware []Middleware
	onError    func(error)
}

// ListenerOption configures how a listener is invoked
type ListenerOption func(*listenerOptions)

// Delay runs the handler d after the firing, on a context detached from
// the firing's cancellation. The synchronous dispatch sees nil.
func Delay(d time.Duration) ListenerOption {
	return func(o *listenerOptions) {
		o.delay = d
	}
}

// Buffer debounces the handler: it runs d after the last firing in a burst,
// with that firing's arguments.
func Buffer(d time.Duration) ListenerOption {
	return func(o *listenerOptions) {
		o.buffer = d
	}
}

// Single makes the listener fire at most once. It is removed from its
// domain after firing.
func Single() ListenerOption {
	return func(o *listenerOptions) {
		o.single = true
	}
}

// RateLimit skips firings beyond rps events per second with the given burst
func RateLimit(rps float64, burst int) ListenerOption {
	return func(o *listenerOptions) {
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMiddleware adds middleware around the handler
func WithMiddleware(mws ...Middleware) ListenerOption {
	return func(o *listenerOptions) {
		o.middleware = append(o.middleware, mws...)
	}
}

// OnError sets the callback for errors returned by delayed or buffered
// handlers, which have no caller to return them to
func OnError(fn func(error)) ListenerOption {
	return func(o *listenerOptions) {
		if fn != nil {
			o.onError = fn
		}
	}
}

func newListenerOptions(opts ...ListenerOption) *listenerOptions {
	o := &listenerOptions{
		onError: func(err error) {
			slog.Default().Error("deferred listener failed", "component", "domainbus", "error", err)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// wrap builds the invocation chain: rate limit, then deferral, then middleware.
// Deferred calls are dropped once cancelled reports true.
func (o *listenerOptions) wrap(h Handler, cancelled func() bool) Handler {
	h = Chain(h, o.middleware...)
	switch {
	case o.buffer > 0:
		h = bufferHandler(h, o.buffer, cancelled, o.onError)
	case o.delay > 0:
		h = delayHandler(h, o.delay, cancelled, o.onError)
	}
	if o.limiter != nil {
		h = limitHandler(h, o.limiter)
	}
	return h
}

func delayHandler(h Handler, d time.Duration, cancelled func() bool, onError func(error)) Handler {
	return func(ctx context.Context, target Target, args ...any) error {
		ctx = NewContext(ctx)
		time.AfterFunc(d, func() {
			if cancelled() {
				return
			}
			if err := h(ctx, target, args...); err != nil && !IsHalt(err) {
				onError(err)
			}
		})
		return nil
	}
}

func bufferHandler(h Handler, d time.Duration, cancelled func() bool, onError func(error)) Handler {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	return func(ctx context.Context, target Target, args ...any) error {
		ctx = NewContext(ctx)
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(d, func() {
			if cancelled() {
				return
			}
			if err := h(ctx, target, args...); err != nil && !IsHalt(err) {
				onError(err)
			}
		})
		return nil
	}
}

func limitHandler(h Handler, limiter *rate.Limiter) Handler {
	return func(ctx context.Context, target Target, args ...any) error {
		if !limiter.Allow() {
			return nil
		}
		return h(ctx, target, args...)
	}
}
