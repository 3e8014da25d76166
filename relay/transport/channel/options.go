package channel

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/domainbus/relay/transport"
)

// DefaultBufferSize is the per-subscription channel buffer
var DefaultBufferSize = 100

// options holds configuration for transport (unexported)
type options struct {
	bufferSize int
	timeout    time.Duration
	onError    func(error)
	logger     *slog.Logger
}

// Option configures the channel transport
type Option func(*options)

// WithBufferSize sets the buffer size for subscription channels.
// Zero makes delivery synchronous with the receiver.
func WithBufferSize(size int) Option {
	return func(o *options) {
		if size >= 0 {
			o.bufferSize = size
		}
	}
}

// WithTimeout sets the timeout for sending to each subscriber.
// Set to 0 to block until the subscriber reads or the publish context ends.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithErrorHandler sets the callback for delivery errors
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		if fn != nil {
			o.onError = fn
		}
	}
}

// WithLogger sets the logger for transport
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		bufferSize: DefaultBufferSize,
		onError:    func(error) {},
		logger:     transport.Logger("transport>channel"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
