package redis

import (
	"log/slog"
	"time"
)

// Option configures the Redis transport
type Option func(*Transport)

// WithGroupPrefix sets the prefix of consumer group names
func WithGroupPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.groupPrefix = prefix
		}
	}
}

// WithStreamPrefix sets the prefix of stream keys
func WithStreamPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.streamPrefix = prefix
		}
	}
}

// WithMaxLen caps each stream at roughly n entries (XADD MAXLEN ~).
// Zero means unlimited.
func WithMaxLen(n int64) Option {
	return func(t *Transport) {
		t.maxLen = n
	}
}

// WithBlockTime sets how long XREADGROUP blocks waiting for entries
func WithBlockTime(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.blockTime = d
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
