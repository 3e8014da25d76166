package domainbus

import (
	"context"
	"sync"
	"time"
)

// TestDomain creates a domain with id property "id" in a fresh registry,
// tracing and metrics disabled. Panics on setup errors.
//
// Example:
//
//	d := domainbus.TestDomain("test")
//	d.Listen(domainbus.SubscriberID("ctrl1"), bindings)
func TestDomain(typeTag string, opts ...DomainOption) *Domain {
	opts = append([]DomainOption{
		WithIDProperty("id"),
		WithDomainTracing(false),
		WithDomainMetrics(false),
	}, opts...)
	d, err := NewDomain(NewRegistry(), typeTag, opts...)
	if err != nil {
		panic("domainbus.TestDomain: " + err.Error())
	}
	return d
}

// RecordedCall is one handler invocation captured by a Recorder
type RecordedCall struct {
	Name      string
	Domain    string
	Event     string
	OwnerID   string
	Args      []any
	Timestamp time.Time
}

// Recorder records handler invocations in call order.
// Useful for testing dispatch order and fan-out.
type Recorder struct {
	mu    sync.Mutex
	calls []RecordedCall
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Handler returns a handler that records its calls under name and returns result
func (r *Recorder) Handler(name string, result error) Handler {
	return func(ctx context.Context, _ Target, args ...any) error {
		r.mu.Lock()
		r.calls = append(r.calls, RecordedCall{
			Name:      name,
			Domain:    ContextDomain(ctx),
			Event:     ContextEventName(ctx),
			OwnerID:   ContextOwnerID(ctx),
			Args:      args,
			Timestamp: time.Now(),
		})
		r.mu.Unlock()
		return result
	}
}

// Calls returns a copy of all recorded calls
func (r *Recorder) Calls() []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]RecordedCall, len(r.calls))
	copy(result, r.calls)
	return result
}

// Names returns the recorded handler names in call order
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.calls))
	for i, c := range r.calls {
		names[i] = c.Name
	}
	return names
}

// Count returns the number of calls recorded for name
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Reset clears recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// WaitFor waits until at least n calls are recorded or timeout elapses
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		got := len(r.calls)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls) >= n
}
