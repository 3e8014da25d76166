package domainbus

import (
	"sync"

	"github.com/google/uuid"
)

// Subscriber is anything that registers listeners. OwnerID groups its
// listeners so Unlisten can remove them together.
type Subscriber interface {
	OwnerID() string
}

// SubscriberID is a Subscriber that is only an id
type SubscriberID string

// OwnerID implements Subscriber
func (s SubscriberID) OwnerID() string {
	return string(s)
}

// NewID generates a new unique ID
func NewID() string {
	return uuid.NewString()
}

// ControllerState is the lifecycle state of a Controller
type ControllerState int

const (
	// StateUnregistered - no listeners registered yet
	StateUnregistered ControllerState = iota
	// StateListening - at least one Listen or Control call succeeded
	StateListening
	// StateDestroyed - listeners removed; the controller cannot listen again
	StateDestroyed
)

// String returns a string representation of the state
func (s ControllerState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateListening:
		return "listening"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// controllerOptions holds configuration for a controller (unexported)
type controllerOptions struct {
	id      string
	methods Methods
}

// ControllerOption option function for controller configuration
type ControllerOption func(*controllerOptions)

// WithControllerID sets the controller's owner id. Default is a new UUID.
func WithControllerID(id string) ControllerOption {
	return func(o *controllerOptions) {
		if id != "" {
			o.id = id
		}
	}
}

// WithMethods registers named handlers bindings can refer to by Method
func WithMethods(m Methods) ControllerOption {
	return func(o *controllerOptions) {
		for name, h := range m {
			o.methods[name] = h
		}
	}
}

// Controller is a Subscriber bound to a Bus. It resolves method names
// against its own handler table and removes all its listeners on Destroy.
type Controller struct {
	id  string
	bus *Bus

	// lifecycle serializes registration against Destroy
	lifecycle sync.Mutex

	mu      sync.RWMutex
	methods Methods
	state   ControllerState
	destroy sync.Once
}

// NewController creates a controller on bus
func NewController(bus *Bus, opts ...ControllerOption) *Controller {
	o := &controllerOptions{
		id:      NewID(),
		methods: make(Methods),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Controller{
		id:      o.id,
		bus:     bus,
		methods: o.methods,
	}
}

// OwnerID implements Subscriber
func (c *Controller) OwnerID() string {
	return c.id
}

// State returns the controller's lifecycle state
func (c *Controller) State() ControllerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Handle registers a named handler for Method bindings
func (c *Controller) Handle(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[name] = h
}

// Handler implements MethodResolver
func (c *Controller) Handler(name string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.methods.Handler(name)
}

// Listen registers bindings on several domains, keyed by domain type tag
func (c *Controller) Listen(domains map[string]Bindings) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.State() == StateDestroyed {
		return ErrControllerDestroyed
	}
	if err := c.bus.Listen(c, domains); err != nil {
		return err
	}
	c.markListening()
	return nil
}

// Control registers bindings on the bus's default domain
func (c *Controller) Control(bindings Bindings) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.State() == StateDestroyed {
		return ErrControllerDestroyed
	}
	if err := c.bus.Control(c, bindings); err != nil {
		return err
	}
	c.markListening()
	return nil
}

// Destroy removes every listener the controller registered. Later calls do nothing.
func (c *Controller) Destroy() {
	c.destroy.Do(func() {
		c.lifecycle.Lock()
		defer c.lifecycle.Unlock()
		c.mu.Lock()
		c.state = StateDestroyed
		c.mu.Unlock()
		c.bus.Unlisten(c.id)
	})
}

func (c *Controller) markListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUnregistered {
		c.state = StateListening
	}
}
