package domainbus

import (
	"errors"
	"fmt"
)

// Handler result sentinel errors.
// Use errors.Is() to check for these errors as they may be wrapped with additional context.
//
// Example usage:
//
//	func onSave(ctx context.Context, target domainbus.Target, args ...any) error {
//	    if !valid(args) {
//	        // Stop dispatch: no later listener sees this firing
//	        return domainbus.ErrHalt
//	    }
//	    return nil
//	}
var (
	// ErrHalt stops the current dispatch. Dispatch reports false with no error,
	// and no later listener in the chain is invoked.
	ErrHalt = errors.New("halt: stop dispatching this event")
)

// Registration errors
var (
	ErrDomainExists    = errors.New("domain already registered")
	ErrUnknownDomain   = errors.New("unknown domain")
	ErrNilHandler      = errors.New("binding has no handler")
	ErrHandlerNotFound = errors.New("handler method not found")
	ErrEmptyEventName  = errors.New("event name is empty")
	ErrEmptyOwnerID    = errors.New("subscriber owner id is empty")
	ErrEmptyTypeTag    = errors.New("domain type tag is empty")
	ErrNilRegistry     = errors.New("registry is required")

	ErrControllerDestroyed = errors.New("controller is destroyed")
)

// Halt wraps an error to signal that dispatch should stop without failing.
// The original error is preserved for logging.
func Halt(err error) error {
	if err == nil {
		return ErrHalt
	}
	return fmt.Errorf("%w: %v", ErrHalt, err)
}

// IsHalt reports whether err asks dispatch to stop
func IsHalt(err error) bool {
	return errors.Is(err, ErrHalt)
}

// HandlerError records which listener failed during a dispatch.
// The wrapped error is the one the handler returned.
type HandlerError struct {
	Domain  string
	Event   string
	OwnerID string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("domain %q: listener %q for event %q: %v", e.Domain, e.OwnerID, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsHandlerError checks if an error came from a dispatched handler.
func IsHandlerError(err error) bool {
	var hErr *HandlerError
	return errors.As(err, &hErr)
}
