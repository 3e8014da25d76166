package domainbus

import (
	"context"
)

const (
	dispatchContextKey contextKey = iota
)

type dispatchContextData struct {
	domain  string
	event   string
	ownerID string
	target  Target
}

// contextKey
type contextKey int

// ContextEventName get the name of the event being dispatched
func ContextEventName(ctx context.Context) string {
	s, ok := ctx.Value(dispatchContextKey).(*dispatchContextData)
	if ok {
		return s.event
	}
	return ""
}

// ContextDomain get the type tag of the domain dispatching the event
func ContextDomain(ctx context.Context) string {
	s, ok := ctx.Value(dispatchContextKey).(*dispatchContextData)
	if ok {
		return s.domain
	}
	return ""
}

// ContextOwnerID get the owner id of the listener being invoked
func ContextOwnerID(ctx context.Context) string {
	s, ok := ctx.Value(dispatchContextKey).(*dispatchContextData)
	if ok {
		return s.ownerID
	}
	return ""
}

// ContextTarget get the target that fired the event
func ContextTarget(ctx context.Context) Target {
	s, ok := ctx.Value(dispatchContextKey).(*dispatchContextData)
	if ok {
		return s.target
	}
	return nil
}

func contextWithDispatch(ctx context.Context, domain, event, ownerID string, target Target) context.Context {
	return context.WithValue(ctx, dispatchContextKey, &dispatchContextData{
		domain:  domain,
		event:   event,
		ownerID: ownerID,
		target:  target,
	})
}

// NewContext copies dispatch data onto a context detached from ctx's cancellation
func NewContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
