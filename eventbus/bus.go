package eventbus

import "context"

// Handler reacts to an event. The context carries the event's correlation id.
type Handler func(ctx context.Context, ev EmittedEvent) error

// Subscription is a registered handler.
type Subscription interface {
	Unsubscribe()
}

// Bus is a typed publish/subscribe channel between decoupled services.
//
// Emit dispatches synchronously, one handler after another; handler errors are
// logged and swallowed, so every handler is responsible for its own failures.
// It reports whether any subscriber existed.
//
// EmitAsync runs every handler concurrently and waits until all of them
// settled; handler errors are logged and returned joined.
//
// An empty correlationID is taken from ctx, or freshly generated. Handlers
// must pass ev.CorrelationID along when emitting follow-up events.
type Bus interface {
	Emit(ctx context.Context, topic Topic, payload any, source string, correlationID string) bool
	EmitAsync(ctx context.Context, topic Topic, payload any, source string, correlationID string) error
	Subscribe(topic Topic, name string, h Handler) Subscription
}
