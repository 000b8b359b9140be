// Package notify delivers domain events to interested parties after a
// workflow transition commits. Delivery is fire-and-forget: a failed
// publish never rolls back the transition that produced it.
package notify

import "context"

// Event is a committed workflow fact worth telling someone about.
type Event struct {
	Subject  string         `json:"-"`
	Kind     string         `json:"kind"`
	EntityID string         `json:"entity_id"`
	ActorID  string         `json:"actor_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Notifier fans committed events out to a sink.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Noop drops every event. Used in unit tests and when no broker is
// configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, ev Event) error { return nil }
