// Package events carries domain events from the mutation-commit path to the
// cache invalidation handler. Delivery is at-least-once over an in-process
// buffered channel; handlers must therefore be idempotent.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserMutated fires after any update to a user record.
type UserMutated struct {
	UserID string `json:"user_id"`
}

// RoleDataScopeReassigned fires after a role's data grants are replaced.
type RoleDataScopeReassigned struct {
	RoleID string `json:"role_id"`
}

// UserDataScopeReassigned fires after a user's own data grants are replaced.
type UserDataScopeReassigned struct {
	UserID string `json:"user_id"`
}

// Envelope wraps an event payload with its identity and timestamp. The ID
// lets handlers and logs correlate redeliveries of the same event.
type Envelope struct {
	ID         string      `json:"id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NewEnvelope wraps a payload in a fresh envelope.
func NewEnvelope(payload interface{}) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		OccurredAt: time.Now(),
		Payload:    payload,
	}
}

// Name returns a stable name for the payload type, used in logs and metrics.
func (e Envelope) Name() string {
	switch e.Payload.(type) {
	case UserMutated:
		return "user.mutated"
	case RoleDataScopeReassigned:
		return "role.data_scope_reassigned"
	case UserDataScopeReassigned:
		return "user.data_scope_reassigned"
	default:
		return "unknown"
	}
}

// Handler consumes envelopes. Returning an error triggers redelivery up to
// the bus retry limit, so handlers must tolerate duplicates.
type Handler interface {
	Handle(ctx context.Context, ev Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Envelope) error

// Handle calls the function.
func (f HandlerFunc) Handle(ctx context.Context, ev Envelope) error {
	return f(ctx, ev)
}
