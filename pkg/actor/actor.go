// Package actor identifies the user or system performing a stock operation.
//
// The actor is recorded on movements, mixed lots and audit documents
// (performed_by / created_by).
package actor

import (
	"context"
	"fmt"
)

// SystemID is the actor ID used for scheduled and consumer-driven operations
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the unique identifier of the actor (user ID)
	ID string `json:"id"`

	// Name is a display name, optional
	Name string `json:"name,omitempty"`

	// Email is the actor's email address
	Email string `json:"email,omitempty"`

	// SellerID is the seller the actor works for
	SellerID string `json:"seller_id,omitempty"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	if a.Email == "" {
		return a.ID
	}
	return fmt.Sprintf("%s (%s)", a.ID, a.Email)
}

// Ref is the value stored in performed_by / created_by columns
func (a *Actor) Ref() string {
	if a == nil {
		return SystemID
	}
	return a.ID
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// RefFromContext returns the acting user's ID, or SystemID when none is set.
func RefFromContext(ctx context.Context) string {
	return FromContext(ctx).Ref()
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// SystemActor returns an Actor representing the system itself.
// Use this for the expiry sweeper and message consumers.
func SystemActor() *Actor {
	return &Actor{
		ID:    SystemID,
		Name:  "System",
		Email: "system@freshstock.local",
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == SystemID
}
