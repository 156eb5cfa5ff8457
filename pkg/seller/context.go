// Package seller carries the owning seller of a request through the context.
// Every stock entity is scoped to exactly one seller.
package seller

import (
	"context"
	"errors"
)

// contextKey is a private type for context keys to prevent collisions
type contextKey string

const sellerIDKey contextKey = "seller_id"

// ErrNoSellerInContext is returned when seller context is missing
var ErrNoSellerInContext = errors.New("no seller in context")

// WithSellerID adds the seller ID to the context.
// Called by middleware after reading the gateway-supplied header.
func WithSellerID(ctx context.Context, sellerID string) context.Context {
	return context.WithValue(ctx, sellerIDKey, sellerID)
}

// SellerID extracts the seller ID from context
// Returns ErrNoSellerInContext if it is not found
func SellerID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(sellerIDKey).(string)
	if !ok || id == "" {
		return "", ErrNoSellerInContext
	}
	return id, nil
}

// MustSellerID extracts the seller ID and panics if not found.
// Use only where a missing seller is a programming error.
func MustSellerID(ctx context.Context) string {
	id, err := SellerID(ctx)
	if err != nil {
		panic("seller ID not found in context")
	}
	return id
}
