package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type scopeKey struct{}

// Scope is a transactional unit of work carried in a context.
// tx is nil for engines that do not use SQL transactions.
type Scope struct {
	tx       *sqlx.Tx
	deferred Deferred
}

// Deferred is a list of actions to run after the owning scope commits
type Deferred []func(ctx context.Context)

// Run executes the actions in registration order
func (d Deferred) Run(ctx context.Context) {
	for _, fn := range d {
		fn(ctx)
	}
}

// NewScope attaches an empty scope to ctx. Used by non-SQL engines that
// implement WithinTx themselves.
func NewScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

// ScopeFrom returns the scope carried by ctx, or nil
func ScopeFrom(ctx context.Context) *Scope {
	if s, ok := ctx.Value(scopeKey{}).(*Scope); ok {
		return s
	}
	return nil
}

// Deferred returns the actions registered so far
func (s *Scope) Deferred() Deferred {
	return s.deferred
}

// InScope reports whether ctx carries an open scope
func InScope(ctx context.Context) bool {
	return ScopeFrom(ctx) != nil
}

// Defer registers fn to run after the scope in ctx commits.
// Without a scope there is nothing to wait for and fn runs immediately.
func Defer(ctx context.Context, fn func(ctx context.Context)) {
	if s := ScopeFrom(ctx); s != nil {
		s.deferred = append(s.deferred, fn)
		return
	}
	fn(ctx)
}
