package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// A zero Tx means "run against the base handle".
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// New returns a transactionless Context for a single persistence scope.
func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}
