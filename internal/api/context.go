// ABOUTME: Request context key types and accessors for the api package.
// ABOUTME: Used by the auth middleware to inject the caller and by handlers to read it.
package api

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	ctxUserID contextKey = iota // uuid.UUID, authenticated user (token sub)
	ctxEmail                    // string, email claim, may be empty
)

// userIDFrom returns the authenticated user, or uuid.Nil outside the auth middleware.
func userIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxUserID).(uuid.UUID)
	return id
}
