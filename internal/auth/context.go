// Package auth carries the resolved session through a request context.
//
// This package is imported by both the middleware and handler packages
// without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/mediaproof/internal/session"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const sessionContextKey contextKey = "session"

// GetSession retrieves the signed-in session from the context.
//
// Returns nil if no session was resolved.
//
// Usage:
//
//	sess := auth.GetSession(r.Context())
//	if sess == nil {
//	    // Handle unauthenticated request
//	}
func GetSession(ctx context.Context) *session.Session {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	if !ok {
		return nil
	}
	return sess
}

// GetSessionFromRequest is GetSession on the request's context.
func GetSessionFromRequest(r *http.Request) *session.Session {
	return GetSession(r.Context())
}

// SetSession stores a session in the context.
func SetSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
