// Package middleware contains HTTP middleware for the MediaProof API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DukeRupert/mediaproof/internal/auth"
	"github.com/DukeRupert/mediaproof/internal/handler"
	"github.com/DukeRupert/mediaproof/internal/session"
)

// IdentityParam is the chi URL parameter naming the signed-in identity.
const IdentityParam = "identity"

// SessionMiddleware resolves the identity in the request path to a session.
type SessionMiddleware struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware instance.
func NewSessionMiddleware(sessions *session.Manager, logger *slog.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		sessions: sessions,
		logger:   logger,
	}
}

// RequireSession loads the session named by the {identity} URL parameter
// and stores it in the request context. Identities that never signed in
// get a 401 with code not_authenticated.
//
// Handlers behind this middleware can rely on auth.GetSessionFromRequest
// returning a non-nil session.
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, IdentityParam)

		sess, err := m.sessions.Session(r.Context(), raw)
		if err != nil {
			handler.ErrorResponse(w, r, m.logger, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetSession(r.Context(), sess)))
	})
}
