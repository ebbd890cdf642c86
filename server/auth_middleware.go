package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/order101-console/sessions"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// ContextKeySession stores the session a guarded request was admitted with
const ContextKeySession ContextKey = "session"

// SessionFromContext returns the session stored by the guard middleware.
func SessionFromContext(ctx context.Context) (sessions.Session, bool) {
	session, ok := ctx.Value(ContextKeySession).(sessions.Session)
	return session, ok
}

// RequireNavigation guards page routes. A redirect latched by the transport
// or the notification channel wins over the request; otherwise the route
// guard decides.
func (s *Server) RequireNavigation() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if target, ok := s.console.Latch.Take(); ok && target != r.URL.Path {
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}

			decision := s.console.Guard.Navigate(r.Context(), r.URL.Path)
			if !decision.Allow {
				http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, s.console.Store.Session())
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireSession is the JSON counterpart of RequireNavigation: a request
// without a live session gets 401 and the login path instead of a redirect.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			target, latched := s.console.Latch.Take()

			store := s.console.Store
			if !latched && store.Expired() {
				store.Refresh(r.Context())
			}
			if latched || !store.IsLive() {
				if target == "" {
					target = s.console.Guard.LoginPath()
				}
				writeJSON(w, http.StatusUnauthorized, errorResponse{
					Code:     "UNAUTHENTICATED",
					Message:  "login required",
					Redirect: target,
				})
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, store.Session())
			next(w, r.WithContext(ctx))
		}
	}
}
