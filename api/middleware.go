package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"fidexa/auth"
)

type contextKey string

const principalContextKey = contextKey("principal")

// authMiddleware validates the bearer JWT and injects the principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			respondWithMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			respondWithMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok {
			respondWithMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		allowed, err := s.access.IsProvider(r.Context(), p)
		if err != nil {
			s.respondWithError(w, r, err)
			return
		}
		if !allowed {
			respondWithMessage(w, http.StatusForbidden, "provider role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFromContext(r.Context())
		if !ok {
			respondWithMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		allowed, err := s.access.IsAdmin(r.Context(), p)
		if err != nil {
			s.respondWithError(w, r, err)
			return
		}
		if !allowed {
			respondWithMessage(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// internalKeyMiddleware guards service-to-service routes. An unset key
// rejects every call.
func internalKeyMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				respondWithMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(auth.Principal)
	return p, ok && p.UserID != ""
}
