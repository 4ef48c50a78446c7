package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/fjod/go_cart/techstore-cart/internal/service"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	SessionHeader   = "x-session-id"
	RequestIDHeader = "X-Request-ID"

	maxSessionIDLen = 128
)

type ctxKey int

const identityKey ctxKey = iota

// TokenVerifier decodes a bearer token into the user id it was issued for.
type TokenVerifier interface {
	UserID(token string) (string, error)
}

// IdentityMiddleware attaches the caller's Identity to the request context.
// A bearer token that fails verification is rejected outright rather than
// falling back to the anonymous session.
func IdentityMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id service.Identity

			if authz := r.Header.Get("Authorization"); authz != "" {
				token, ok := strings.CutPrefix(authz, "Bearer ")
				if !ok || strings.TrimSpace(token) == "" {
					respondError(w, http.StatusUnauthorized, "unauthorized", "malformed authorization header")
					return
				}
				userID, err := verifier.UserID(strings.TrimSpace(token))
				if err != nil {
					respondError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired token")
					return
				}
				id.UserID = userID
			}

			id.SessionID = strings.TrimSpace(r.Header.Get(SessionHeader))
			if len(id.SessionID) > maxSessionIDLen {
				respondError(w, http.StatusBadRequest, "invalid_session_id", "session id is too long")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func WithIdentity(ctx context.Context, id service.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFromContext(ctx context.Context) service.Identity {
	id, _ := ctx.Value(identityKey).(service.Identity)
	return id
}

// RequestIDMiddleware adds a unique request ID to each request and echoes it
// back. The id is stored under chi's key so middleware.Logger prints it.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
