package auth

import (
	"context"
	"net/http"

	"github.com/go-chi/render"
)

type contextKey string

const ClaimsContextKey = contextKey("claims")

func WithClaims(ctx context.Context, claims *AppClaims) context.Context {
	return context.WithValue(ctx, ClaimsContextKey, claims)
}

func ClaimsFromContext(ctx context.Context) (*AppClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*AppClaims)
	return claims, ok && claims != nil
}

// HandleMe returns the caller's profile.
func HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"error": "Authentication required", "code": "AUTHENTICATION_REQUIRED"})
		return
	}

	render.JSON(w, r, map[string]any{"user": claims.Profile()})
}
