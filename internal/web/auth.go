package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"campuslib/internal/apperr"
)

// RoleLibrarian is the role allowed to act on behalf of other users.
const RoleLibrarian = "librarian"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// CanActFor reports whether the principal may act on userID's records.
func (p Principal) CanActFor(userID uuid.UUID) bool {
	return p.UserID == userID || p.Role == RoleLibrarian
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// TokenParser turns a bearer token into a principal.
type TokenParser func(token string) (Principal, error)

// Authenticate rejects requests without a valid bearer token.
func Authenticate(parse TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if header == "" || token == header {
				Error(w, r, apperr.ErrUnauthorized)
				return
			}
			p, err := parse(token)
			if err != nil {
				Error(w, r, apperr.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole admits only principals with the given role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				Error(w, r, apperr.ErrUnauthorized)
				return
			}
			if p.Role != role {
				Error(w, r, apperr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Actor returns the principal and checks it may act for userID.
func Actor(r *http.Request, userID uuid.UUID) (Principal, error) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		return Principal{}, apperr.ErrUnauthorized
	}
	if !p.CanActFor(userID) {
		return Principal{}, apperr.ErrForbidden
	}
	return p, nil
}
