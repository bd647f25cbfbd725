package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Headers set by the identity gateway in front of the service. They are trusted as given.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

type Principal struct {
	UserID  string
	IsAdmin bool
}

type principalKey struct{}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Identity reads the gateway headers; requests without a user id stay anonymous.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		p := Principal{
			UserID:  uid,
			IsAdmin: strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), "admin"),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			writeErr(w, http.StatusUnauthorized, orders.Code(orders.ErrUnauthorized), "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects before any handler (and so any mutation) runs.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeErr(w, http.StatusUnauthorized, orders.Code(orders.ErrUnauthorized), "authentication required")
			return
		}
		if !p.IsAdmin {
			writeErr(w, http.StatusForbidden, orders.Code(orders.ErrUnauthorized), "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
