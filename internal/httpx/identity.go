package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-secure-checkout/internal/apperr"
	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/orders"
	"go.uber.org/zap"
)

// Identity headers are set by the authenticating proxy in front of the API.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	RoleAdmin      = "admin"
)

type identityKey struct{}

// authenticated rejects requests without a caller identity.
func authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Message: "missing caller identity"})
			return
		}
		v := orders.Viewer{UserID: id, Admin: strings.EqualFold(r.Header.Get(HeaderUserRole), RoleAdmin)}
		ctx := context.WithValue(r.Context(), identityKey{}, v)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx, nil).With(zap.String("user_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminOnly must run after authenticated.
func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !viewer(r).Admin {
			writeError(w, r, apperr.New(apperr.CodeForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func viewer(r *http.Request) orders.Viewer {
	v, _ := r.Context().Value(identityKey{}).(orders.Viewer)
	return v
}
