package auth

import (
	"context"
	"log/slog"
	"net/http"
)

// Realm is announced in WWW-Authenticate challenges.
const Realm = "Authorization Required"

type ctxKey struct{}

// Checker validates a name and password.
type Checker interface {
	Check(name, password string) bool
}

// Middleware rejects requests without valid Basic credentials. The
// authenticated name is available to next through Username.
func Middleware(c Checker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, pass, ok := r.BasicAuth()
		if !ok || name == "" || pass == "" || !c.Check(name, pass) {
			if ok {
				slog.InfoContext(r.Context(), "Rejected credentials", "user", name)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, name)))
	})
}

// Username returns the authenticated user, or "" outside Middleware.
func Username(ctx context.Context) string {
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
