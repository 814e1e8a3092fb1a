package middleware

import (
	"net/http"

	perr "gantry/internal/platform/errors"
	pnet "gantry/internal/platform/net"
)

// SecureHeader rejects any request that doesn't carry the expected header
// value (the admin REST surface's access control mechanism). An empty
// name disables the check entirely — no-op until a queue configures one
func SecureHeader(name, value string, write func(w http.ResponseWriter, status int, body any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if name == "" {
				next.ServeHTTP(w, r)
				return
			}
			if got := r.Header.Get(name); got != value {
				err := perr.Forbiddenf("missing or invalid %s header", name)
				status, body := pnet.Error(err, pnet.RequestID(r.Context()))
				write(w, status, body)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
