package httpkit

import (
	"compress/flate"
	"net/http"
	"time"

	phttp "gantry/internal/platform/net/http"
	"gantry/internal/platform/net/middleware"
)

// CommonStack returns a baseline per module middleware slice
// compose with queue-specific middleware (SecureHeaderFor) as needed in main
func CommonStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		// tracing / correlation
		middleware.RequestID(),
		middleware.RealIP(),

		// safety
		middleware.RecoverJSON,

		// cache / freshness
		middleware.NoCache(),

		// observability
		middleware.Logger(),

		// cross-origin (tweak config in main if needed)
		middleware.CORS(middleware.CORSOptions{}),
		middleware.Compress(flate.BestSpeed),
		middleware.Heartbeat("/health"),
		middleware.RedirectSlashes(),
		middleware.StripSlashes(),
		middleware.Timeout(30 * time.Second),
	}
}

// SecureHeaderFor wires the admin surface's shared-secret header check to
// the platform JSON writer
func SecureHeaderFor(name, value string) func(http.Handler) http.Handler {
	return middleware.SecureHeader(name, value, phttp.JSON)
}
