package otel

import (
	"net/http"
	"slices"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware returns chi middleware that traces and meters HTTP requests.
// Requests to the skipped paths (health probes, long-lived WebSocket and MCP
// streams) are passed through untraced.
func HTTPMiddleware(serviceName string, skipPaths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithFilter(func(r *http.Request) bool {
				return !slices.Contains(skipPaths, r.URL.Path)
			}),
		)
	}
}
