package transport

import (
	"net/http"

	meshtrace "github.com/mcpmesh/agent-sdk-go/pkg/trace"
)

// traceMiddleware implements the inbound half of C9 (spec.md §4.9): clear
// any inherited context, then attempt extraction from the trace headers.
// When absent, the request context carries no trace context at all and
// the tool wrapper falls back to argument-map extraction, then finally to
// minting a root trace itself.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tc, ok := meshtrace.ExtractFromHeaders(r.Header); ok {
			ctx = meshtrace.WithContext(ctx, tc)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
