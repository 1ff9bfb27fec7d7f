// Package correlation carries the id that ties one gateway delivery to every
// log line, span and reprocess run it produces.
package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Inbound headers checked in order. Mercado Pago stamps every notification
// with x-request-id; callers may pass their own X-Correlation-ID.
var inboundHeaders = []string{"X-Correlation-ID", "X-Request-Id"}

type ctxKey struct{}

// ID returns the correlation id stored on ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// With stores id on ctx. A blank id leaves ctx unchanged.
func With(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// Ensure keeps an existing id, otherwise adopts the first inbound header
// present and finally mints a ULID.
func Ensure(ctx context.Context, headers http.Header) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	for _, name := range inboundHeaders {
		if id := strings.TrimSpace(headers.Get(name)); id != "" && len(id) <= 128 {
			return With(ctx, id), id
		}
	}
	id := strings.ToLower(ulid.Make().String())
	return With(ctx, id), id
}
