package context

import (
	stdcontext "context"
	"strings"
)

type requestIDKey struct{}
type providerKey struct{}

// WithRequestID stores the inbound request id on the context.
func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithProvider records the payment gateway handling the current request.
func WithProvider(ctx stdcontext.Context, provider string) stdcontext.Context {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, providerKey{}, provider)
}

func ProviderFromContext(ctx stdcontext.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(providerKey{}).(string)
	return value
}
