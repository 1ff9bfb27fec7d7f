package tracing

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsPayload(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/webhook"),
		attribute.String("payload", "{}"),
		attribute.String("access_token", "secret"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "http.route" {
		t.Fatalf("expected http.route to be kept, got %s", attrs[0].Key)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	long := strings.Repeat("x", 400) + "\nsecond line"
	err := SafeError(errors.New(long))
	if len(err.Error()) != 256 {
		t.Fatalf("expected 256 chars, got %d", len(err.Error()))
	}
	if SafeError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
