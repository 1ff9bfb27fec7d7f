package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactCoreMasksSensitiveFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(redactCore{core}).With(zap.String("api_key", "live-key"))

	log.Info("customer created",
		zap.String("document", "12345678909"),
		zap.String("Email", "ana@example.com"),
		zap.String("provider", "asaas"),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"api_key", "document", "Email"} {
		if fields[key] != redacted {
			t.Fatalf("expected %s to be redacted, got %v", key, fields[key])
		}
	}
	if fields["provider"] != "asaas" {
		t.Fatalf("expected provider to be kept, got %v", fields["provider"])
	}
}

func TestRedactFieldsKeepsSliceWhenClean(t *testing.T) {
	fields := []zapcore.Field{zap.String("event_type", "PAYMENT_CONFIRMED")}
	if got := redactFields(fields); &got[0] != &fields[0] {
		t.Fatalf("expected original slice to be returned")
	}
}
