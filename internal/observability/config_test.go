package observability

import (
	"testing"

	"github.com/kersonpank/treinepass-core/internal/config"
)

func TestLoadConfigDefaultsAndClamps(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: " production ",
		Observability: config.ObservabilityConfig{
			OtelEnabled:       true,
			OtelProtocol:      "HTTP/protobuf",
			OtelSamplingRatio: 3,
		},
	})

	if cfg.ServiceName != "treinepass" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("expected info/json defaults, got %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.OtelExporterProtocol != "http" {
		t.Fatalf("expected http protocol, got %q", cfg.OtelExporterProtocol)
	}
	if cfg.OtelSamplingRatio != 1 {
		t.Fatalf("expected ratio clamped to 1, got %v", cfg.OtelSamplingRatio)
	}
	if cfg.Debug() {
		t.Fatalf("production info logging should not be debug")
	}
	if !cfg.Tracing().Enabled || !cfg.Metrics().Enabled {
		t.Fatalf("expected otel enabled downstream")
	}
}

func TestDebugFollowsLevelAndEnvironment(t *testing.T) {
	if !(Config{Environment: "production", LogLevel: "DEBUG"}).Debug() {
		t.Fatalf("expected debug level to enable debug")
	}
	if !(Config{Environment: "local"}).Debug() {
		t.Fatalf("expected local environment to enable debug")
	}
	lc := (Config{Environment: "test", LogLevel: "warn"}).Logger()
	if !lc.IncludeStackOnError || lc.Level != "warn" {
		t.Fatalf("unexpected logger config %+v", lc)
	}
}
