package config

import (
	"errors"
	"log"
	"strings"

	"github.com/spf13/viper"
)

var overlayPaths = []string{
	"/etc/treinepass", // System config
	".",               // Current directory (dev mode)
}

// applyOverlay layers values from treinepass.yml over the environment. Keys
// absent from the file keep their environment value.
func applyOverlay(cfg Config, paths ...string) Config {
	v := viper.New()
	v.SetConfigName("treinepass")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Printf("[config] overlay ignored: %v", err)
		}
		return cfg
	}

	overrideString(v, "http.addr", &cfg.HTTPAddr)
	overrideString(v, "gateway.active", &cfg.Gateway.Active)
	overrideBool(v, "gateway.corroborate", &cfg.Gateway.Corroborate)
	overrideInt(v, "gateway.timeout_seconds", &cfg.Gateway.TimeoutSec)
	overrideString(v, "gateway.asaas.base_url", &cfg.Gateway.Asaas.BaseURL)
	overrideString(v, "gateway.mercadopago.base_url", &cfg.Gateway.MercadoPago.BaseURL)
	overrideString(v, "gateway.mercadopago.notification_url", &cfg.Gateway.MercadoPago.NotifyURL)
	overrideFloat(v, "ratelimit.webhook_rate", &cfg.RateLimit.WebhookRate)
	overrideInt(v, "ratelimit.webhook_burst", &cfg.RateLimit.WebhookBurst)
	overrideString(v, "log.level", &cfg.Observability.LogLevel)
	overrideString(v, "log.format", &cfg.Observability.LogFormat)
	overrideBool(v, "otel.enabled", &cfg.Observability.OtelEnabled)
	overrideFloat(v, "otel.sampling_ratio", &cfg.Observability.OtelSamplingRatio)

	cfg.Gateway.Active = NormalizeGateway(cfg.Gateway.Active)
	log.Printf("[config] overlay loaded from %s", v.ConfigFileUsed())
	return cfg
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if !v.IsSet(key) {
		return
	}
	if value := strings.TrimSpace(v.GetString(key)); value != "" {
		*dst = value
	}
}

func overrideBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

func overrideInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func overrideFloat(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}
