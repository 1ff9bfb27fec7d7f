package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	GatewayAsaas       = "asaas"
	GatewayMercadoPago = "mercadopago"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SnowflakeNode int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	// DBAutoMigrate applies the embedded schema at startup. Postgres is the
	// production dialect; sqlite gets an equivalent local schema and mysql
	// requires the schema to be provisioned externally with this disabled.
	DBAutoMigrate bool

	AdminAPIKey string

	Gateway       GatewayConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// GatewayConfig selects the active payment gateway and carries the
// credentials of every supported one.
type GatewayConfig struct {
	Active      string
	Corroborate bool
	TimeoutSec  int

	Asaas       AsaasConfig
	MercadoPago MercadoPagoConfig
}

type AsaasConfig struct {
	APIKey       string
	BaseURL      string
	WebhookToken string
}

type MercadoPagoConfig struct {
	AccessToken   string
	BaseURL       string
	WebhookSecret string
	NotifyURL     string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WebhookRate   float64
	WebhookBurst  int

	ReprocessLockSec int
}

// ObservabilityConfig carries logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

// Load loads configuration from environment variables, a .env file and the
// optional treinepass.yml overlay.
func Load() Config {
	_ = godotenv.Load()

	redisAddr := strings.TrimSpace(getenv("REDIS_ADDR", ""))

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "treinepass"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "treinepass"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		AdminAPIKey:       strings.TrimSpace(getenv("ADMIN_API_KEY", "")),
		Gateway: GatewayConfig{
			Active:      NormalizeGateway(getenv("PAYMENT_GATEWAY", GatewayAsaas)),
			Corroborate: getenvBool("GATEWAY_CORROBORATE", false),
			TimeoutSec:  int(getenvInt64("GATEWAY_TIMEOUT_SECONDS", 15)),
			Asaas: AsaasConfig{
				APIKey:       strings.TrimSpace(getenv("ASAAS_API_KEY", "")),
				BaseURL:      strings.TrimSpace(getenv("ASAAS_BASE_URL", "https://api-sandbox.asaas.com/v3")),
				WebhookToken: strings.TrimSpace(getenv("ASAAS_WEBHOOK_TOKEN", "")),
			},
			MercadoPago: MercadoPagoConfig{
				AccessToken:   strings.TrimSpace(getenv("MERCADOPAGO_ACCESS_TOKEN", "")),
				BaseURL:       strings.TrimSpace(getenv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com")),
				WebhookSecret: strings.TrimSpace(getenv("MERCADOPAGO_WEBHOOK_SECRET", "")),
				NotifyURL:     strings.TrimSpace(getenv("MERCADOPAGO_NOTIFICATION_URL", "")),
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:       redisAddr != "",
			RedisAddr:     redisAddr,
			RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:       int(getenvInt64("REDIS_DB", 0)),
			WebhookRate:   getenvFloat("WEBHOOK_RATE_LIMIT", 20),
			WebhookBurst:  int(getenvInt64("WEBHOOK_RATE_BURST", 40)),

			ReprocessLockSec: int(getenvInt64("REPROCESS_LOCK_TTL_SECONDS", 30)),
		},
	}

	cfg.Environment = strings.TrimSpace(getenv("DEPLOYMENT_ENV", cfg.Environment))
	cfg.Observability = ObservabilityConfig{
		LogLevel:          strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:         strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OtelEnabled:       getenvBool("OTEL_ENABLED", !IsDevEnvironment(cfg.Environment)),
		OtelEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		OtelProtocol:      strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
		OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}

	return applyOverlay(cfg, overlayPaths...)
}

// NormalizeGateway lowercases the gateway name and folds the common
// spellings of Mercado Pago into one key.
func NormalizeGateway(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "mercado_pago", "mercado-pago", "mp":
		return GatewayMercadoPago
	default:
		return value
	}
}

// IsDevEnvironment reports whether env names a local or test deployment.
func IsDevEnvironment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
