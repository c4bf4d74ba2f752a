package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config — все настройки процесса. Источник только окружение; локальный
// .env подхватывается, если есть.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	// AES-ключ для хранения API-ключей, минимум 32 байта.
	EncryptionSecret string `envconfig:"ENCRYPTION_SECRET" required:"true"`
	JWTSecret        string `envconfig:"JWT_SECRET" required:"true"`

	// Токен общего TradingView-вебхука платформы.
	SystemWebhookToken string `envconfig:"SYSTEM_WEBHOOK_TOKEN" required:"true"`

	MetricsUser     string `envconfig:"METRICS_USER" default:"metrics"`
	MetricsPassword string `envconfig:"METRICS_PASSWORD" default:"metrics"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	// SOCKS5 прокси для трафика к биржам, опционально.
	ProxyAddr string `envconfig:"PROXY_ADDR"`

	WorkerCount       int           `envconfig:"WORKER_COUNT" default:"1"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"30s"`

	// Потолок плеча для всей платформы, настройки бота его не превышают.
	MaxLeverageCap int `envconfig:"MAX_LEVERAGE_CAP" default:"20"`
}

func Load() (*Config, error) {
	// .env опционален; в реальных деплоях окружение задается напрямую.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if len(cfg.EncryptionSecret) < 32 {
		return nil, fmt.Errorf("ENCRYPTION_SECRET must be at least 32 bytes, got %d", len(cfg.EncryptionSecret))
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}

	return &cfg, nil
}
