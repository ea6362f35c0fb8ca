package main

import (
	"log/slog"
	"time"

	"github.com/dkoval/creditledger/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"APP_PORT" envDefault:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" envDefault:"INFO"`
	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CatalogPath     string        `env:"APP_CATALOG_PATH" envDefault:""`
	RateWindow      time.Duration `env:"APP_RATE_WINDOW" envDefault:"1m"`
	BulkSendDelay   time.Duration `env:"APP_BULK_SEND_DELAY" envDefault:"100ms"`
	ProviderBaseURL string        `env:"APP_PROVIDER_BASE_URL"`
	ProviderTimeout time.Duration `env:"APP_PROVIDER_TIMEOUT" envDefault:"60s"`
	Postgres        config.PostgresConfig
}
