package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN,required"`
	TelegramPollTimeout int    `env:"TELEGRAM_POLL_TIMEOUT,default=60"`

	DBHost            string        `env:"DB_HOST,required"`
	DBPort            int           `env:"DB_PORT,default=5432"`
	DBUser            string        `env:"DB_USER,required"`
	DBPassword        string        `env:"DB_PASSWORD,required"`
	DBName            string        `env:"DB_NAME,required"`
	DBSSLMode         string        `env:"DB_SSLMODE,default=disable"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=10"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=30m"`

	TTCRegion        string        `env:"TTC_REGION,default=eu"`
	TTCTimeout       time.Duration `env:"TTC_TIMEOUT,default=30s"`
	ChallengeTimeout time.Duration `env:"CHALLENGE_TIMEOUT,default=90s"`
	DevtoolsURL      string        `env:"DEVTOOLS_URL,default=http://127.0.0.1:9222"`
	CacheDir         string        `env:"CACHE_DIR,default=cache"`

	CheckInterval    time.Duration `env:"CHECK_INTERVAL,default=5m"`
	AlertCooldown    time.Duration `env:"ALERT_COOLDOWN,default=10m"`
	MonitorFailLimit int           `env:"MONITOR_FAIL_LIMIT,default=3"`
	MonitorWorkers   int           `env:"MONITOR_WORKERS,default=4"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	ListingCacheTTL time.Duration `env:"LISTING_CACHE_TTL,default=2m"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
