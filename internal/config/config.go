package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// APIConfig configures the bourse-api process: trigger endpoints plus
// the player-facing order surface.
type APIConfig struct {
	Addr          string        `env:"BOURSE_API_ADDR" envDefault:":8080"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	RedisURL      string        `env:"REDIS_URL"`
	IdentityURL   string        `env:"IDENTITY_URL"`
	IdentityKey   string        `env:"IDENTITY_ANON_KEY"`
	TriggerSecret string        `env:"BOURSE_TRIGGER_SECRET"`
	MarketTZ      string        `env:"BOURSE_MARKET_TZ" envDefault:"UTC"`
	CloseHour     int           `env:"BOURSE_MARKET_CLOSE_HOUR" envDefault:"15"`
	CloseMinute   int           `env:"BOURSE_MARKET_CLOSE_MINUTE" envDefault:"30"`
	PriceCacheTTL time.Duration `env:"BOURSE_PRICE_CACHE_TTL" envDefault:"30s"`
	StartupSeed   bool          `env:"BOURSE_STARTUP_SEED" envDefault:"true"`
}

// WorkerConfig configures the bourse-worker process. The cron fields
// use six-field specs (with seconds); the close-of-day snapshot
// instant therefore lives here, not in code.
type WorkerConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	MarketTZ    string `env:"BOURSE_MARKET_TZ" envDefault:"UTC"`
	CloseHour   int    `env:"BOURSE_MARKET_CLOSE_HOUR" envDefault:"15"`
	CloseMinute int    `env:"BOURSE_MARKET_CLOSE_MINUTE" envDefault:"30"`
	OpenCron    string `env:"BOURSE_MARKET_OPEN_CRON" envDefault:"0 0 9 * * MON-FRI"`
	TickCron    string `env:"BOURSE_MARKET_TICK_CRON" envDefault:"0 * 9-15 * * MON-FRI"`
	NewsCron    string `env:"BOURSE_NEWS_CRON" envDefault:"0 */5 9-15 * * MON-FRI"`
	CloseCron   string `env:"BOURSE_MARKET_CLOSE_CRON" envDefault:"0 30 15 * * MON-FRI"`
	StartupSeed bool   `env:"BOURSE_STARTUP_SEED" envDefault:"true"`
	RunOnce     string `env:"BOURSE_WORKER_RUN_ONCE"`
}

type CLIConfig struct {
	APIBaseURL string `env:"BST_API_BASE_URL" envDefault:"http://localhost:8080"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.Addr = normalizeAddr(cfg.Addr)
	cfg.IdentityURL = strings.TrimRight(strings.TrimSpace(cfg.IdentityURL), "/")
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.IdentityURL == "" {
		return cfg, fmt.Errorf("IDENTITY_URL is required")
	}
	if strings.TrimSpace(cfg.TriggerSecret) == "" {
		return cfg, fmt.Errorf("BOURSE_TRIGGER_SECRET is required")
	}
	if cfg.CloseHour < 0 || cfg.CloseHour > 23 || cfg.CloseMinute < 0 || cfg.CloseMinute > 59 {
		return cfg, fmt.Errorf("invalid market close time %02d:%02d", cfg.CloseHour, cfg.CloseMinute)
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	_ = env.Parse(&cfg)
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}

// normalizeAddr honors the platform-injected PORT variable and makes
// sure a bare port carries a leading colon.
func normalizeAddr(addr string) string {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		addr = port
	}
	addr = strings.TrimSpace(addr)
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

// Location resolves the configured market timezone, falling back to
// UTC on a bad name rather than failing startup.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(name))
	if err != nil {
		return time.UTC
	}
	return loc
}
