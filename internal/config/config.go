package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketflow/perpcore/internal/engine"
	"github.com/marketflow/perpcore/internal/provider"
)

// RedisConfig configures the signal cache connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// PostgresConfig configures the audit store connection.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxConns     int           `yaml:"max_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	Enabled      bool          `yaml:"enabled"`
}

// HTTPConfig configures the metrics/health listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ProviderConfig configures the order book source wrappers.
type ProviderConfig struct {
	Breaker provider.BreakerConfig `yaml:"breaker"`
	RPS     float64                `yaml:"rps"`
	Burst   int                    `yaml:"burst"`
}

// Config is the full application configuration.
type Config struct {
	Symbol   string         `yaml:"symbol"`
	Engine   engine.Config  `yaml:"engine"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	HTTP     HTTPConfig     `yaml:"http"`
	Provider ProviderConfig `yaml:"provider"`
	LogLevel string         `yaml:"log_level"`
}

// Default returns the full production configuration.
func Default() Config {
	return Config{
		Symbol: "BTC-USDT-PERP",
		Engine: engine.DefaultConfig(),
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: PostgresConfig{
			DSN:          "postgres://localhost:5432/perpcore?sslmode=disable",
			MaxConns:     8,
			ConnLifetime: 30 * time.Minute,
			QueryTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Provider: ProviderConfig{
			Breaker: provider.DefaultBreakerConfig(),
			RPS:     5.0,
			Burst:   10,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. Absent keys keep their default
// values; an empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
