package infra

import (
	"fmt"
	"os"

	"trade_desk/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the application.
// LoadConfig reads it from YAML, then lets environment variables override secrets.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr            string `yaml:"addr"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret        string `yaml:"jwt_secret"`
		TokenTTLMin      int    `yaml:"token_ttl_min"`
		OperatorUsername string `yaml:"operator_username"`
		OperatorSecret   string `yaml:"operator_secret"`
		BcryptCost       int    `yaml:"bcrypt_cost"`
	} `yaml:"auth"`

	Storage struct {
		Driver string `yaml:"driver"` // sqlite, postgres, memory
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Market struct {
		Pairs          map[string]decimal.Decimal `yaml:"pairs"` // pair -> initial price
		TickIntervalMS int                        `yaml:"tick_interval_ms"`
		Volatility     decimal.Decimal            `yaml:"volatility"`
		FeedWSURL      string                     `yaml:"feed_ws_url"`
	} `yaml:"market"`

	Realtime struct {
		SendBuffer      int `yaml:"send_buffer"`
		AuthTimeoutSec  int `yaml:"auth_timeout_sec"`
		PingIntervalSec int `yaml:"ping_interval_sec"`
	} `yaml:"realtime"`

	Assets struct {
		IconDir     string `yaml:"icon_dir"`
		IconBaseURL string `yaml:"icon_base_url"`
		SyncIcons   bool   `yaml:"sync_icons"`
	} `yaml:"assets"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used for every field the YAML file omits.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "trade-desk"
	cfg.App.Version = "dev"
	cfg.Server.Addr = ":3000"
	cfg.Server.ReadTimeoutSec = 10
	cfg.Server.WriteTimeoutSec = 15
	cfg.Auth.TokenTTLMin = 24 * 60
	cfg.Auth.OperatorUsername = "admin"
	cfg.Auth.BcryptCost = 10
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "data/trade_desk.db"
	cfg.Market.Pairs = map[string]decimal.Decimal{
		"BTC/EUR":  decimal.NewFromInt(50000),
		"ETH/EUR":  decimal.NewFromInt(3000),
		"USDT/EUR": decimal.RequireFromString("0.92"),
		"XRP/EUR":  decimal.RequireFromString("0.5"),
		"LTC/EUR":  decimal.NewFromInt(80),
	}
	cfg.Market.TickIntervalMS = 2000
	cfg.Market.Volatility = decimal.RequireFromString("0.005")
	cfg.Realtime.SendBuffer = 64
	cfg.Realtime.AuthTimeoutSec = 10
	cfg.Realtime.PingIntervalSec = 30
	cfg.Assets.IconDir = "assets/icons"
	cfg.Assets.IconBaseURL = "https://assets.coincap.io/assets/icons"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads and parses the configuration file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	defaultPairs := cfg.Market.Pairs
	cfg.Market.Pairs = nil // yaml merges into a non-nil map
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Market.Pairs) == 0 {
		cfg.Market.Pairs = defaultPairs
	}

	// Secrets never need to live in the file
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: fmt.Errorf("must not be empty")}
	}

	if c.Auth.OperatorSecret == "" {
		return &domain.ConfigError{Field: "auth.operator_secret", Err: fmt.Errorf("must not be empty")}
	}
	if c.Auth.OperatorUsername == "" {
		return &domain.ConfigError{Field: "auth.operator_username", Err: fmt.Errorf("must not be empty")}
	}
	if c.Auth.TokenTTLMin <= 0 {
		return &domain.ConfigError{Field: "auth.token_ttl_min", Err: fmt.Errorf("must be positive")}
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return &domain.ConfigError{Field: "storage.dsn", Err: fmt.Errorf("required for driver %s", c.Storage.Driver)}
		}
	case "memory":
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", c.Storage.Driver)}
	}

	for pair, price := range c.Market.Pairs {
		if _, err := domain.ParsePair(pair); err != nil {
			return &domain.ConfigError{Field: "market.pairs", Err: err}
		}
		if !price.IsPositive() {
			return &domain.ConfigError{Field: "market.pairs", Err: fmt.Errorf("initial price for %s must be positive", pair)}
		}
	}
	if c.Market.TickIntervalMS <= 0 {
		return &domain.ConfigError{Field: "market.tick_interval_ms", Err: fmt.Errorf("must be positive")}
	}
	if c.Market.FeedWSURL != "" && !hasPrefix(c.Market.FeedWSURL, "ws://") && !hasPrefix(c.Market.FeedWSURL, "wss://") {
		return &domain.ConfigError{Field: "market.feed_ws_url", Err: fmt.Errorf("invalid WS URL: %s", c.Market.FeedWSURL)}
	}

	if c.Realtime.SendBuffer <= 0 {
		return &domain.ConfigError{Field: "realtime.send_buffer", Err: fmt.Errorf("must be positive")}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces config values with environment variables when set.
func overrideWithEnv(cfg *Config) {
	if secret := os.Getenv("TRADE_DESK_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("TRADE_DESK_OPERATOR_SECRET"); secret != "" {
		cfg.Auth.OperatorSecret = secret
	}
	if dsn := os.Getenv("TRADE_DESK_DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if addr := os.Getenv("TRADE_DESK_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}
