// Package config loads the streaming engine's two configuration files:
// settings.yaml (brokerage endpoints, credentials, safety rails) and
// strategies.yaml (the list of strategy configs). Values of the form
// ${VAR} in settings are replaced from the environment at load time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings maps to settings.yaml.
type Settings struct {
	Alpaca  AlpacaConfig  `mapstructure:"alpaca"`
	Safety  SafetyConfig  `mapstructure:"safety"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AlpacaConfig holds brokerage endpoints and credentials. BaseURL is the
// trading REST endpoint (must be the paper endpoint when safety.paper_only
// is set); DataURL is the market-data WebSocket endpoint.
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	SecretKey string `mapstructure:"secret_key"`
	BaseURL   string `mapstructure:"base_url"`
	DataURL   string `mapstructure:"data_url"`
}

// SafetyConfig sets the order manager's hard limits.
//
//   - MaxPositionPct: cap on (position value + prospective buy) / equity.
//   - MaxOrdersPerMinute: submissions allowed in any trailing 60s window.
//   - CooldownSeconds: minimum gap between orders for the same symbol.
//   - PaperOnly: refuse to start against a non-paper trading endpoint.
type SafetyConfig struct {
	MaxPositionPct     float64 `mapstructure:"max_position_pct"`
	MaxOrdersPerMinute int     `mapstructure:"max_orders_per_minute"`
	CooldownSeconds    int     `mapstructure:"cooldown_seconds"`
	PaperOnly          bool    `mapstructure:"paper_only"`
}

// StoreConfig points at the dashboard store the engines record trades to.
type StoreConfig struct {
	APIURL string `mapstructure:"api_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StrategyConfig is one entry of strategies.yaml: a discriminated record
// whose Type selects the variant and whose Params carry the variant's
// recognized keys.
type StrategyConfig struct {
	Type            string             `mapstructure:"type"`
	Name            string             `mapstructure:"name"`
	Symbols         []string           `mapstructure:"symbols"`
	Params          map[string]float64 `mapstructure:"params"`
	PositionSizePct float64            `mapstructure:"position_size_pct"`
	CashAllocation  float64            `mapstructure:"cash_allocation"`
	Enabled         bool               `mapstructure:"enabled"`
	Cooldown        time.Duration      `mapstructure:"cooldown"`
}

// Load reads settings.yaml and strategies.yaml from the config directory.
func Load(dir string) (*Settings, []StrategyConfig, error) {
	settings, err := loadSettings(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		return nil, nil, err
	}
	strategies, err := loadStrategies(filepath.Join(dir, "strategies.yaml"))
	if err != nil {
		return nil, nil, err
	}
	return settings, strategies, nil
}

func loadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Defaults match the reference safety rails.
	v.SetDefault("alpaca.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("alpaca.data_url", "wss://stream.data.alpaca.markets/v2/iex")
	v.SetDefault("safety.max_position_pct", 0.25)
	v.SetDefault("safety.max_orders_per_minute", 10)
	v.SetDefault("safety.cooldown_seconds", 5)
	v.SetDefault("safety.paper_only", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	s.Alpaca.APIKey = ExpandEnv(s.Alpaca.APIKey)
	s.Alpaca.SecretKey = ExpandEnv(s.Alpaca.SecretKey)
	s.Alpaca.BaseURL = ExpandEnv(s.Alpaca.BaseURL)
	s.Alpaca.DataURL = ExpandEnv(s.Alpaca.DataURL)
	s.Store.APIURL = ExpandEnv(s.Store.APIURL)

	return &s, nil
}

func loadStrategies(path string) ([]StrategyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategies: %w", err)
	}

	var wrapper struct {
		Strategies []StrategyConfig `mapstructure:"strategies"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal strategies: %w", err)
	}
	return wrapper.Strategies, nil
}

// ExpandEnv replaces a whole-value ${VAR} token with the environment
// variable's value. Values that are not ${...} tokens pass through
// unchanged; an unset variable leaves the token in place so validation
// catches it.
func ExpandEnv(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	name := s[2 : len(s)-1]
	if val, ok := os.LookupEnv(name); ok {
		return val
	}
	return s
}

// Validate checks required settings fields.
func (s *Settings) Validate() error {
	if s.Alpaca.APIKey == "" || strings.HasPrefix(s.Alpaca.APIKey, "${") {
		return fmt.Errorf("alpaca.api_key is required (set ALPACA_API_KEY)")
	}
	if s.Alpaca.SecretKey == "" || strings.HasPrefix(s.Alpaca.SecretKey, "${") {
		return fmt.Errorf("alpaca.secret_key is required (set ALPACA_SECRET_KEY)")
	}
	if s.Alpaca.BaseURL == "" {
		return fmt.Errorf("alpaca.base_url is required")
	}
	if s.Alpaca.DataURL == "" {
		return fmt.Errorf("alpaca.data_url is required")
	}
	if s.Safety.MaxPositionPct <= 0 || s.Safety.MaxPositionPct > 1 {
		return fmt.Errorf("safety.max_position_pct must be in (0, 1]")
	}
	if s.Safety.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("safety.max_orders_per_minute must be > 0")
	}
	return nil
}
