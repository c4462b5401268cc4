// Package config loads the engine settings from YAML.
package config

import (
	"io"
	"os"
	"strings"

	"github.com/DomeLiquid/risk/core"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Risk    RiskConfig    `yaml:"risk"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// RiskConfig mirrors core.RiskConfig. Decimals are kept as strings so that
// YAML floats never lose precision.
type RiskConfig struct {
	ExpiringLiquidationWindow int64  `yaml:"expiring_liquidation_window"`
	DustThreshold             string `yaml:"dust_threshold"`
	MaxTokenPositions         int    `yaml:"max_token_positions"`
	OracleMaxAge              int64  `yaml:"oracle_max_age"`
	OracleMaxConfidence       string `yaml:"oracle_max_confidence"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Default() *Config {
	risk := core.DefaultRiskConfig()
	return &Config{
		Risk: RiskConfig{
			ExpiringLiquidationWindow: risk.ExpiringLiquidationWindow,
			DustThreshold:             risk.DustThreshold.String(),
			MaxTokenPositions:         risk.MaxTokenPositions,
			OracleMaxAge:              risk.OracleMaxAge,
			OracleMaxConfidence:       risk.OracleMaxConfidence.String(),
		},
		Store: StoreConfig{
			DSN: "file:risk.db?cache=shared",
		},
		Metrics: MetricsConfig{
			Listen: ":9100",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file on top of Default. ${VAR} references are expanded
// from the environment before parsing.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.Risk.ExpiringLiquidationWindow <= 0 {
		problems = append(problems, "risk.expiring_liquidation_window must be positive")
	}
	if c.Risk.MaxTokenPositions <= 0 || c.Risk.MaxTokenPositions > 64 {
		problems = append(problems, "risk.max_token_positions must be in [1, 64]")
	}
	if c.Risk.OracleMaxAge < 0 {
		problems = append(problems, "risk.oracle_max_age must not be negative")
	}
	if v, err := decimal.NewFromString(c.Risk.DustThreshold); err != nil || v.IsNegative() {
		problems = append(problems, "risk.dust_threshold must be a non-negative decimal")
	}
	if v, err := decimal.NewFromString(c.Risk.OracleMaxConfidence); err != nil || v.IsNegative() {
		problems = append(problems, "risk.oracle_max_confidence must be a non-negative decimal")
	}
	if c.Store.DSN == "" {
		problems = append(problems, "store.dsn is required")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		problems = append(problems, "metrics.listen is required when metrics are enabled")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		problems = append(problems, "log.level is not a known level")
	}

	if len(problems) > 0 {
		return errors.Errorf("invalid config:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// RiskParams converts the risk section into the engine's form. Call Validate
// first.
func (c *Config) RiskParams() core.RiskConfig {
	return core.RiskConfig{
		ExpiringLiquidationWindow: c.Risk.ExpiringLiquidationWindow,
		DustThreshold:             decimal.RequireFromString(c.Risk.DustThreshold),
		MaxTokenPositions:         c.Risk.MaxTokenPositions,
		OracleMaxAge:              c.Risk.OracleMaxAge,
		OracleMaxConfidence:       decimal.RequireFromString(c.Risk.OracleMaxConfidence),
	}
}

func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.Log.Pretty {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
