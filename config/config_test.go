package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/DomeLiquid/risk/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	risk := cfg.RiskParams()
	expected := core.DefaultRiskConfig()
	assert.Equal(t, expected.ExpiringLiquidationWindow, risk.ExpiringLiquidationWindow)
	assert.Equal(t, expected.MaxTokenPositions, risk.MaxTokenPositions)
	assert.True(t, expected.DustThreshold.Equal(risk.DustThreshold))
	assert.True(t, expected.OracleMaxConfidence.Equal(risk.OracleMaxConfidence))
}

func TestLoad(t *testing.T) {
	t.Setenv("RISK_TEST_DSN", "file::memory:?cache=shared")

	content := `risk:
  expiring_liquidation_window: 7200
  dust_threshold: "0.000001"
  oracle_max_confidence: "0.05"
store:
  dsn: "${RISK_TEST_DSN}"
log:
  level: debug
`
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file::memory:?cache=shared", cfg.Store.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)

	risk := cfg.RiskParams()
	assert.Equal(t, int64(7200), risk.ExpiringLiquidationWindow)
	assert.Equal(t, "0.000001", risk.DustThreshold.String())
	assert.Equal(t, "0.05", risk.OracleMaxConfidence.String())
	// untouched keys keep their defaults
	assert.Equal(t, core.MAX_TOKEN_POSITIONS, risk.MaxTokenPositions)
	assert.Equal(t, int64(core.ORACLE_MAX_AGE), risk.OracleMaxAge)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{name: "window", mutate: func(cfg *Config) { cfg.Risk.ExpiringLiquidationWindow = 0 }, wantErr: "expiring_liquidation_window"},
		{name: "positions", mutate: func(cfg *Config) { cfg.Risk.MaxTokenPositions = 0 }, wantErr: "max_token_positions"},
		{name: "dust", mutate: func(cfg *Config) { cfg.Risk.DustThreshold = "-1" }, wantErr: "dust_threshold"},
		{name: "confidence", mutate: func(cfg *Config) { cfg.Risk.OracleMaxConfidence = "wide" }, wantErr: "oracle_max_confidence"},
		{name: "dsn", mutate: func(cfg *Config) { cfg.Store.DSN = "" }, wantErr: "store.dsn"},
		{name: "metrics listen", mutate: func(cfg *Config) { cfg.Metrics.Enabled = true; cfg.Metrics.Listen = "" }, wantErr: "metrics.listen"},
		{name: "log level", mutate: func(cfg *Config) { cfg.Log.Level = "loud" }, wantErr: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Store.DSN = ""
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
	assert.Contains(t, err.Error(), "log.level")
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("risk: [1, 2"))
	assert.Error(t, err)

	_, err = Parse([]byte("risk:\n  max_token_positions: 100\n"))
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("dropped")
	assert.Empty(t, buf.String())
	logger.Warn().Str("op", "token_deposit").Msg("kept")
	assert.Contains(t, buf.String(), `"op":"token_deposit"`)

	var log core.Log = &logger
	log.Error().Msg("as engine log")
	assert.Contains(t, buf.String(), "as engine log")
}
