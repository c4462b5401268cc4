package core

import (
	"github.com/shopspring/decimal"
)

const (
	SECONDS_PER_YEAR = 31_536_000

	// staking options can be liquidated once less than this many seconds remain
	EXPIRING_LIQUIDATION_WINDOW = 60 * 60

	MAX_TOKEN_POSITIONS = 16
	ORACLE_MAX_AGE      = 60
)

var (
	ONE = decimal.NewFromInt(1)

	DUST_THRESHOLD        = ONE
	ORACLE_MAX_CONFIDENCE = decimal.NewFromFloat(0.1)
)

// RiskConfig carries the tunables shared by the health engine, the ledger and
// the liquidation paths.
type RiskConfig struct {
	ExpiringLiquidationWindow int64           `json:"expiringLiquidationWindow"`
	DustThreshold             decimal.Decimal `json:"dustThreshold"`
	MaxTokenPositions         int             `json:"maxTokenPositions"`
	OracleMaxAge              int64           `json:"oracleMaxAge"`
	OracleMaxConfidence       decimal.Decimal `json:"oracleMaxConfidence"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		ExpiringLiquidationWindow: EXPIRING_LIQUIDATION_WINDOW,
		DustThreshold:             DUST_THRESHOLD,
		MaxTokenPositions:         MAX_TOKEN_POSITIONS,
		OracleMaxAge:              ORACLE_MAX_AGE,
		OracleMaxConfidence:       ORACLE_MAX_CONFIDENCE,
	}
}

func (rc RiskConfig) OracleLimits() OracleLimits {
	return OracleLimits{
		MaxAge:        rc.OracleMaxAge,
		MaxConfidence: rc.OracleMaxConfidence,
	}
}

func (rc RiskConfig) window() int64 {
	if rc.ExpiringLiquidationWindow <= 0 {
		return EXPIRING_LIQUIDATION_WINDOW
	}
	return rc.ExpiringLiquidationWindow
}
