package core

import "github.com/shopspring/decimal"

type HealthType uint8

const (
	// HealthTypeInit gates whether new risk may be taken.
	HealthTypeInit HealthType = iota
	// HealthTypeMaint defines the liquidation threshold.
	HealthTypeMaint
)

func (ht HealthType) String() string {
	switch ht {
	case HealthTypeInit:
		return "Init"
	case HealthTypeMaint:
		return "Maint"
	default:
		return "Unknown"
	}
}

// Prices is the oracle view of one token for both health types. Init uses the
// less favourable of the oracle and stable price on each side.
type Prices struct {
	Oracle decimal.Decimal `json:"oracle"`
	Stable decimal.Decimal `json:"stable"`
}

func (p Prices) Asset(ht HealthType) decimal.Decimal {
	if ht == HealthTypeInit {
		return decimal.Min(p.Oracle, p.Stable)
	}
	return p.Oracle
}

func (p Prices) Liab(ht HealthType) decimal.Decimal {
	if ht == HealthTypeInit {
		return decimal.Max(p.Oracle, p.Stable)
	}
	return p.Oracle
}
