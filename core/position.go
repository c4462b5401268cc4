package core

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type TokenIndex uint16

type TokenPosition struct {
	TokenIndex TokenIndex `json:"tokenIndex"`
	// IndexedPosition is positive for deposits and negative for borrows.
	IndexedPosition decimal.Decimal `json:"indexedPosition"`
	Active          bool            `json:"active"`
	LastUpdate      int64           `json:"lastUpdate"`
}

func (p *TokenPosition) IsActive() bool {
	return p.Active
}

func (p *TokenPosition) Native(bank *Bank) decimal.Decimal {
	if p.IndexedPosition.IsPositive() {
		return p.IndexedPosition.Mul(bank.DepositIndex)
	}
	return p.IndexedPosition.Mul(bank.BorrowIndex)
}

func (p *TokenPosition) Side() BalanceSide {
	switch {
	case p.IndexedPosition.IsPositive():
		return BalanceSideAssets
	case p.IndexedPosition.IsNegative():
		return BalanceSideLiabilities
	default:
		return BalanceSideEmpty
	}
}

type BalanceSide uint8

const (
	BalanceSideAssets BalanceSide = iota
	BalanceSideLiabilities
	BalanceSideEmpty
)

func (bs BalanceSide) String() string {
	switch bs {
	case BalanceSideAssets:
		return "Assets"
	case BalanceSideLiabilities:
		return "Liabilities"
	case BalanceSideEmpty:
		return "Empty"
	default:
		return "Unknown"
	}
}

type TokenPositions []TokenPosition

func (tp TokenPositions) Value() (driver.Value, error) {
	valueString, err := json.Marshal(tp)
	return string(valueString), err
}

func (tp *TokenPositions) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, tp)
	case string:
		return json.Unmarshal([]byte(v), tp)
	case nil:
		*tp = nil
		return nil
	default:
		return errors.Errorf("cannot scan %T into TokenPositions", value)
	}
}
