package core

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	PriceAdapterMgr interface {
		GetPriceAdapter(bank *Bank) (PriceAdapter, error)
	}

	PriceAdapter interface {
		GetPrice(now int64) (OraclePrice, error)
	}

	OraclePrice struct {
		Price       decimal.Decimal `json:"price"`
		StablePrice decimal.Decimal `json:"stablePrice"`
		// Confidence is the absolute width of the price interval.
		Confidence decimal.Decimal `json:"confidence"`
		LastUpdate int64           `json:"lastUpdate"`
	}

	OracleLimits struct {
		MaxAge int64 `json:"maxAge"`
		// MaxConfidence is relative to the price.
		MaxConfidence decimal.Decimal `json:"maxConfidence"`
	}
)

func (p OraclePrice) Validate(now int64, limits OracleLimits) error {
	if !p.Price.IsPositive() {
		return errors.Wrap(ErrStalePriceOrNoData, "non-positive price")
	}
	if limits.MaxAge > 0 && now-p.LastUpdate > limits.MaxAge {
		return errors.Wrapf(ErrStalePriceOrNoData, "price is %d seconds old", now-p.LastUpdate)
	}
	if limits.MaxConfidence.IsPositive() && p.Confidence.GreaterThan(p.Price.Mul(limits.MaxConfidence)) {
		return errors.Wrapf(ErrStalePriceOrNoData, "confidence %s too wide for price %s", p.Confidence, p.Price)
	}
	return nil
}

func (p OraclePrice) Prices() Prices {
	stable := p.StablePrice
	if !stable.IsPositive() {
		stable = p.Price
	}
	return Prices{Oracle: p.Price, Stable: stable}
}

type StaticPriceAdapter struct {
	price OraclePrice
}

func (a StaticPriceAdapter) GetPrice(now int64) (OraclePrice, error) {
	return a.price, nil
}

// StaticPriceAdapterMgr serves prices pushed in by an external feed.
type StaticPriceAdapterMgr struct {
	mu     sync.RWMutex
	prices map[TokenIndex]OraclePrice
}

func NewStaticPriceAdapterMgr() *StaticPriceAdapterMgr {
	return &StaticPriceAdapterMgr{prices: map[TokenIndex]OraclePrice{}}
}

func (m *StaticPriceAdapterMgr) SetPrice(tokenIndex TokenIndex, price OraclePrice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[tokenIndex] = price
}

func (m *StaticPriceAdapterMgr) RemovePrice(tokenIndex TokenIndex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prices, tokenIndex)
}

func (m *StaticPriceAdapterMgr) GetPriceAdapter(bank *Bank) (PriceAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.prices[bank.TokenIndex]
	if !ok {
		return nil, errors.Wrapf(ErrStalePriceOrNoData, "no price for token %d", bank.TokenIndex)
	}
	return StaticPriceAdapter{price: price}, nil
}
