package core

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BankRetriever resolves banks and oracle prices for one operation. Prices
// are read once per token and reused, so every health figure computed
// through the same retriever shares a single price snapshot.
type BankRetriever struct {
	banks    map[TokenIndex]*Bank
	priceMgr PriceAdapterMgr
	limits   OracleLimits
	window   int64
	now      int64

	prices map[TokenIndex]OraclePrice
}

func NewBankRetriever(banks map[TokenIndex]*Bank, priceMgr PriceAdapterMgr, cfg RiskConfig, now int64) *BankRetriever {
	return &BankRetriever{
		banks:    banks,
		priceMgr: priceMgr,
		limits:   cfg.OracleLimits(),
		window:   cfg.window(),
		now:      now,
		prices:   map[TokenIndex]OraclePrice{},
	}
}

func (r *BankRetriever) Now() int64 {
	return r.now
}

func (r *BankRetriever) Bank(tokenIndex TokenIndex) (*Bank, error) {
	bank, ok := r.banks[tokenIndex]
	if !ok {
		return nil, errors.Wrapf(ErrBankNotFound, "token %d", tokenIndex)
	}
	return bank, nil
}

func (r *BankRetriever) OraclePrice(tokenIndex TokenIndex) (OraclePrice, error) {
	if price, ok := r.prices[tokenIndex]; ok {
		return price, nil
	}
	bank, err := r.Bank(tokenIndex)
	if err != nil {
		return OraclePrice{}, err
	}
	adapter, err := r.priceMgr.GetPriceAdapter(bank)
	if err != nil {
		return OraclePrice{}, err
	}
	price, err := adapter.GetPrice(r.now)
	if err != nil {
		return OraclePrice{}, errors.Wrapf(ErrStalePriceOrNoData, "token %d: %v", tokenIndex, err)
	}
	if err := price.Validate(r.now, r.limits); err != nil {
		return OraclePrice{}, errors.Wrapf(err, "token %d", tokenIndex)
	}
	r.prices[tokenIndex] = price
	return price, nil
}

func (r *BankRetriever) BankAndOracle(tokenIndex TokenIndex) (*Bank, decimal.Decimal, error) {
	bank, err := r.Bank(tokenIndex)
	if err != nil {
		return nil, decimal.Zero, err
	}
	price, err := r.OraclePrice(tokenIndex)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return bank, price.Price, nil
}
