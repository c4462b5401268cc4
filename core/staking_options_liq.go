package core

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// StakingOptionsLiq liquidates a staking option during the last window before
// its expiration. Unlike TokenLiqWithToken the liquidatee need not be
// liquidatable and is never flagged as being liquidated.
func StakingOptionsLiq(log Log, events *EventBuffer, retriever *BankRetriever, liqor, liqee *Account, req LiquidationRequest) (*LiquidateResult, error) {
	if err := checkLiquidationAccounts(liqor, liqee, req); err != nil {
		return nil, err
	}

	liqeeCache, err := NewHealthCache(liqee, retriever)
	if err != nil {
		return nil, errors.Wrap(err, "create liqee health cache")
	}
	initHealth := liqeeCache.Health(HealthTypeInit)

	result, err := liquidationAction(log, events, retriever, liqor, liqee, liqeeCache, initHealth, req, LiquidationKindStakingOptions, stakingOptionsLiabNeeded)
	if err != nil {
		return nil, err
	}

	if err := checkLiquidatorHealth(liqor, retriever, result); err != nil {
		return nil, err
	}
	return result, nil
}

func checkExpiringSoon(bank *Bank, now, window int64) error {
	if !bank.IsStakingOption() {
		return errors.Wrapf(ErrNotStakingOption, "token %d", bank.TokenIndex)
	}
	remaining := bank.StakingOptionsTimeRemaining(now)
	if remaining <= 0 || remaining >= window {
		return errors.Wrapf(ErrNotExpiringSoon, "token %d has %d seconds remaining", bank.TokenIndex, remaining)
	}
	return nil
}

// stakingOptionsLiabNeeded solves init_health + x*ilw*llep = 0. The asset
// term is absent because the option has no Init weight inside the window.
func stakingOptionsLiabNeeded(cache *HealthCache, initHealth, aop, lopa decimal.Decimal, req LiquidationRequest) (decimal.Decimal, error) {
	liabInfo, err := cache.TokenInfo(req.LiabTokenIndex)
	if err != nil {
		return decimal.Zero, err
	}
	liabLiqEndPrice := liabInfo.Prices.Liab(HealthTypeInit)
	denominator := liabLiqEndPrice.Mul(liabInfo.InitLiabWeight)
	if !denominator.IsPositive() {
		return decimal.Zero, errors.Wrap(ErrMath, "zero liability weight or price")
	}
	return initHealth.Neg().Div(denominator), nil
}
