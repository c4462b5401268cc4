package core

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type TokenInfo struct {
	TokenIndex TokenIndex `json:"tokenIndex"`

	InitAssetWeight  decimal.Decimal `json:"initAssetWeight"`
	MaintAssetWeight decimal.Decimal `json:"maintAssetWeight"`
	InitLiabWeight   decimal.Decimal `json:"initLiabWeight"`
	MaintLiabWeight  decimal.Decimal `json:"maintLiabWeight"`

	Prices Prices `json:"prices"`

	BalanceNative decimal.Decimal `json:"balanceNative"`
}

func (ti *TokenInfo) AssetWeight(ht HealthType) decimal.Decimal {
	if ht == HealthTypeInit {
		return ti.InitAssetWeight
	}
	return ti.MaintAssetWeight
}

func (ti *TokenInfo) LiabWeight(ht HealthType) decimal.Decimal {
	if ht == HealthTypeInit {
		return ti.InitLiabWeight
	}
	return ti.MaintLiabWeight
}

func (ti *TokenInfo) HealthContribution(ht HealthType) decimal.Decimal {
	if ti.BalanceNative.IsPositive() {
		weight := ti.AssetWeight(ht)
		return CalcValue(ti.BalanceNative, ti.Prices.Asset(ht), &weight)
	}
	weight := ti.LiabWeight(ht)
	return CalcValue(ti.BalanceNative, ti.Prices.Liab(ht), &weight)
}

// HealthCache holds one account's balances against a single price snapshot.
// It is only valid for the retriever it was built with.
type HealthCache struct {
	TokenInfos []TokenInfo `json:"tokenInfos"`
}

func NewHealthCache(account *Account, retriever *BankRetriever) (*HealthCache, error) {
	positions := account.ActiveTokenPositions()
	cache := &HealthCache{TokenInfos: make([]TokenInfo, 0, len(positions))}
	for _, position := range positions {
		bank, err := retriever.Bank(position.TokenIndex)
		if err != nil {
			return nil, err
		}
		price, err := retriever.OraclePrice(position.TokenIndex)
		if err != nil {
			return nil, err
		}
		info := newTokenInfo(bank, price.Prices(), retriever.Now(), retriever.window)
		info.BalanceNative = position.Native(bank)
		cache.TokenInfos = append(cache.TokenInfos, info)
	}
	return cache, nil
}

// newTokenInfo applies the weight policy for expiring staking options: inside
// the liquidation window the asset no longer counts for Init health, and once
// expired it counts for neither health type.
func newTokenInfo(bank *Bank, prices Prices, now, window int64) TokenInfo {
	info := TokenInfo{
		TokenIndex:       bank.TokenIndex,
		InitAssetWeight:  bank.AssetWeightInit,
		MaintAssetWeight: bank.AssetWeightMaint,
		InitLiabWeight:   bank.LiabilityWeightInit,
		MaintLiabWeight:  bank.LiabilityWeightMaint,
		Prices:           prices,
		BalanceNative:    decimal.Zero,
	}
	if bank.IsStakingOption() {
		remaining := bank.StakingOptionsTimeRemaining(now)
		if remaining < window {
			info.InitAssetWeight = decimal.Zero
		}
		if remaining <= 0 {
			info.MaintAssetWeight = decimal.Zero
		}
	}
	return info
}

func (hc *HealthCache) Clone() *HealthCache {
	return &HealthCache{TokenInfos: append([]TokenInfo(nil), hc.TokenInfos...)}
}

func (hc *HealthCache) Health(ht HealthType) decimal.Decimal {
	health := decimal.Zero
	for i := range hc.TokenInfos {
		health = health.Add(hc.TokenInfos[i].HealthContribution(ht))
	}
	return health
}

func (hc *HealthCache) TokenInfo(tokenIndex TokenIndex) (*TokenInfo, error) {
	for i := range hc.TokenInfos {
		if hc.TokenInfos[i].TokenIndex == tokenIndex {
			return &hc.TokenInfos[i], nil
		}
	}
	return nil, errors.Wrapf(ErrTokenNotInHealthCache, "token %d", tokenIndex)
}

// AdjustTokenBalance applies a native balance change without rereading prices.
func (hc *HealthCache) AdjustTokenBalance(bank *Bank, delta decimal.Decimal) error {
	info, err := hc.TokenInfo(bank.TokenIndex)
	if err != nil {
		return err
	}
	info.BalanceNative = info.BalanceNative.Add(delta)
	return nil
}

func ComputeHealth(account *Account, ht HealthType, retriever *BankRetriever) (decimal.Decimal, error) {
	cache, err := NewHealthCache(account, retriever)
	if err != nil {
		return decimal.Zero, err
	}
	return cache.Health(ht), nil
}
