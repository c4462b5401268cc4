package core

import (
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type LiquidationRequest struct {
	AssetTokenIndex TokenIndex      `json:"assetTokenIndex"`
	LiabTokenIndex  TokenIndex      `json:"liabTokenIndex"`
	MaxLiabTransfer decimal.Decimal `json:"maxLiabTransfer"`
	// LiqorOwner is the key authorizing the liquidator account.
	LiqorOwner string `json:"liqorOwner"`
}

type LiquidateResult struct {
	Kind            LiquidationKind `json:"kind"`
	LiqeeId         uuid.UUID       `json:"liqeeId"`
	LiqorId         uuid.UUID       `json:"liqorId"`
	AssetTokenIndex TokenIndex      `json:"assetTokenIndex"`
	LiabTokenIndex  TokenIndex      `json:"liabTokenIndex"`

	AssetTransfer      decimal.Decimal `json:"assetTransfer"`
	LiabTransfer       decimal.Decimal `json:"liabTransfer"`
	AssetPrice         decimal.Decimal `json:"assetPrice"`
	LiabPrice          decimal.Decimal `json:"liabPrice"`
	LoanOriginationFee decimal.Decimal `json:"loanOriginationFee"`

	LiquidateePreHealth  decimal.Decimal `json:"liquidateePreHealth"`
	LiquidateePostHealth decimal.Decimal `json:"liquidateePostHealth"`
	LiquidatorPostHealth decimal.Decimal `json:"liquidatorPostHealth"`
}

func checkLiquidationAccounts(liqor, liqee *Account, req LiquidationRequest) error {
	if req.AssetTokenIndex == req.LiabTokenIndex {
		return errors.Wrapf(ErrSameTokenIndex, "token %d", req.AssetTokenIndex)
	}
	if liqor.Id == liqee.Id {
		return ErrSameAccount
	}
	if liqor.GroupId != liqee.GroupId {
		return ErrAccountGroupMismatch
	}
	if !liqor.IsOperational() {
		return errors.Wrap(ErrAccountFrozen, "liqor")
	}
	if !liqee.IsOperational() {
		return errors.Wrap(ErrAccountFrozen, "liqee")
	}
	if !liqor.IsOwnerOrDelegate(req.LiqorOwner) {
		return ErrNotOwnerOrDelegate
	}
	if req.MaxLiabTransfer.IsNegative() {
		return errors.Wrapf(ErrInvalidAmount, "max liab transfer %s", req.MaxLiabTransfer)
	}
	return nil
}

// liabNeededFunc returns the liability amount, in native liab tokens, that
// brings the liquidatee's Init health to zero.
type liabNeededFunc func(cache *HealthCache, initHealth, assetOraclePrice, liabOraclePriceAdjusted decimal.Decimal, req LiquidationRequest) (decimal.Decimal, error)

// TokenLiqWithToken takes liability tokens from the liquidator and gives it
// asset tokens of the liquidatee at a fee-adjusted price, until the
// liquidatee's Init health reaches zero.
func TokenLiqWithToken(log Log, events *EventBuffer, retriever *BankRetriever, liqor, liqee *Account, req LiquidationRequest) (*LiquidateResult, error) {
	if err := checkLiquidationAccounts(liqor, liqee, req); err != nil {
		return nil, err
	}

	liqeeEngine, err := NewRiskEngine(liqee, retriever)
	if err != nil {
		return nil, errors.Wrap(err, "create liqee health cache")
	}
	if err := liqeeEngine.CheckLiquidatable(); err != nil {
		return nil, err
	}
	initHealth := liqeeEngine.GetAccountHealth(HealthTypeInit)

	result, err := liquidationAction(log, events, retriever, liqor, liqee, liqeeEngine.Cache, initHealth, req, LiquidationKindTokenWithToken, tokenLiabNeeded)
	if err != nil {
		return nil, err
	}

	liqeeEngine.MaybeRecoverFromBeingLiquidated()

	if err := checkLiquidatorHealth(liqor, retriever, result); err != nil {
		return nil, err
	}
	return result, nil
}

// tokenLiabNeeded solves
//
//	init_health + x*ilw*llep - x*lopa/aop*iaw*aelp = 0
//
// for x, where reducing the liability by x costs x*lopa/aop asset tokens.
func tokenLiabNeeded(cache *HealthCache, initHealth, aop, lopa decimal.Decimal, req LiquidationRequest) (decimal.Decimal, error) {
	liabInfo, err := cache.TokenInfo(req.LiabTokenIndex)
	if err != nil {
		return decimal.Zero, err
	}
	assetInfo, err := cache.TokenInfo(req.AssetTokenIndex)
	if err != nil {
		return decimal.Zero, err
	}

	liabGain := liabInfo.InitLiabWeight.Mul(liabInfo.Prices.Liab(HealthTypeInit))
	assetLoss := assetInfo.InitAssetWeight.Mul(assetInfo.Prices.Asset(HealthTypeInit)).Mul(lopa).Div(aop)
	denominator := liabGain.Sub(assetLoss)
	if !denominator.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrLiquidationNotImproving, "asset %d liab %d", req.AssetTokenIndex, req.LiabTokenIndex)
	}
	return initHealth.Neg().Div(denominator), nil
}

func checkLiquidatorHealth(liqor *Account, retriever *BankRetriever, result *LiquidateResult) error {
	if liqor.SkipsHealthChecks() {
		return nil
	}
	health, err := ComputeHealth(liqor, HealthTypeInit, retriever)
	if err != nil {
		return errors.Wrap(err, "compute liqor health")
	}
	result.LiquidatorPostHealth = health
	if health.IsNegative() {
		return errors.Wrapf(ErrLiquidatorUnhealthyAfterAction, "liqor init health %s", health)
	}
	return nil
}

// liquidationAction moves liab_transfer liability tokens from liqor to liqee
// and the matching asset tokens from liqee to liqor.
func liquidationAction(log Log, events *EventBuffer, retriever *BankRetriever, liqor, liqee *Account, liqeeCache *HealthCache, initHealth decimal.Decimal, req LiquidationRequest, kind LiquidationKind, liabNeeded liabNeededFunc) (*LiquidateResult, error) {
	now := retriever.Now()

	assetBank, assetOraclePrice, err := retriever.BankAndOracle(req.AssetTokenIndex)
	if err != nil {
		return nil, err
	}
	liabBank, liabOraclePrice, err := retriever.BankAndOracle(req.LiabTokenIndex)
	if err != nil {
		return nil, err
	}

	if kind == LiquidationKindStakingOptions {
		if err := checkExpiringSoon(assetBank, now, retriever.window); err != nil {
			return nil, err
		}
	}

	liqeeAssetPosition, liqeeAssetRawIndex, err := liqee.TokenPositionAndRawIndex(req.AssetTokenIndex)
	if err != nil {
		return nil, errors.Wrapf(ErrInactiveOrWrongSignPosition, "no asset position for token %d", req.AssetTokenIndex)
	}
	liqeeAssetNative := liqeeAssetPosition.Native(assetBank)
	if !liqeeAssetNative.IsPositive() {
		return nil, errors.Wrapf(ErrInactiveOrWrongSignPosition, "asset native %s", liqeeAssetNative)
	}

	liqeeLiabPosition, liqeeLiabRawIndex, err := liqee.TokenPositionAndRawIndex(req.LiabTokenIndex)
	if err != nil {
		return nil, errors.Wrapf(ErrInactiveOrWrongSignPosition, "no liab position for token %d", req.LiabTokenIndex)
	}
	liqeeLiabNative := liqeeLiabPosition.Native(liabBank)
	if !liqeeLiabNative.IsNegative() {
		return nil, errors.Wrapf(ErrInactiveOrWrongSignPosition, "liab native %s", liqeeLiabNative)
	}

	// assets = liabs * liab_oracle_price * (1 + liquidation_fee) / asset_oracle_price
	feeFactor := ONE.Add(liabBank.LiquidationFee)
	liabOraclePriceAdjusted := liabOraclePrice.Mul(feeFactor)

	needed, err := liabNeeded(liqeeCache, initHealth, assetOraclePrice, liabOraclePriceAdjusted, req)
	if err != nil {
		return nil, err
	}
	possible, err := CalcAmount(CalcValue(liqeeAssetNative, assetOraclePrice, nil), liabOraclePriceAdjusted)
	if err != nil {
		return nil, err
	}

	liabTransfer := decimal.Min(needed, liqeeLiabNative.Neg(), possible, req.MaxLiabTransfer)
	liabTransfer = decimal.Max(liabTransfer, decimal.Zero)
	assetTransfer, err := CalcAmount(CalcValue(liabTransfer, liabOraclePriceAdjusted, nil), assetOraclePrice)
	if err != nil {
		return nil, err
	}

	// Small positive leftovers on the liqee are dusted so they cannot confuse
	// bankruptcy detection.
	liqeeLiabActive, err := liabBank.DepositWithDusting(liqeeLiabPosition, liabTransfer, now)
	if err != nil {
		return nil, errors.Wrap(err, "liqee liab deposit")
	}
	liqeeLiabIndexed := liqeeLiabPosition.IndexedPosition
	liqeeLiabNativeAfter := liqeeLiabPosition.Native(liabBank)

	liqorLiabPosition, liqorLiabRawIndex, _, err := liqor.EnsureTokenPosition(req.LiabTokenIndex)
	if err != nil {
		return nil, err
	}
	liqorLiabActive, loanOriginationFee, err := liabBank.WithdrawWithFee(liqorLiabPosition, liabTransfer, now)
	if err != nil {
		return nil, errors.Wrap(err, "liqor liab withdraw")
	}
	liqorLiabIndexed := liqorLiabPosition.IndexedPosition

	liqorAssetPosition, liqorAssetRawIndex, _, err := liqor.EnsureTokenPosition(req.AssetTokenIndex)
	if err != nil {
		return nil, err
	}
	liqorAssetActive, err := assetBank.Deposit(liqorAssetPosition, assetTransfer, now)
	if err != nil {
		return nil, errors.Wrap(err, "liqor asset deposit")
	}
	liqorAssetIndexed := liqorAssetPosition.IndexedPosition

	liqeeAssetActive, err := assetBank.WithdrawWithoutFeeWithDusting(liqeeAssetPosition, assetTransfer, now)
	if err != nil {
		return nil, errors.Wrap(err, "liqee asset withdraw")
	}
	liqeeAssetIndexed := liqeeAssetPosition.IndexedPosition
	liqeeAssetNativeAfter := liqeeAssetPosition.Native(assetBank)

	if err := liqeeCache.AdjustTokenBalance(liabBank, liqeeLiabNativeAfter.Sub(liqeeLiabNative)); err != nil {
		return nil, err
	}
	if err := liqeeCache.AdjustTokenBalance(assetBank, liqeeAssetNativeAfter.Sub(liqeeAssetNative)); err != nil {
		return nil, err
	}

	log.Info().Msgf("liquidated %s liab for %s asset", liabTransfer, assetTransfer)

	events.EmitTokenBalance(liqee, assetBank, liqeeAssetIndexed)
	events.EmitTokenBalance(liqee, liabBank, liqeeLiabIndexed)
	events.EmitTokenBalance(liqor, assetBank, liqorAssetIndexed)
	events.EmitTokenBalance(liqor, liabBank, liqorLiabIndexed)
	if loanOriginationFee.IsPositive() {
		events.Emit(&LoanOriginationFeeLog{
			GroupId:            liqor.GroupId,
			AccountId:          liqor.Id,
			TokenIndex:         liabBank.TokenIndex,
			LoanOriginationFee: loanOriginationFee,
		})
	}

	if !liqeeAssetActive {
		events.DeactivateTokenPosition(liqee, liqeeAssetRawIndex)
	}
	if !liqeeLiabActive {
		events.DeactivateTokenPosition(liqee, liqeeLiabRawIndex)
	}
	if !liqorAssetActive {
		events.DeactivateTokenPosition(liqor, liqorAssetRawIndex)
	}
	if !liqorLiabActive {
		events.DeactivateTokenPosition(liqor, liqorLiabRawIndex)
	}

	events.Emit(&LiquidationLog{
		GroupId:         liqee.GroupId,
		LiquidationKind: kind,
		Liqee:           liqee.Id,
		Liqor:           liqor.Id,
		AssetTokenIndex: req.AssetTokenIndex,
		LiabTokenIndex:  req.LiabTokenIndex,
		AssetTransfer:   assetTransfer,
		LiabTransfer:    liabTransfer,
		AssetPrice:      assetOraclePrice,
		LiabPrice:       liabOraclePrice,
	})

	return &LiquidateResult{
		Kind:                 kind,
		LiqeeId:              liqee.Id,
		LiqorId:              liqor.Id,
		AssetTokenIndex:      req.AssetTokenIndex,
		LiabTokenIndex:       req.LiabTokenIndex,
		AssetTransfer:        assetTransfer,
		LiabTransfer:         liabTransfer,
		AssetPrice:           assetOraclePrice,
		LiabPrice:            liabOraclePrice,
		LoanOriginationFee:   loanOriginationFee,
		LiquidateePreHealth:  initHealth,
		LiquidateePostHealth: liqeeCache.Health(HealthTypeInit),
	}, nil
}
