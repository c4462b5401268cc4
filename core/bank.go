package core

import (
	"context"
	"strconv"

	"github.com/DomeLiquid/risk/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	BankStore interface {
		UpsertBank(ctx context.Context, bank *Bank) error
		GetBankById(ctx context.Context, bankId uuid.UUID) (*Bank, error)
		GetBankByTokenIndex(ctx context.Context, groupId uuid.UUID, tokenIndex TokenIndex) (*Bank, error)
		ListBanksByGroupId(ctx context.Context, groupId uuid.UUID) ([]*Bank, error)
	}

	Bank struct {
		Id         uuid.UUID  `json:"id"`
		GroupId    uuid.UUID  `json:"groupId"`
		Name       string     `json:"name"`
		TokenIndex TokenIndex `json:"tokenIndex"`

		// Vault is the custody account backing every position of this bank.
		Vault uuid.UUID `json:"vault"`

		DepositIndex decimal.Decimal `json:"depositIndex"`
		BorrowIndex  decimal.Decimal `json:"borrowIndex"`

		IndexedDeposits decimal.Decimal `json:"indexedDeposits"`
		// IndexedBorrows is stored as a positive magnitude.
		IndexedBorrows decimal.Decimal `json:"indexedBorrows"`

		CollectedFeesNative decimal.Decimal `json:"collectedFeesNative"`
		Dust                decimal.Decimal `json:"dust"`

		BankConfig `json:"bankConfig"`

		StakingOptionsState      uuid.UUID `json:"stakingOptionsState"`
		StakingOptionsExpiration int64     `json:"stakingOptionsExpiration"`

		CreatedAt  int64 `json:"createdAt"`
		LastUpdate int64 `json:"lastUpdate"`
	}

	BankConfig struct {
		AssetWeightInit  decimal.Decimal `json:"assetWeightInit"`
		AssetWeightMaint decimal.Decimal `json:"assetWeightMaint"`

		LiabilityWeightInit  decimal.Decimal `json:"liabilityWeightInit"`
		LiabilityWeightMaint decimal.Decimal `json:"liabilityWeightMaint"`

		LiquidationFee         decimal.Decimal `json:"liquidationFee"`
		LoanOriginationFeeRate decimal.Decimal `json:"loanOriginationFeeRate"`
		DustThreshold          decimal.Decimal `json:"dustThreshold"`

		InterestRateConfig `json:"interestRateConfig"`

		ReduceOnly ReduceOnlyMode `json:"reduceOnly"`
	}

	InterestRateConfig struct {
		OptimalUtilizationRate decimal.Decimal `json:"optimalUtilizationRate"`
		PlateauInterestRate    decimal.Decimal `json:"plateauInterestRate"`
		MaxInterestRate        decimal.Decimal `json:"maxInterestRate"`

		InsuranceFeeFixedApr decimal.Decimal `json:"insuranceFeeFixedApr"`
		InsuranceIrFee       decimal.Decimal `json:"insuranceIrFee"`
		ProtocolFixedFeeApr  decimal.Decimal `json:"protocolFixedFeeApr"`
		ProtocolIrFee        decimal.Decimal `json:"protocolIrFee"`
	}
)

func (i *InterestRateConfig) CalcInterestRate(utilizationRatio decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	protocolIrFee := i.ProtocolIrFee
	insuranceIrFee := i.InsuranceIrFee
	protocolFixedFeeApr := i.ProtocolFixedFeeApr
	insuranceFeeFixedApr := i.InsuranceFeeFixedApr

	rateFee := protocolIrFee.Add(insuranceIrFee)
	totalFixedFeeApr := protocolFixedFeeApr.Add(insuranceFeeFixedApr)

	baseRate := i.InterestRateCurve(utilizationRatio)

	lendingRate := baseRate.Mul(utilizationRatio)
	borrowingRate := baseRate.Mul(ONE.Add(rateFee)).Add(totalFixedFeeApr)

	groupFeesApr := i.CalcFeeRate(baseRate, protocolIrFee, protocolFixedFeeApr)
	insuranceFeesApr := i.CalcFeeRate(baseRate, insuranceIrFee, insuranceFeeFixedApr)

	if lendingRate.LessThan(decimal.Zero) ||
		borrowingRate.LessThan(decimal.Zero) ||
		groupFeesApr.LessThan(decimal.Zero) ||
		insuranceFeesApr.LessThan(decimal.Zero) {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, ErrNegativeInterestRate
	}

	return lendingRate, borrowingRate, groupFeesApr, insuranceFeesApr, nil
}

func (i *InterestRateConfig) InterestRateCurve(utilizationRatio decimal.Decimal) decimal.Decimal {
	optimalUr := i.OptimalUtilizationRate
	plateauIr := i.PlateauInterestRate
	maxIr := i.MaxInterestRate

	if utilizationRatio.LessThanOrEqual(optimalUr) {
		// ur / optimal_ur * plateau_ir
		return utilizationRatio.Mul(plateauIr).Div(optimalUr)
	}
	// (ur - optimal_ur) / (1 - optimal_ur) * (max_ir - plateau_ir) + plateau_ir
	oneMinusOptimalUr := ONE.Sub(optimalUr)
	maxIrMinusPlateau := maxIr.Sub(plateauIr)
	utilizationRatioMinusOptimalUr := utilizationRatio.Sub(optimalUr)

	return utilizationRatioMinusOptimalUr.Div(oneMinusOptimalUr).Mul(maxIrMinusPlateau).Add(plateauIr)
}

func (i *InterestRateConfig) CalcFeeRate(baseRate, irFee, fixedFeeApr decimal.Decimal) decimal.Decimal {
	return baseRate.Mul(irFee).Add(fixedFeeApr)
}

// IsDisabled reports a bank that never accrues interest.
func (i *InterestRateConfig) IsDisabled() bool {
	return i.OptimalUtilizationRate.IsZero() && i.PlateauInterestRate.IsZero() && i.MaxInterestRate.IsZero()
}

func (i *InterestRateConfig) Validate() error {
	if i.IsDisabled() {
		return nil
	}

	optimalUr := i.OptimalUtilizationRate
	plateauIr := i.PlateauInterestRate
	maxIr := i.MaxInterestRate

	if optimalUr.LessThanOrEqual(decimal.Zero) || optimalUr.GreaterThanOrEqual(ONE) {
		return ErrOptimalUr
	}
	if plateauIr.LessThanOrEqual(decimal.Zero) {
		return ErrPlateauIr
	}
	if maxIr.LessThanOrEqual(decimal.Zero) {
		return ErrMaxIr
	}
	if plateauIr.GreaterThanOrEqual(maxIr) {
		return ErrPlateauGreaterThanMax
	}

	return nil
}

type ReduceOnlyMode uint8

const (
	ReduceOnlyNone ReduceOnlyMode = iota
	// ReduceOnlyFull forbids new deposits and new borrows.
	ReduceOnlyFull
	// ReduceOnlyBorrows forbids new borrows only.
	ReduceOnlyBorrows
)

func (m ReduceOnlyMode) String() string {
	switch m {
	case ReduceOnlyNone:
		return "None"
	case ReduceOnlyFull:
		return "Full"
	case ReduceOnlyBorrows:
		return "Borrows"
	default:
		return "Unknown"
	}
}

func (bc *BankConfig) GetWeight(ht HealthType, side BalanceSide) decimal.Decimal {
	switch {
	case ht == HealthTypeInit && side == BalanceSideAssets:
		return bc.AssetWeightInit
	case ht == HealthTypeInit && side == BalanceSideLiabilities:
		return bc.LiabilityWeightInit
	case ht == HealthTypeMaint && side == BalanceSideAssets:
		return bc.AssetWeightMaint
	case ht == HealthTypeMaint && side == BalanceSideLiabilities:
		return bc.LiabilityWeightMaint
	default:
		return decimal.Zero
	}
}

func (bc *BankConfig) Validate() error {
	assetInitW := bc.AssetWeightInit
	assetMaintW := bc.AssetWeightMaint

	if !(assetInitW.GreaterThanOrEqual(decimal.Zero) && assetInitW.LessThanOrEqual(ONE)) {
		return errors.Wrap(ErrInvalidConfig, "init asset weight out of [0, 1]")
	}
	if !(assetMaintW.GreaterThanOrEqual(assetInitW) && assetMaintW.LessThanOrEqual(ONE)) {
		return errors.Wrap(ErrInvalidConfig, "maint asset weight out of [init, 1]")
	}

	liabInitW := bc.LiabilityWeightInit
	liabMaintW := bc.LiabilityWeightMaint
	if liabInitW.LessThan(ONE) {
		return errors.Wrap(ErrInvalidConfig, "init liability weight below 1")
	}
	if liabMaintW.GreaterThan(liabInitW) || liabMaintW.LessThan(ONE) {
		return errors.Wrap(ErrInvalidConfig, "maint liability weight out of [1, init]")
	}

	if bc.LiquidationFee.IsNegative() || bc.LoanOriginationFeeRate.IsNegative() || bc.DustThreshold.IsNegative() {
		return errors.Wrap(ErrInvalidConfig, "negative fee or dust threshold")
	}
	if bc.ReduceOnly > ReduceOnlyBorrows {
		return errors.Wrapf(ErrInvalidConfig, "unknown reduce only mode %d", bc.ReduceOnly)
	}

	return bc.InterestRateConfig.Validate()
}

func NewBank(clk clock.Clock, groupId uuid.UUID, name string, tokenIndex TokenIndex, bankConfig BankConfig) *Bank {
	id := utils.DeriveId(groupId, "bank", name, strconv.Itoa(int(tokenIndex)))
	now := clk.Now().Unix()
	return &Bank{
		Id:                  id,
		GroupId:             groupId,
		Name:                name,
		TokenIndex:          tokenIndex,
		Vault:               utils.DeriveId(id, "vault"),
		DepositIndex:        ONE,
		BorrowIndex:         ONE,
		IndexedDeposits:     decimal.Zero,
		IndexedBorrows:      decimal.Zero,
		CollectedFeesNative: decimal.Zero,
		Dust:                decimal.Zero,
		BankConfig:          bankConfig,
		CreatedAt:           now,
		LastUpdate:          now,
	}
}

func (b *Bank) Clone() *Bank {
	c := *b
	return &c
}

func (b *Bank) IsStakingOption() bool {
	return b.StakingOptionsExpiration > 0
}

func (b *Bank) StakingOptionsTimeRemaining(now int64) int64 {
	return b.StakingOptionsExpiration - now
}

func (b *Bank) AreDepositsReduceOnly() bool {
	return b.ReduceOnly == ReduceOnlyFull
}

func (b *Bank) AreBorrowsReduceOnly() bool {
	return b.ReduceOnly == ReduceOnlyFull || b.ReduceOnly == ReduceOnlyBorrows
}

func (b *Bank) NativeDeposits() decimal.Decimal {
	return b.IndexedDeposits.Mul(b.DepositIndex)
}

func (b *Bank) NativeBorrows() decimal.Decimal {
	return b.IndexedBorrows.Mul(b.BorrowIndex)
}

// ExpectedVaultBalance is the custody balance the ledger accounts for.
func (b *Bank) ExpectedVaultBalance() decimal.Decimal {
	return b.NativeDeposits().Sub(b.NativeBorrows()).Add(b.Dust).Add(b.CollectedFeesNative)
}

func (b *Bank) ComputeUtilizationRate() decimal.Decimal {
	totalDeposits := b.NativeDeposits()
	if totalDeposits.IsZero() {
		return decimal.Zero
	}
	return b.NativeBorrows().Div(totalDeposits)
}

func (b *Bank) dustThreshold() decimal.Decimal {
	if b.DustThreshold.IsPositive() {
		return b.DustThreshold
	}
	return DUST_THRESHOLD
}

func (b *Bank) Deposit(position *TokenPosition, amount decimal.Decimal, now int64) (bool, error) {
	return b.depositInternal(position, amount, false, now)
}

// DepositWithDusting also clears a small non-negative remainder.
func (b *Bank) DepositWithDusting(position *TokenPosition, amount decimal.Decimal, now int64) (bool, error) {
	return b.depositInternal(position, amount, true, now)
}

// WithdrawWithFee charges the loan origination fee on the part of amount that
// becomes a new borrow. The fee is returned separately.
func (b *Bank) WithdrawWithFee(position *TokenPosition, amount decimal.Decimal, now int64) (bool, decimal.Decimal, error) {
	return b.withdrawInternal(position, amount, true, false, now)
}

func (b *Bank) WithdrawWithoutFee(position *TokenPosition, amount decimal.Decimal, now int64) (bool, error) {
	active, _, err := b.withdrawInternal(position, amount, false, false, now)
	return active, err
}

func (b *Bank) WithdrawWithoutFeeWithDusting(position *TokenPosition, amount decimal.Decimal, now int64) (bool, error) {
	active, _, err := b.withdrawInternal(position, amount, false, true, now)
	return active, err
}

func (b *Bank) checkPosition(position *TokenPosition, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrapf(ErrInvalidAmount, "amount %s", amount)
	}
	if position.TokenIndex != b.TokenIndex {
		return errors.Wrapf(ErrTokenPositionNotFound, "position token %d on bank %d", position.TokenIndex, b.TokenIndex)
	}
	if !position.IsActive() {
		return errors.Wrapf(ErrTokenPositionInactive, "token %d", position.TokenIndex)
	}
	return nil
}

func (b *Bank) depositInternal(position *TokenPosition, amount decimal.Decimal, dusting bool, now int64) (bool, error) {
	if err := b.checkPosition(position, amount); err != nil {
		return false, err
	}

	after := b.changeNative(position, amount)
	position.LastUpdate = now
	return b.settle(position, after, dusting), nil
}

func (b *Bank) withdrawInternal(position *TokenPosition, amount decimal.Decimal, withFee, dusting bool, now int64) (bool, decimal.Decimal, error) {
	if err := b.checkPosition(position, amount); err != nil {
		return false, decimal.Zero, err
	}

	fee := decimal.Zero
	if withFee && b.LoanOriginationFeeRate.IsPositive() {
		native := position.Native(b)
		newBorrow := decimal.Max(amount.Sub(decimal.Max(native, decimal.Zero)), decimal.Zero)
		fee = newBorrow.Mul(b.LoanOriginationFeeRate)
	}

	after := b.changeNative(position, amount.Add(fee).Neg())
	b.CollectedFeesNative = b.CollectedFeesNative.Add(fee)
	position.LastUpdate = now
	return b.settle(position, after, dusting), fee, nil
}

// changeNative moves the position by delta native units. Rounding lost in the
// indexed conversion is booked into Dust so custody stays accounted for.
func (b *Bank) changeNative(position *TokenPosition, delta decimal.Decimal) decimal.Decimal {
	target := position.Native(b).Add(delta)
	var indexed decimal.Decimal
	if target.IsPositive() {
		indexed = target.Div(b.DepositIndex)
	} else {
		indexed = target.Div(b.BorrowIndex)
	}
	b.setIndexed(position, indexed)

	after := position.Native(b)
	b.Dust = b.Dust.Add(target.Sub(after))
	return after
}

func (b *Bank) setIndexed(position *TokenPosition, indexed decimal.Decimal) {
	old := position.IndexedPosition
	if old.IsPositive() {
		b.IndexedDeposits = b.IndexedDeposits.Sub(old)
	} else {
		b.IndexedBorrows = b.IndexedBorrows.Add(old)
	}
	if indexed.IsPositive() {
		b.IndexedDeposits = b.IndexedDeposits.Add(indexed)
	} else {
		b.IndexedBorrows = b.IndexedBorrows.Sub(indexed)
	}
	position.IndexedPosition = indexed
}

// settle reports whether the position is still in use. A position that lands
// exactly on zero is released; with dusting a remainder in [0, threshold) is
// moved to Dust first.
func (b *Bank) settle(position *TokenPosition, native decimal.Decimal, dusting bool) bool {
	if dusting && !native.IsNegative() && native.LessThan(b.dustThreshold()) {
		b.Dust = b.Dust.Add(native)
		b.setIndexed(position, decimal.Zero)
		return false
	}
	return !position.IndexedPosition.IsZero()
}

func (b *Bank) AccrueInterest(log Log, currentTimestamp int64) error {
	timeDelta := currentTimestamp - b.LastUpdate

	if timeDelta <= 0 {
		return nil
	}
	b.LastUpdate = currentTimestamp

	if b.InterestRateConfig.IsDisabled() {
		return nil
	}

	totalDeposits := b.NativeDeposits()
	totalBorrows := b.NativeBorrows()
	if totalDeposits.IsZero() || totalBorrows.IsZero() {
		return nil
	}

	depositIndex, borrowIndex, err :=
		CalcInterestRateAccrualStateChanges(log, uint64(timeDelta), totalDeposits, totalBorrows, b.BankConfig.InterestRateConfig, b.DepositIndex, b.BorrowIndex)
	if err != nil {
		return err
	}

	netBefore := totalDeposits.Sub(totalBorrows)
	b.DepositIndex = depositIndex
	b.BorrowIndex = borrowIndex

	// borrowers pay more than depositors earn, the difference is the fee
	collected := netBefore.Sub(b.NativeDeposits().Sub(b.NativeBorrows()))
	b.CollectedFeesNative = b.CollectedFeesNative.Add(collected)

	log.Debug().
		Uint16("tokenIndex", uint16(b.TokenIndex)).
		Str("collected", collected.String()).
		Msg("accrued interest")

	return nil
}

func (b *Bank) Validate() error {
	if b.DepositIndex.LessThan(ONE) || b.BorrowIndex.LessThan(ONE) {
		return errors.Wrap(ErrInvalidConfig, "indices must start at 1")
	}
	if b.StakingOptionsExpiration < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative staking options expiration")
	}
	return b.BankConfig.Validate()
}
