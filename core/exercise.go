package core

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// SettlementSystem is the external program that redeems staking options.
	// Its effect on custody is verified, never trusted.
	SettlementSystem interface {
		LotSize(ctx context.Context, stakingOptionsState uuid.UUID) (decimal.Decimal, error)
		Exercise(ctx context.Context, call SettlementCall) error
	}

	SettlementCall struct {
		StakingOptionsState uuid.UUID       `json:"stakingOptionsState"`
		Amount              decimal.Decimal `json:"amount"`
		Strike              decimal.Decimal `json:"strike"`
		BaseVault           uuid.UUID       `json:"baseVault"`
		QuoteVault          uuid.UUID       `json:"quoteVault"`
		OptionVault         uuid.UUID       `json:"optionVault"`
	}

	ExerciseRequest struct {
		BaseTokenIndex   TokenIndex `json:"baseTokenIndex"`
		QuoteTokenIndex  TokenIndex `json:"quoteTokenIndex"`
		OptionTokenIndex TokenIndex `json:"optionTokenIndex"`

		// Amount is in native option units, Strike in native quote units per option.
		Amount decimal.Decimal `json:"amount"`
		Strike decimal.Decimal `json:"strike"`

		StakingOptionsState uuid.UUID `json:"stakingOptionsState"`
		BaseVault           uuid.UUID `json:"baseVault"`
		QuoteVault          uuid.UUID `json:"quoteVault"`
		OptionVault         uuid.UUID `json:"optionVault"`

		Owner string `json:"owner"`
	}

	ExerciseResult struct {
		LotSize            decimal.Decimal `json:"lotSize"`
		BaseDeposited      decimal.Decimal `json:"baseDeposited"`
		QuoteWithdrawn     decimal.Decimal `json:"quoteWithdrawn"`
		OptionWithdrawn    decimal.Decimal `json:"optionWithdrawn"`
		LoanOriginationFee decimal.Decimal `json:"loanOriginationFee"`

		// Settled is set once the settlement system has moved custody by
		// the verified amounts. A result returned with a non-nil error and
		// Settled set means those moves still have to be reverted.
		Settled bool `json:"settled"`

		HealthChecked  bool            `json:"healthChecked"`
		PreInitHealth  decimal.Decimal `json:"preInitHealth"`
		PostInitHealth decimal.Decimal `json:"postInitHealth"`

		VaultsBefore VaultSnapshot `json:"vaultsBefore"`
		VaultsAfter  VaultSnapshot `json:"vaultsAfter"`
	}
)

func (r ExerciseRequest) call() SettlementCall {
	return SettlementCall{
		StakingOptionsState: r.StakingOptionsState,
		Amount:              r.Amount,
		Strike:              r.Strike,
		BaseVault:           r.BaseVault,
		QuoteVault:          r.QuoteVault,
		OptionVault:         r.OptionVault,
	}
}

func (r ExerciseRequest) validate() error {
	if r.Amount.IsNegative() || r.Strike.IsNegative() {
		return errors.Wrapf(ErrInvalidAmount, "amount %s strike %s", r.Amount, r.Strike)
	}
	if r.BaseTokenIndex == r.QuoteTokenIndex || r.BaseTokenIndex == r.OptionTokenIndex || r.QuoteTokenIndex == r.OptionTokenIndex {
		return errors.Wrap(ErrSameTokenIndex, "base, quote and option tokens must differ")
	}
	return nil
}

// StakingOptionsExercise converts amount options plus amount*strike quote into
// amount*lot_size base through the settlement system, then books the verified
// vault changes on the account.
func StakingOptionsExercise(ctx context.Context, log Log, events *EventBuffer, retriever *BankRetriever, account *Account, custody Custody, settlement SettlementSystem, req ExerciseRequest) (*ExerciseResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !account.IsOperational() {
		return nil, ErrAccountFrozen
	}
	if !account.IsOwnerOrDelegate(req.Owner) {
		return nil, ErrNotOwnerOrDelegate
	}
	if settlement == nil || custody == nil {
		return nil, ErrSettlementNotConfigured
	}
	now := retriever.Now()

	var (
		riskEngine *RiskEngine
		preHealth  decimal.Decimal
	)
	if !account.SkipsHealthChecks() {
		var err error
		if riskEngine, err = NewRiskEngine(account, retriever); err != nil {
			return nil, errors.Wrap(err, "pre-exercise init health")
		}
		if preHealth, err = riskEngine.CheckHealthPre(); err != nil {
			return nil, err
		}
	}

	baseBank, err := retriever.Bank(req.BaseTokenIndex)
	if err != nil {
		return nil, err
	}
	quoteBank, err := retriever.Bank(req.QuoteTokenIndex)
	if err != nil {
		return nil, err
	}
	optionBank, err := retriever.Bank(req.OptionTokenIndex)
	if err != nil {
		return nil, err
	}

	if optionBank.StakingOptionsState == uuid.Nil {
		return nil, errors.Wrapf(ErrNotStakingOption, "token %d", optionBank.TokenIndex)
	}
	if optionBank.StakingOptionsState != req.StakingOptionsState {
		return nil, errors.Wrapf(ErrStakingOptionsStateMismatch, "bank %s, given %s", optionBank.StakingOptionsState, req.StakingOptionsState)
	}
	if req.BaseVault != baseBank.Vault {
		return nil, errors.Wrap(ErrVaultMismatch, "base vault")
	}
	if req.QuoteVault != quoteBank.Vault {
		return nil, errors.Wrap(ErrVaultMismatch, "quote vault")
	}
	if req.OptionVault != optionBank.Vault {
		return nil, errors.Wrap(ErrVaultMismatch, "option vault")
	}

	// every position must be usable before anything leaves this process
	basePosition, err := account.TokenPosition(req.BaseTokenIndex)
	if err != nil {
		return nil, errors.Wrap(err, "base position")
	}
	quotePosition, quoteRawIndex, err := account.TokenPositionAndRawIndex(req.QuoteTokenIndex)
	if err != nil {
		return nil, errors.Wrap(err, "quote position")
	}
	optionPosition, optionRawIndex, err := account.TokenPositionAndRawIndex(req.OptionTokenIndex)
	if err != nil {
		return nil, errors.Wrap(err, "option position")
	}

	lotSize, err := settlement.LotSize(ctx, req.StakingOptionsState)
	if err != nil {
		return nil, errors.Wrapf(ErrSettlementRejected, "lot size: %v", err)
	}
	amounts := exerciseAmounts{
		base:   req.Amount.Mul(lotSize),
		quote:  req.Amount.Mul(req.Strike),
		option: req.Amount,
	}
	legs := exerciseLegs{
		baseBank:       baseBank,
		quoteBank:      quoteBank,
		optionBank:     optionBank,
		basePosition:   basePosition,
		quotePosition:  quotePosition,
		optionPosition: optionPosition,
	}

	// settlement moves custody for good; book and check health on copies first
	dryRun, err := legs.clone().book(amounts, now)
	if err != nil {
		return nil, err
	}
	if riskEngine != nil {
		dryEngine := &RiskEngine{Account: account, Cache: riskEngine.Cache.Clone()}
		if err := dryRun.adjust(dryEngine.Cache, legs); err != nil {
			return nil, err
		}
		if _, err := dryEngine.CheckHealthPost(preHealth); err != nil {
			return nil, err
		}
	}

	before, err := TakeVaultSnapshot(ctx, custody, req.BaseVault, req.QuoteVault, req.OptionVault)
	if err != nil {
		return nil, err
	}
	if err := settlement.Exercise(ctx, req.call()); err != nil {
		return nil, errors.Wrapf(ErrSettlementRejected, "exercise: %v", err)
	}
	after, err := TakeVaultSnapshot(ctx, custody, req.BaseVault, req.QuoteVault, req.OptionVault)
	if err != nil {
		return nil, err
	}

	delta := after.Sub(before)
	if !delta.Base.Equal(amounts.base) {
		return nil, errors.Wrapf(ErrSettlementIntegrity, "base vault changed by %s, expected %s", delta.Base, amounts.base)
	}
	if !delta.Quote.Equal(amounts.quote.Neg()) {
		return nil, errors.Wrapf(ErrSettlementIntegrity, "quote vault changed by %s, expected -%s", delta.Quote, amounts.quote)
	}
	if !delta.Option.Equal(amounts.option.Neg()) {
		return nil, errors.Wrapf(ErrSettlementIntegrity, "option vault changed by %s, expected -%s", delta.Option, amounts.option)
	}

	result := &ExerciseResult{
		LotSize:         lotSize,
		BaseDeposited:   amounts.base,
		QuoteWithdrawn:  amounts.quote,
		OptionWithdrawn: amounts.option,
		Settled:         true,
		VaultsBefore:    before,
		VaultsAfter:     after,
	}

	booked, err := legs.book(amounts, now)
	if err != nil {
		return result, err
	}
	result.LoanOriginationFee = booked.loanOriginationFee
	if !booked.quoteActive {
		events.DeactivateTokenPosition(account, quoteRawIndex)
	}
	if !booked.optionActive {
		events.DeactivateTokenPosition(account, optionRawIndex)
	}

	if riskEngine != nil {
		if err := booked.adjust(riskEngine.Cache, legs); err != nil {
			return result, err
		}
		postHealth, err := riskEngine.CheckHealthPost(preHealth)
		if err != nil {
			return result, err
		}
		result.HealthChecked = true
		result.PreInitHealth = preHealth
		result.PostInitHealth = postHealth
	}

	log.Info().
		Str("account", account.Id.String()).
		Str("amount", req.Amount.String()).
		Str("strike", req.Strike.String()).
		Str("lotSize", lotSize.String()).
		Msg("exercised staking options")

	events.EmitTokenBalance(account, baseBank, basePosition.IndexedPosition)
	events.EmitTokenBalance(account, quoteBank, quotePosition.IndexedPosition)
	events.EmitTokenBalance(account, optionBank, optionPosition.IndexedPosition)
	if booked.loanOriginationFee.IsPositive() {
		events.Emit(&LoanOriginationFeeLog{
			GroupId:            account.GroupId,
			AccountId:          account.Id,
			TokenIndex:         quoteBank.TokenIndex,
			LoanOriginationFee: booked.loanOriginationFee,
		})
	}
	events.Emit(&ExerciseLog{
		GroupId:             account.GroupId,
		AccountId:           account.Id,
		Amount:              req.Amount,
		Strike:              req.Strike,
		LotSize:             lotSize,
		StakingOptionsState: req.StakingOptionsState,
	})

	return result, nil
}

type exerciseAmounts struct {
	base, quote, option decimal.Decimal
}

type exerciseLegs struct {
	baseBank, quoteBank, optionBank             *Bank
	basePosition, quotePosition, optionPosition *TokenPosition
}

func (l exerciseLegs) clone() exerciseLegs {
	base, quote, option := *l.basePosition, *l.quotePosition, *l.optionPosition
	return exerciseLegs{
		baseBank:       l.baseBank.Clone(),
		quoteBank:      l.quoteBank.Clone(),
		optionBank:     l.optionBank.Clone(),
		basePosition:   &base,
		quotePosition:  &quote,
		optionPosition: &option,
	}
}

type exerciseBooking struct {
	baseNativeDelta, quoteNativeDelta, optionNativeDelta decimal.Decimal

	quoteActive, optionActive bool
	loanOriginationFee        decimal.Decimal
}

func (l exerciseLegs) book(amounts exerciseAmounts, now int64) (exerciseBooking, error) {
	var (
		booking exerciseBooking
		err     error
	)

	baseNativeBefore := l.basePosition.Native(l.baseBank)
	if _, err = l.baseBank.Deposit(l.basePosition, amounts.base, now); err != nil {
		return booking, errors.Wrap(err, "base deposit")
	}
	booking.baseNativeDelta = l.basePosition.Native(l.baseBank).Sub(baseNativeBefore)

	quoteNativeBefore := l.quotePosition.Native(l.quoteBank)
	booking.quoteActive, booking.loanOriginationFee, err = l.quoteBank.WithdrawWithFee(l.quotePosition, amounts.quote, now)
	if err != nil {
		return booking, errors.Wrap(err, "quote withdraw")
	}
	booking.quoteNativeDelta = l.quotePosition.Native(l.quoteBank).Sub(quoteNativeBefore)

	optionNativeBefore := l.optionPosition.Native(l.optionBank)
	// options cannot be borrowed, so no fee applies
	booking.optionActive, err = l.optionBank.WithdrawWithoutFeeWithDusting(l.optionPosition, amounts.option, now)
	if err != nil {
		return booking, errors.Wrap(err, "option withdraw")
	}
	booking.optionNativeDelta = l.optionPosition.Native(l.optionBank).Sub(optionNativeBefore)
	return booking, nil
}

func (b exerciseBooking) adjust(cache *HealthCache, legs exerciseLegs) error {
	if err := cache.AdjustTokenBalance(legs.baseBank, b.baseNativeDelta); err != nil {
		return err
	}
	if err := cache.AdjustTokenBalance(legs.quoteBank, b.quoteNativeDelta); err != nil {
		return err
	}
	return cache.AdjustTokenBalance(legs.optionBank, b.optionNativeDelta)
}

// RevertSettlement moves the verified exercise amounts back into the vaults
// they came from.
func RevertSettlement(ctx context.Context, custody Custody, req ExerciseRequest, result *ExerciseResult) error {
	if err := custody.Credit(ctx, req.QuoteVault, result.QuoteWithdrawn); err != nil {
		return err
	}
	if err := custody.Credit(ctx, req.OptionVault, result.OptionWithdrawn); err != nil {
		return err
	}
	return custody.Debit(ctx, req.BaseVault, result.BaseDeposited)
}

// CustodySettlement is a settlement system that moves balances directly
// between custody vaults, holding a lot size per staking options state.
type CustodySettlement struct {
	custody Custody

	mu       sync.RWMutex
	lotSizes map[uuid.UUID]decimal.Decimal
}

func NewCustodySettlement(custody Custody) *CustodySettlement {
	return &CustodySettlement{
		custody:  custody,
		lotSizes: map[uuid.UUID]decimal.Decimal{},
	}
}

func (s *CustodySettlement) SetLotSize(stakingOptionsState uuid.UUID, lotSize decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lotSizes[stakingOptionsState] = lotSize
}

func (s *CustodySettlement) LotSize(ctx context.Context, stakingOptionsState uuid.UUID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lotSize, ok := s.lotSizes[stakingOptionsState]
	if !ok {
		return decimal.Zero, errors.Errorf("unknown staking options state %s", stakingOptionsState)
	}
	return lotSize, nil
}

func (s *CustodySettlement) Exercise(ctx context.Context, call SettlementCall) error {
	lotSize, err := s.LotSize(ctx, call.StakingOptionsState)
	if err != nil {
		return err
	}
	quoteAmount := call.Amount.Mul(call.Strike)

	quote, err := s.custody.VaultBalance(ctx, call.QuoteVault)
	if err != nil {
		return err
	}
	option, err := s.custody.VaultBalance(ctx, call.OptionVault)
	if err != nil {
		return err
	}
	if quote.LessThan(quoteAmount) || option.LessThan(call.Amount) {
		return errors.Wrap(ErrInsufficientCustody, "exercise")
	}

	if err := s.custody.Debit(ctx, call.QuoteVault, quoteAmount); err != nil {
		return err
	}
	if err := s.custody.Debit(ctx, call.OptionVault, call.Amount); err != nil {
		return err
	}
	return s.custody.Credit(ctx, call.BaseVault, call.Amount.Mul(lotSize))
}
