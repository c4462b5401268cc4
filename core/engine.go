package core

import (
	"context"
	"slices"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Engine owns the banks and accounts of one group and runs every operation
// against them as a single unit: either all of its ledger changes, custody
// moves and records are kept, or none are.
type Engine struct {
	mu sync.Mutex

	group  *Group
	prices PriceAdapterMgr

	clk        clock.Clock
	log        Log
	cfg        RiskConfig
	custody    Custody
	settlement SettlementSystem
	journal    Journal
	metrics    Metrics

	banks    map[TokenIndex]*Bank
	accounts map[uuid.UUID]*Account
}

type EngineOption func(*Engine)

func WithClock(clk clock.Clock) EngineOption {
	return func(e *Engine) { e.clk = clk }
}

func WithLog(log Log) EngineOption {
	return func(e *Engine) { e.log = log }
}

func WithRiskConfig(cfg RiskConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

func WithCustody(custody Custody) EngineOption {
	return func(e *Engine) { e.custody = custody }
}

func WithSettlement(settlement SettlementSystem) EngineOption {
	return func(e *Engine) { e.settlement = settlement }
}

func WithJournal(journal Journal) EngineOption {
	return func(e *Engine) { e.journal = journal }
}

func WithMetrics(metrics Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

func NewEngine(group *Group, prices PriceAdapterMgr, opts ...EngineOption) *Engine {
	e := &Engine{
		group:    group,
		prices:   prices,
		clk:      clock.New(),
		log:      NopLog(),
		cfg:      DefaultRiskConfig(),
		journal:  NewMemoryJournal(),
		metrics:  nopMetrics{},
		banks:    map[TokenIndex]*Bank{},
		accounts: map[uuid.UUID]*Account{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.custody == nil {
		e.custody = NewMemoryCustody()
	}
	return e
}

func (e *Engine) Group() Group {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.group
}

func (e *Engine) SetIxEnabled(ix IxGate, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.group.SetIxEnabled(e.clk, ix, enabled)
}

func (e *Engine) AddBank(bank *Bank) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addBank(bank)
}

func (e *Engine) addBank(bank *Bank) error {
	if bank.GroupId != e.group.Id {
		return errors.Wrapf(ErrAccountGroupMismatch, "bank %s", bank.Id)
	}
	if err := bank.Validate(); err != nil {
		return err
	}
	if _, ok := e.banks[bank.TokenIndex]; ok {
		return errors.Wrapf(ErrBankAlreadyExists, "token %d", bank.TokenIndex)
	}
	b := bank.Clone()
	if b.DustThreshold.IsZero() {
		b.DustThreshold = e.cfg.DustThreshold
	}
	e.banks[b.TokenIndex] = b
	return nil
}

func (e *Engine) AddAccount(account *Account) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addAccount(account)
}

func (e *Engine) addAccount(account *Account) error {
	if account.GroupId != e.group.Id {
		return errors.Wrapf(ErrAccountGroupMismatch, "account %s", account.Id)
	}
	if _, ok := e.accounts[account.Id]; ok {
		return errors.Wrapf(ErrAccountAlreadyExists, "account %s", account.Id)
	}
	a := account.Clone()
	if len(a.Tokens) == 0 {
		a.Tokens = make(TokenPositions, e.cfg.MaxTokenPositions)
	}
	e.accounts[a.Id] = a
	return nil
}

// Load adds every stored bank and account of the group.
func (e *Engine) Load(ctx context.Context, bankStore BankStore, accountStore AccountStore) error {
	banks, err := bankStore.ListBanksByGroupId(ctx, e.group.Id)
	if err != nil {
		return errors.Wrap(err, "list banks")
	}
	accounts, err := accountStore.ListAccountsByGroupId(ctx, e.group.Id)
	if err != nil {
		return errors.Wrap(err, "list accounts")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, bank := range banks {
		if err := e.addBank(bank); err != nil {
			return err
		}
	}
	for _, account := range accounts {
		if err := e.addAccount(account); err != nil {
			return err
		}
	}
	e.log.Info().Int("banks", len(banks)).Int("accounts", len(accounts)).Msg("engine loaded")
	return nil
}

func (e *Engine) Bank(tokenIndex TokenIndex) (*Bank, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bank, ok := e.banks[tokenIndex]
	if !ok {
		return nil, errors.Wrapf(ErrBankNotFound, "token %d", tokenIndex)
	}
	return bank.Clone(), nil
}

// BankIndices lists the registered token indices in ascending order.
func (e *Engine) BankIndices() []TokenIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	indices := make([]TokenIndex, 0, len(e.banks))
	for idx := range e.banks {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	return indices
}

func (e *Engine) Account(accountId uuid.UUID) (*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	account, err := e.account(accountId)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

func (e *Engine) account(accountId uuid.UUID) (*Account, error) {
	account, ok := e.accounts[accountId]
	if !ok {
		return nil, errors.Wrapf(ErrAccountNotFound, "account %s", accountId)
	}
	return account, nil
}

// HealthOf computes the account health against fresh prices.
func (e *Engine) HealthOf(accountId uuid.UUID, ht HealthType) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	account, err := e.account(accountId)
	if err != nil {
		return decimal.Zero, err
	}
	retriever := NewBankRetriever(e.banks, e.prices, e.cfg, e.clk.Now().Unix())
	return ComputeHealth(account, ht, retriever)
}

// CheckVault compares the custody balance of a bank's vault with what the
// ledger accounts for.
func (e *Engine) CheckVault(ctx context.Context, tokenIndex TokenIndex) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	bank, ok := e.banks[tokenIndex]
	if !ok {
		return errors.Wrapf(ErrBankNotFound, "token %d", tokenIndex)
	}
	balance, err := e.custody.VaultBalance(ctx, bank.Vault)
	if err != nil {
		return err
	}
	expected := bank.ExpectedVaultBalance()
	if !balance.Equal(expected) {
		return errors.Wrapf(ErrCustodyMismatch, "token %d custody %s ledger %s", tokenIndex, balance, expected)
	}
	return nil
}

// opTx collects what one operation touched so it can be committed or undone.
type opTx struct {
	now       int64
	retriever *BankRetriever
	events    EventBuffer
	actions   []ActionDetail
	banks     []*Bank
	undo      []func(ctx context.Context) error
}

func (tx *opTx) touch(banks ...*Bank) {
	for _, bank := range banks {
		found := false
		for _, b := range tx.banks {
			if b == bank {
				found = true
				break
			}
		}
		if !found {
			tx.banks = append(tx.banks, bank)
		}
	}
}

func (tx *opTx) action(account *Account, typ ActionType, bank *Bank, amount decimal.Decimal) {
	tx.actions = append(tx.actions, ActionDetail{
		AccountId:  account.Id,
		ActionType: typ,
		BankId:     bank.Id,
		TokenIndex: bank.TokenIndex,
		Amount:     amount,
	})
}

func (tx *opTx) onRollback(f func(ctx context.Context) error) {
	tx.undo = append(tx.undo, f)
}

// run executes fn under the engine lock. Any error restores the banks and the
// given accounts to their state before fn and reverts custody moves that were
// registered with onRollback.
func (e *Engine) run(ctx context.Context, op OpType, signer string, actorId uuid.UUID, accounts []*Account, fn func(tx *opTx) error) (err error) {
	defer func() {
		e.metrics.ObserveOperation(op, err)
		e.logResult(op, actorId, err)
	}()

	if !e.group.IsIxEnabled(op.gate()) {
		return errors.Wrapf(ErrIxIsDisabled, "%s", op.gate())
	}

	bankSnapshots := make(map[TokenIndex]Bank, len(e.banks))
	for idx, bank := range e.banks {
		bankSnapshots[idx] = *bank
	}
	accountSnapshots := make([]Account, len(accounts))
	for i, account := range accounts {
		accountSnapshots[i] = *account.Clone()
	}

	now := e.clk.Now().Unix()
	tx := &opTx{
		now:       now,
		retriever: NewBankRetriever(e.banks, e.prices, e.cfg, now),
	}

	rollback := func() {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			if uerr := tx.undo[i](ctx); uerr != nil {
				e.log.Error().Err(uerr).Str("op", op.String()).Msg("custody rollback failed")
			}
		}
		for idx, snapshot := range bankSnapshots {
			*e.banks[idx] = snapshot
		}
		for i, account := range accounts {
			*account = accountSnapshots[i]
		}
	}

	if err = fn(tx); err != nil {
		rollback()
		return err
	}

	operate, err := NewOperate(e.clk, e.group.Id, signer, actorId, op, tx.actions, tx.events.Events())
	if err != nil {
		rollback()
		return errors.Wrap(err, "new operate")
	}
	if err = e.journal.Commit(ctx, operate, tx.banks, accounts); err != nil {
		rollback()
		return errors.Wrap(err, "commit operate")
	}
	return nil
}

func (e *Engine) logResult(op OpType, actorId uuid.UUID, err error) {
	switch {
	case err == nil:
		e.log.Info().Str("op", op.String()).Str("account", actorId.String()).Msg("operation committed")
	case IsIntegrity(err):
		e.log.Error().Err(err).Str("op", op.String()).Str("account", actorId.String()).Msg("integrity failure")
	default:
		e.log.Warn().Err(err).Str("op", op.String()).Str("class", ClassOf(err).String()).Msg("operation rejected")
	}
}

// TokenDeposit credits amount native tokens to the account. With reduceOnly,
// or when the bank only accepts repayments, the amount is capped to the
// outstanding borrow. It returns the amount actually deposited.
func (e *Engine) TokenDeposit(ctx context.Context, accountId uuid.UUID, tokenIndex TokenIndex, amount decimal.Decimal, reduceOnly bool, signer string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	account, err := e.account(accountId)
	if err != nil {
		return decimal.Zero, err
	}

	deposited := decimal.Zero
	err = e.run(ctx, OpTokenDeposit, signer, accountId, []*Account{account}, func(tx *opTx) error {
		if amount.IsNegative() {
			return errors.Wrapf(ErrInvalidAmount, "deposit %s", amount)
		}
		if !account.IsOperational() {
			return ErrAccountFrozen
		}
		bank, err := tx.retriever.Bank(tokenIndex)
		if err != nil {
			return err
		}
		position, rawIndex, _, err := account.EnsureTokenPosition(tokenIndex)
		if err != nil {
			return err
		}

		if reduceOnly || bank.AreDepositsReduceOnly() {
			amount = decimal.Min(amount, decimal.Max(position.Native(bank).Neg(), decimal.Zero))
		}

		if err := e.custody.Credit(ctx, bank.Vault, amount); err != nil {
			return err
		}
		tx.onRollback(func(ctx context.Context) error {
			return e.custody.Debit(ctx, bank.Vault, amount)
		})

		active, err := bank.Deposit(position, amount, tx.now)
		if err != nil {
			return err
		}
		tx.events.EmitTokenBalance(account, bank, position.IndexedPosition)
		if !active {
			tx.events.DeactivateTokenPosition(account, rawIndex)
		}

		if account.BeingLiquidated() {
			riskEngine, err := NewRiskEngine(account, tx.retriever)
			if err != nil {
				return err
			}
			riskEngine.MaybeRecoverFromBeingLiquidated()
		}

		tx.touch(bank)
		tx.action(account, ActionDeposit, bank, amount)
		deposited = amount
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return deposited, nil
}

// TokenWithdraw debits amount native tokens from the vault to the owner. The
// part beyond the deposit becomes a borrow when allowBorrow is set.
func (e *Engine) TokenWithdraw(ctx context.Context, accountId uuid.UUID, tokenIndex TokenIndex, amount decimal.Decimal, allowBorrow bool, signer string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	account, err := e.account(accountId)
	if err != nil {
		return err
	}

	return e.run(ctx, OpTokenWithdraw, signer, accountId, []*Account{account}, func(tx *opTx) error {
		if amount.IsNegative() {
			return errors.Wrapf(ErrInvalidAmount, "withdraw %s", amount)
		}
		if !account.IsOperational() {
			return ErrAccountFrozen
		}
		if !account.IsOwnerOrDelegate(signer) {
			return ErrNotOwnerOrDelegate
		}
		bank, err := tx.retriever.Bank(tokenIndex)
		if err != nil {
			return err
		}
		position, rawIndex, _, err := account.EnsureTokenPosition(tokenIndex)
		if err != nil {
			return err
		}

		var riskEngine *RiskEngine
		if !account.SkipsHealthChecks() {
			if riskEngine, err = NewRiskEngine(account, tx.retriever); err != nil {
				return errors.Wrap(err, "pre-withdraw init health")
			}
			if _, err := riskEngine.CheckHealthPre(); err != nil {
				return err
			}
		}

		nativeBefore := position.Native(bank)
		if amount.GreaterThan(decimal.Max(nativeBefore, decimal.Zero)) {
			if !allowBorrow {
				return errors.Wrapf(ErrInsufficientDeposits, "deposit %s, withdraw %s", nativeBefore, amount)
			}
			if bank.AreBorrowsReduceOnly() {
				return errors.Wrapf(ErrBankReduceOnly, "token %d", tokenIndex)
			}
		}

		if err := e.custody.Debit(ctx, bank.Vault, amount); err != nil {
			return err
		}
		tx.onRollback(func(ctx context.Context) error {
			return e.custody.Credit(ctx, bank.Vault, amount)
		})

		active, fee, err := bank.WithdrawWithFee(position, amount, tx.now)
		if err != nil {
			return err
		}
		indexed := position.IndexedPosition
		nativeDelta := position.Native(bank).Sub(nativeBefore)
		if !active {
			tx.events.DeactivateTokenPosition(account, rawIndex)
		}

		if riskEngine != nil {
			if err := riskEngine.Cache.AdjustTokenBalance(bank, nativeDelta); err != nil {
				return err
			}
			if _, err := riskEngine.CheckInitHealthPositive(); err != nil {
				return err
			}
		}

		tx.events.EmitTokenBalance(account, bank, indexed)
		if fee.IsPositive() {
			tx.events.Emit(&LoanOriginationFeeLog{
				GroupId:            account.GroupId,
				AccountId:          account.Id,
				TokenIndex:         bank.TokenIndex,
				LoanOriginationFee: fee,
			})
		}
		tx.touch(bank)
		tx.action(account, ActionWithdraw, bank, amount)
		return nil
	})
}

func (e *Engine) liquidate(ctx context.Context, op OpType, liqorId, liqeeId uuid.UUID, req LiquidationRequest, fn func(log Log, events *EventBuffer, retriever *BankRetriever, liqor, liqee *Account, req LiquidationRequest) (*LiquidateResult, error)) (*LiquidateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	liqor, err := e.account(liqorId)
	if err != nil {
		return nil, err
	}
	liqee, err := e.account(liqeeId)
	if err != nil {
		return nil, err
	}

	var result *LiquidateResult
	err = e.run(ctx, op, req.LiqorOwner, liqorId, []*Account{liqor, liqee}, func(tx *opTx) error {
		res, err := fn(e.log, &tx.events, tx.retriever, liqor, liqee, req)
		if err != nil {
			return err
		}
		assetBank, err := tx.retriever.Bank(req.AssetTokenIndex)
		if err != nil {
			return err
		}
		liabBank, err := tx.retriever.Bank(req.LiabTokenIndex)
		if err != nil {
			return err
		}
		tx.touch(assetBank, liabBank)
		tx.action(liqee, ActionDeposit, liabBank, res.LiabTransfer)
		tx.action(liqee, ActionWithdraw, assetBank, res.AssetTransfer)
		tx.action(liqor, ActionWithdraw, liabBank, res.LiabTransfer)
		tx.action(liqor, ActionDeposit, assetBank, res.AssetTransfer)
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveLiquidation(result.Kind, result.LiabTransfer)
	return result, nil
}

func (e *Engine) TokenLiqWithToken(ctx context.Context, liqorId, liqeeId uuid.UUID, req LiquidationRequest) (*LiquidateResult, error) {
	return e.liquidate(ctx, OpTokenLiqWithToken, liqorId, liqeeId, req, TokenLiqWithToken)
}

func (e *Engine) StakingOptionsLiq(ctx context.Context, liqorId, liqeeId uuid.UUID, req LiquidationRequest) (*LiquidateResult, error) {
	return e.liquidate(ctx, OpStakingOptionsLiq, liqorId, liqeeId, req, StakingOptionsLiq)
}

// StakingOptionsExercise runs an exercise through the configured settlement
// system. When the operation fails after settlement, the verified custody
// moves are reverted along with the ledger.
func (e *Engine) StakingOptionsExercise(ctx context.Context, accountId uuid.UUID, req ExerciseRequest) (*ExerciseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	account, err := e.account(accountId)
	if err != nil {
		return nil, err
	}

	var result *ExerciseResult
	err = e.run(ctx, OpStakingOptionsExercise, req.Owner, accountId, []*Account{account}, func(tx *opTx) error {
		res, err := StakingOptionsExercise(ctx, e.log, &tx.events, tx.retriever, account, e.custody, e.settlement, req)
		if res != nil && res.Settled {
			tx.onRollback(func(ctx context.Context) error {
				return RevertSettlement(ctx, e.custody, req, res)
			})
		}
		if err != nil {
			return err
		}
		baseBank, err := tx.retriever.Bank(req.BaseTokenIndex)
		if err != nil {
			return err
		}
		quoteBank, err := tx.retriever.Bank(req.QuoteTokenIndex)
		if err != nil {
			return err
		}
		optionBank, err := tx.retriever.Bank(req.OptionTokenIndex)
		if err != nil {
			return err
		}
		tx.touch(baseBank, quoteBank, optionBank)
		tx.action(account, ActionDeposit, baseBank, res.BaseDeposited)
		tx.action(account, ActionWithdraw, quoteBank, res.QuoteWithdrawn)
		tx.action(account, ActionWithdraw, optionBank, res.OptionWithdrawn)
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AccrueInterest moves the bank indices forward to now.
func (e *Engine) AccrueInterest(ctx context.Context, tokenIndex TokenIndex) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.run(ctx, OpAccrueInterest, "", uuid.Nil, nil, func(tx *opTx) error {
		bank, err := tx.retriever.Bank(tokenIndex)
		if err != nil {
			return err
		}
		if err := bank.AccrueInterest(e.log, tx.now); err != nil {
			return err
		}
		tx.events.Emit(&UpdateIndexLog{
			GroupId:             bank.GroupId,
			TokenIndex:          bank.TokenIndex,
			DepositIndex:        bank.DepositIndex,
			BorrowIndex:         bank.BorrowIndex,
			CollectedFeesNative: bank.CollectedFeesNative,
		})
		tx.touch(bank)
		return nil
	})
}
