package core

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBank_DepositWithdraw(t *testing.T) {
	tests := []struct {
		name       string
		start      string
		deposit    string
		withdraw   string
		dusting    bool
		wantNative string
		wantActive bool
		wantDust   string
	}{
		{name: "deposit to positive", start: "0", deposit: "100", wantNative: "100", wantActive: true, wantDust: "0"},
		{name: "repay exactly to zero", start: "-10", deposit: "10", wantNative: "0", wantActive: false, wantDust: "0"},
		{name: "repay past zero keeps small deposit", start: "-10", deposit: "10.5", wantNative: "0.5", wantActive: true, wantDust: "0"},
		{name: "repay past zero with dusting", start: "-10", deposit: "10.5", dusting: true, wantNative: "0", wantActive: false, wantDust: "0.5"},
		{name: "dusting leaves large deposit", start: "-10", deposit: "12", dusting: true, wantNative: "2", wantActive: true, wantDust: "0"},
		{name: "dusting leaves borrow untouched", start: "-10", deposit: "9.5", dusting: true, wantNative: "-0.5", wantActive: true, wantDust: "0"},
		{name: "withdraw into borrow", start: "10", withdraw: "15", wantNative: "-5", wantActive: true, wantDust: "0"},
		{name: "withdraw exactly to zero", start: "10", withdraw: "10", wantNative: "0", wantActive: false, wantDust: "0"},
		{name: "withdraw keeps residue", start: "10", withdraw: "9.7", wantNative: "0.3", wantActive: true, wantDust: "0"},
		{name: "withdraw residue with dusting", start: "10", withdraw: "9.7", dusting: true, wantNative: "0", wantActive: false, wantDust: "0.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			bank := f.addBank(t, "USD", usdIndex, unitBankConfig(), "1")
			account := f.newAccount("alice")
			start := d(tt.start)
			if start.IsPositive() {
				f.deposit(t, account, usdIndex, tt.start)
			} else if start.IsNegative() {
				f.borrow(t, account, usdIndex, start.Neg().String())
			}
			position, _, _, err := account.EnsureTokenPosition(usdIndex)
			require.NoError(t, err)

			var active bool
			switch {
			case tt.deposit != "" && tt.dusting:
				active, err = bank.DepositWithDusting(position, d(tt.deposit), f.now())
			case tt.deposit != "":
				active, err = bank.Deposit(position, d(tt.deposit), f.now())
			case tt.dusting:
				active, err = bank.WithdrawWithoutFeeWithDusting(position, d(tt.withdraw), f.now())
			default:
				active, err = bank.WithdrawWithoutFee(position, d(tt.withdraw), f.now())
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantActive, active)
			assertDecimal(t, tt.wantNative, position.Native(bank))
			assertDecimal(t, tt.wantDust, bank.Dust)
		})
	}
}

func TestBank_DustingIsIdempotent(t *testing.T) {
	f := newFixture()
	bank := f.addBank(t, "USD", usdIndex, unitBankConfig(), "1")
	account := f.newAccount("alice")
	f.deposit(t, account, usdIndex, "0.4")
	position, err := account.TokenPosition(usdIndex)
	require.NoError(t, err)

	active, err := bank.DepositWithDusting(position, d("0"), f.now())
	require.NoError(t, err)
	assert.False(t, active)
	assertDecimal(t, "0.4", bank.Dust)
	assertDecimal(t, "0", bank.IndexedDeposits)

	active, err = bank.DepositWithDusting(position, d("0"), f.now())
	require.NoError(t, err)
	assert.False(t, active)
	assertDecimal(t, "0.4", bank.Dust)
}

func TestBank_DustThresholdFallback(t *testing.T) {
	f := newFixture()
	cfg := unitBankConfig()
	cfg.DustThreshold = d("0")
	bank := f.addBank(t, "USD", usdIndex, cfg, "1")
	account := f.newAccount("alice")
	f.deposit(t, account, usdIndex, "5")
	position, err := account.TokenPosition(usdIndex)
	require.NoError(t, err)

	active, err := bank.WithdrawWithoutFeeWithDusting(position, d("4.1"), f.now())
	require.NoError(t, err)
	assert.False(t, active)
	assertDecimal(t, "0.9", bank.Dust)
}

func TestBank_WithdrawWithFee(t *testing.T) {
	tests := []struct {
		name       string
		deposit    string
		withdraw   string
		wantFee    string
		wantNative string
	}{
		{name: "no new borrow", deposit: "100", withdraw: "60", wantFee: "0", wantNative: "40"},
		{name: "partial new borrow", deposit: "100", withdraw: "150", wantFee: "0.5", wantNative: "-50.5"},
		{name: "all new borrow", deposit: "0", withdraw: "200", wantFee: "2", wantNative: "-202"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			cfg := unitBankConfig()
			cfg.LoanOriginationFeeRate = d("0.01")
			bank := f.addBank(t, "USD", usdIndex, cfg, "1")
			account := f.newAccount("alice")
			position, _, _, err := account.EnsureTokenPosition(usdIndex)
			require.NoError(t, err)
			_, err = bank.Deposit(position, d(tt.deposit), f.now())
			require.NoError(t, err)

			_, fee, err := bank.WithdrawWithFee(position, d(tt.withdraw), f.now())
			require.NoError(t, err)
			assertDecimal(t, tt.wantFee, fee)
			assertDecimal(t, tt.wantNative, position.Native(bank))
			assertDecimal(t, tt.wantFee, bank.CollectedFeesNative)

			// vault moved by deposit - withdraw
			assertDecimal(t, d(tt.deposit).Sub(d(tt.withdraw)).String(), bank.ExpectedVaultBalance())
		})
	}
}

func TestBank_RejectsBadPositions(t *testing.T) {
	f := newFixture()
	bank := f.addBank(t, "USD", usdIndex, unitBankConfig(), "1")
	f.addBank(t, "ETH", ethIndex, unitBankConfig(), "1")
	account := f.newAccount("alice")
	f.deposit(t, account, usdIndex, "10")
	position, err := account.TokenPosition(usdIndex)
	require.NoError(t, err)

	_, err = bank.Deposit(position, d("-1"), f.now())
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	_, err = f.banks[ethIndex].Deposit(position, d("1"), f.now())
	assert.True(t, errors.Is(err, ErrTokenPositionNotFound))

	inactive := &TokenPosition{TokenIndex: usdIndex}
	_, err = bank.Deposit(inactive, d("1"), f.now())
	assert.True(t, errors.Is(err, ErrTokenPositionInactive))
	_, _, err = bank.WithdrawWithFee(inactive, d("1"), f.now())
	assert.True(t, errors.Is(err, ErrTokenPositionInactive))
}

func TestBank_TotalsFollowPositions(t *testing.T) {
	f := newFixture()
	bank := f.addBank(t, "USD", usdIndex, unitBankConfig(), "1")
	alice := f.newAccount("alice")
	bob := f.newAccount("bob")
	f.deposit(t, alice, usdIndex, "100")
	f.borrow(t, bob, usdIndex, "40")

	assertDecimal(t, "100", bank.IndexedDeposits)
	assertDecimal(t, "40", bank.IndexedBorrows)

	// bob flips from borrow to deposit
	f.deposit(t, bob, usdIndex, "50")
	assertDecimal(t, "110", bank.IndexedDeposits)
	assertDecimal(t, "0", bank.IndexedBorrows)
	assertDecimal(t, "110", bank.ExpectedVaultBalance())
}

func TestBank_AccrueInterestConservesCustody(t *testing.T) {
	f := newFixture()
	cfg := unitBankConfig()
	cfg.InterestRateConfig = InterestRateConfig{
		OptimalUtilizationRate: d("0.8"),
		PlateauInterestRate:    d("0.1"),
		MaxInterestRate:        d("1"),
		ProtocolIrFee:          d("0.1"),
	}
	bank := f.addBank(t, "USD", usdIndex, cfg, "1")
	f.deposit(t, f.newAccount("alice"), usdIndex, "1000")
	f.borrow(t, f.newAccount("bob"), usdIndex, "500")
	assertDecimal(t, "500", bank.ExpectedVaultBalance())

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	require.NoError(t, bank.AccrueInterest(&logger, f.now()+SECONDS_PER_YEAR))

	var accrued map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "accrued interest" {
			accrued = entry
		}
	}
	require.NotNil(t, accrued)
	assert.Equal(t, bank.CollectedFeesNative.String(), accrued["collected"])

	assert.True(t, bank.DepositIndex.GreaterThan(ONE))
	assert.True(t, bank.BorrowIndex.GreaterThan(bank.DepositIndex))
	assert.True(t, bank.CollectedFeesNative.IsPositive())
	assertDecimal(t, "500", bank.ExpectedVaultBalance())
	assert.Equal(t, f.now()+SECONDS_PER_YEAR, bank.LastUpdate)
}

func TestBank_AccrueInterestSkips(t *testing.T) {
	f := newFixture()
	bank := f.addBank(t, "USD", usdIndex, unitBankConfig(), "1")
	f.deposit(t, f.newAccount("alice"), usdIndex, "1000")
	f.borrow(t, f.newAccount("bob"), usdIndex, "500")

	require.NoError(t, bank.AccrueInterest(NopLog(), f.now()-10))
	assertDecimal(t, "1", bank.DepositIndex)

	// disabled interest only moves the timestamp
	require.NoError(t, bank.AccrueInterest(NopLog(), f.now()+100))
	assertDecimal(t, "1", bank.BorrowIndex)
	assert.Equal(t, f.now()+100, bank.LastUpdate)
}

func TestBankConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *BankConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(cfg *BankConfig) {}},
		{name: "init asset weight above one", mutate: func(cfg *BankConfig) { cfg.AssetWeightInit = d("1.1") }, wantErr: true},
		{name: "maint below init", mutate: func(cfg *BankConfig) { cfg.AssetWeightInit = d("0.9"); cfg.AssetWeightMaint = d("0.8") }, wantErr: true},
		{name: "liab weight below one", mutate: func(cfg *BankConfig) { cfg.LiabilityWeightInit = d("0.9") }, wantErr: true},
		{name: "maint liab above init", mutate: func(cfg *BankConfig) { cfg.LiabilityWeightMaint = d("1.5") }, wantErr: true},
		{name: "negative fee", mutate: func(cfg *BankConfig) { cfg.LiquidationFee = d("-0.1") }, wantErr: true},
		{name: "unknown reduce only", mutate: func(cfg *BankConfig) { cfg.ReduceOnly = 9 }, wantErr: true},
		{name: "plateau above max", mutate: func(cfg *BankConfig) {
			cfg.InterestRateConfig = InterestRateConfig{OptimalUtilizationRate: d("0.5"), PlateauInterestRate: d("2"), MaxInterestRate: d("1")}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := unitBankConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
