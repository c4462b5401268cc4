package core

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const fixtureEpoch = 1_700_000_000

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newMockClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Add(fixtureEpoch * time.Second)
	return clk
}

func unitBankConfig() BankConfig {
	return BankConfig{
		AssetWeightInit:      ONE,
		AssetWeightMaint:     ONE,
		LiabilityWeightInit:  ONE,
		LiabilityWeightMaint: ONE,
		DustThreshold:        ONE,
	}
}

type fixture struct {
	clk    *clock.Mock
	group  *Group
	prices *StaticPriceAdapterMgr
	banks  map[TokenIndex]*Bank
	cfg    RiskConfig
}

func newFixture() *fixture {
	clk := newMockClock()
	return &fixture{
		clk:    clk,
		group:  NewGroup(clk, "admin", "test", "test group"),
		prices: NewStaticPriceAdapterMgr(),
		banks:  map[TokenIndex]*Bank{},
		cfg:    DefaultRiskConfig(),
	}
}

func (f *fixture) now() int64 {
	return f.clk.Now().Unix()
}

func (f *fixture) addBank(t *testing.T, name string, tokenIndex TokenIndex, cfg BankConfig, price string) *Bank {
	t.Helper()
	bank := NewBank(f.clk, f.group.Id, name, tokenIndex, cfg)
	require.NoError(t, bank.Validate())
	f.banks[tokenIndex] = bank
	f.setPrice(tokenIndex, price)
	return bank
}

func (f *fixture) makeStakingOption(bank *Bank, remaining int64) uuid.UUID {
	state := uuid.Must(uuid.NewV4())
	bank.StakingOptionsState = state
	bank.StakingOptionsExpiration = f.now() + remaining
	return state
}

func (f *fixture) setPrice(tokenIndex TokenIndex, price string) {
	f.prices.SetPrice(tokenIndex, OraclePrice{
		Price:      d(price),
		LastUpdate: f.now(),
	})
}

func (f *fixture) retriever() *BankRetriever {
	return NewBankRetriever(f.banks, f.prices, f.cfg, f.now())
}

func (f *fixture) newAccount(owner string) *Account {
	return NewAccount(f.clk, f.group.Id, owner, 0, f.cfg.MaxTokenPositions)
}

func (f *fixture) deposit(t *testing.T, account *Account, tokenIndex TokenIndex, amount string) {
	t.Helper()
	position, _, _, err := account.EnsureTokenPosition(tokenIndex)
	require.NoError(t, err)
	_, err = f.banks[tokenIndex].Deposit(position, d(amount), f.now())
	require.NoError(t, err)
}

func (f *fixture) borrow(t *testing.T, account *Account, tokenIndex TokenIndex, amount string) {
	t.Helper()
	position, _, _, err := account.EnsureTokenPosition(tokenIndex)
	require.NoError(t, err)
	_, err = f.banks[tokenIndex].WithdrawWithoutFee(position, d(amount), f.now())
	require.NoError(t, err)
}

func nativeOf(t *testing.T, f *fixture, account *Account, tokenIndex TokenIndex) decimal.Decimal {
	t.Helper()
	position, err := account.TokenPosition(tokenIndex)
	if err != nil {
		return decimal.Zero
	}
	return position.Native(f.banks[tokenIndex])
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(t, d(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

const (
	usdIndex TokenIndex = 0
	optIndex TokenIndex = 1
	ethIndex TokenIndex = 2
)

// newOptionLiqFixture builds a liquidatee holding 1000 staking options against
// a 350 USD borrow, and a well funded liquidator.
func newOptionLiqFixture(t *testing.T, remaining int64) (*fixture, *Account, *Account) {
	t.Helper()
	f := newFixture()

	usd := unitBankConfig()
	usd.LiabilityWeightInit = d("1.4")
	usd.LiabilityWeightMaint = d("1.2")
	usd.LiquidationFee = d("0.02")
	f.addBank(t, "USD", usdIndex, usd, "1")

	opt := unitBankConfig()
	opt.LiquidationFee = d("0.02")
	f.makeStakingOption(f.addBank(t, "OPT", optIndex, opt, "1"), remaining)

	liqee := f.newAccount("liqee")
	f.deposit(t, liqee, optIndex, "1000")
	f.borrow(t, liqee, usdIndex, "350")

	liqor := f.newAccount("liqor")
	f.deposit(t, liqor, usdIndex, "100000")
	f.deposit(t, liqor, optIndex, "100000")

	return f, liqor, liqee
}
