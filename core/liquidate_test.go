package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optionLiqRequest(owner string) LiquidationRequest {
	return LiquidationRequest{
		AssetTokenIndex: optIndex,
		LiabTokenIndex:  usdIndex,
		MaxLiabTransfer: d("1000000"),
		LiqorOwner:      owner,
	}
}

func TestStakingOptionsLiq(t *testing.T) {
	f, liqor, liqee := newOptionLiqFixture(t, 600)
	events := &EventBuffer{}

	result, err := StakingOptionsLiq(NopLog(), events, f.retriever(), liqor, liqee, optionLiqRequest("liqor"))
	require.NoError(t, err)

	assertDecimal(t, "350", result.LiabTransfer)
	assertDecimal(t, "357", result.AssetTransfer)
	assertDecimal(t, "-490", result.LiquidateePreHealth)
	assertDecimal(t, "0", result.LiquidateePostHealth)
	assert.Equal(t, LiquidationKindStakingOptions, result.Kind)

	assertDecimal(t, "643", nativeOf(t, f, liqee, optIndex))
	_, err = liqee.TokenPosition(usdIndex)
	assert.True(t, errors.Is(err, ErrTokenPositionNotFound))
	assert.Len(t, liqee.ActiveTokenPositions(), 1)
	assert.False(t, liqee.BeingLiquidated())

	assertDecimal(t, "99650", nativeOf(t, f, liqor, usdIndex))
	assertDecimal(t, "100357", nativeOf(t, f, liqor, optIndex))
	assertDecimal(t, "99650", result.LiquidatorPostHealth)

	kinds := map[EventKind]int{}
	var liquidation *LiquidationLog
	for _, e := range events.Events() {
		kinds[e.Kind()]++
		if l, ok := e.(*LiquidationLog); ok {
			liquidation = l
		}
	}
	assert.Equal(t, 4, kinds[EventTokenBalance])
	assert.Equal(t, 1, kinds[EventDeactivatePosition])
	assert.Equal(t, 1, kinds[EventLiquidation])
	assert.Zero(t, kinds[EventLoanOriginationFee])

	require.NotNil(t, liquidation)
	assert.Equal(t, LiquidationKindStakingOptions, liquidation.LiquidationKind)
	assertDecimal(t, "350", liquidation.LiabTransfer)

	records, err := NewEventRecords(events.Events())
	require.NoError(t, err)
	for _, record := range records {
		if record.Kind == EventLiquidation {
			assert.Contains(t, string(record.Data), `"kind":1`)
		}
	}
}

func TestStakingOptionsLiq_Window(t *testing.T) {
	tests := []struct {
		name      string
		remaining int64
		wantErr   error
	}{
		{name: "one second left", remaining: 1},
		{name: "just inside", remaining: EXPIRING_LIQUIDATION_WINDOW - 1},
		{name: "at window", remaining: EXPIRING_LIQUIDATION_WINDOW, wantErr: ErrNotExpiringSoon},
		{name: "just outside", remaining: EXPIRING_LIQUIDATION_WINDOW + 1, wantErr: ErrNotExpiringSoon},
		{name: "expired", remaining: 0, wantErr: ErrNotExpiringSoon},
		{name: "long expired", remaining: -1, wantErr: ErrNotExpiringSoon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, liqor, liqee := newOptionLiqFixture(t, tt.remaining)
			before := nativeOf(t, f, liqee, optIndex)

			_, err := StakingOptionsLiq(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, optionLiqRequest("liqor"))
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, ErrorClassEligibilityWindow, ClassOf(err))
			assertDecimal(t, before.String(), nativeOf(t, f, liqee, optIndex))
		})
	}
}

func TestStakingOptionsLiq_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture, liqor, liqee *Account, req *LiquidationRequest)
		wantErr error
	}{
		{
			name:    "same token",
			mutate:  func(f *fixture, liqor, liqee *Account, req *LiquidationRequest) { req.LiabTokenIndex = optIndex },
			wantErr: ErrSameTokenIndex,
		},
		{
			name:    "wrong signer",
			mutate:  func(f *fixture, liqor, liqee *Account, req *LiquidationRequest) { req.LiqorOwner = "mallory" },
			wantErr: ErrNotOwnerOrDelegate,
		},
		{
			name:    "frozen liqee",
			mutate:  func(f *fixture, liqor, liqee *Account, req *LiquidationRequest) { liqee.SetFlag(FrozenFlag) },
			wantErr: ErrAccountFrozen,
		},
		{
			name:    "frozen liqor",
			mutate:  func(f *fixture, liqor, liqee *Account, req *LiquidationRequest) { liqor.SetFlag(FrozenFlag) },
			wantErr: ErrAccountFrozen,
		},
		{
			name: "asset is not an option",
			mutate: func(f *fixture, liqor, liqee *Account, req *LiquidationRequest) {
				f.banks[optIndex].StakingOptionsExpiration = 0
			},
			wantErr: ErrNotStakingOption,
		},
		{
			name: "swapped sides",
			mutate: func(f *fixture, liqor, liqee *Account, req *LiquidationRequest) {
				req.AssetTokenIndex, req.LiabTokenIndex = usdIndex, optIndex
				f.banks[usdIndex].StakingOptionsState = f.banks[optIndex].StakingOptionsState
				f.banks[usdIndex].StakingOptionsExpiration = f.banks[optIndex].StakingOptionsExpiration
			},
			wantErr: ErrInactiveOrWrongSignPosition,
		},
		{
			name:    "stale liab price",
			mutate:  func(f *fixture, liqor, liqee *Account, req *LiquidationRequest) { f.prices.RemovePrice(usdIndex) },
			wantErr: ErrStalePriceOrNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, liqor, liqee := newOptionLiqFixture(t, 600)
			req := optionLiqRequest("liqor")
			tt.mutate(f, liqor, liqee, &req)

			_, err := StakingOptionsLiq(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, req)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestStakingOptionsLiq_LiquidatorMustStayHealthy(t *testing.T) {
	f, _, liqee := newOptionLiqFixture(t, 600)
	// an empty liquidator would end up with a bare USD borrow
	liqor := f.newAccount("poor")

	_, err := StakingOptionsLiq(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, optionLiqRequest("poor"))
	assert.True(t, errors.Is(err, ErrLiquidatorUnhealthyAfterAction))

	f, _, liqee = newOptionLiqFixture(t, 600)
	liqor = f.newAccount("exempt")
	liqor.HealthMode = HealthModeExempt
	_, err = StakingOptionsLiq(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, optionLiqRequest("exempt"))
	assert.NoError(t, err)
}

func TestStakingOptionsLiq_MaxLiabTransfer(t *testing.T) {
	f, liqor, liqee := newOptionLiqFixture(t, 600)
	req := optionLiqRequest("liqor")
	req.MaxLiabTransfer = d("100")

	result, err := StakingOptionsLiq(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, req)
	require.NoError(t, err)
	assertDecimal(t, "100", result.LiabTransfer)
	assertDecimal(t, "102", result.AssetTransfer)
	assertDecimal(t, "-250", nativeOf(t, f, liqee, usdIndex))
	assert.True(t, result.LiquidateePostHealth.GreaterThan(result.LiquidateePreHealth))
}

// newTokenLiqFixture builds a liquidatee with 100 ETH collateral against a
// 100 USD borrow, under water on Maint health.
func newTokenLiqFixture(t *testing.T) (*fixture, *Account, *Account) {
	t.Helper()
	f := newFixture()

	usd := unitBankConfig()
	usd.LiabilityWeightInit = d("1.4")
	usd.LiabilityWeightMaint = d("1.2")
	usd.LiquidationFee = d("0.02")
	f.addBank(t, "USD", usdIndex, usd, "1")

	eth := unitBankConfig()
	eth.AssetWeightInit = d("0.8")
	eth.AssetWeightMaint = d("0.9")
	f.addBank(t, "ETH", ethIndex, eth, "1")

	liqee := f.newAccount("liqee")
	f.deposit(t, liqee, ethIndex, "100")
	f.borrow(t, liqee, usdIndex, "100")

	liqor := f.newAccount("liqor")
	f.deposit(t, liqor, usdIndex, "100000")

	return f, liqor, liqee
}

func TestTokenLiqWithToken(t *testing.T) {
	tests := []struct {
		name          string
		maxLiab       string
		wantLiab      string
		wantAsset     string
		wantFlagAfter bool
	}{
		// needed = 60 / (1.4 - 0.8*1.02), possible = 100 / 1.02
		{name: "capped by asset", maxLiab: "1000", wantLiab: decimal.NewFromInt(100).Div(d("1.02")).String(), wantAsset: "100", wantFlagAfter: true},
		{name: "capped by max transfer", maxLiab: "50", wantLiab: "50", wantAsset: "51", wantFlagAfter: true},
		{name: "zero max transfer", maxLiab: "0", wantLiab: "0", wantAsset: "0", wantFlagAfter: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, liqor, liqee := newTokenLiqFixture(t)
			req := LiquidationRequest{
				AssetTokenIndex: ethIndex,
				LiabTokenIndex:  usdIndex,
				MaxLiabTransfer: d(tt.maxLiab),
				LiqorOwner:      "liqor",
			}

			result, err := TokenLiqWithToken(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, req)
			require.NoError(t, err)
			assertDecimal(t, tt.wantLiab, result.LiabTransfer)
			assert.True(t, result.AssetTransfer.Sub(d(tt.wantAsset)).Abs().LessThan(d("0.000001")), "asset transfer %s", result.AssetTransfer)
			assertDecimal(t, "-60", result.LiquidateePreHealth)
			assert.True(t, result.LiquidateePostHealth.GreaterThanOrEqual(result.LiquidateePreHealth))
			assert.Equal(t, tt.wantFlagAfter, liqee.BeingLiquidated())
		})
	}
}

func TestTokenLiqWithToken_ReachesZeroInitHealth(t *testing.T) {
	f, liqor, liqee := newTokenLiqFixture(t)
	// extra collateral so the needed amount is the binding limit
	f.deposit(t, liqee, ethIndex, "100")
	f.setPrice(ethIndex, "0.6")
	// init 200*0.6*0.8 - 140 = -44, maint 200*0.6*0.9 - 120 = -12

	req := LiquidationRequest{AssetTokenIndex: ethIndex, LiabTokenIndex: usdIndex, MaxLiabTransfer: d("1000"), LiqorOwner: "liqor"}
	result, err := TokenLiqWithToken(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, req)
	require.NoError(t, err)

	assertDecimal(t, "-44", result.LiquidateePreHealth)
	assert.True(t, result.LiquidateePostHealth.Abs().LessThan(d("0.000001")), "post health %s", result.LiquidateePostHealth)
	assert.True(t, result.LiabTransfer.LessThan(d("100")))
}

func TestTokenLiqWithToken_Rejections(t *testing.T) {
	t.Run("healthy account", func(t *testing.T) {
		f, liqor, liqee := newTokenLiqFixture(t)
		f.deposit(t, liqee, ethIndex, "1000")
		req := LiquidationRequest{AssetTokenIndex: ethIndex, LiabTokenIndex: usdIndex, MaxLiabTransfer: d("1000"), LiqorOwner: "liqor"}
		_, err := TokenLiqWithToken(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, req)
		assert.True(t, errors.Is(err, ErrAccountNotLiquidatable))
	})

	t.Run("option pair is not liquidatable by the generic path", func(t *testing.T) {
		f, liqor, liqee := newOptionLiqFixture(t, 600)
		_, err := TokenLiqWithToken(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, optionLiqRequest("liqor"))
		assert.True(t, errors.Is(err, ErrAccountNotLiquidatable))
	})

	t.Run("not improving", func(t *testing.T) {
		f := newFixture()
		usd := unitBankConfig()
		usd.LiquidationFee = d("0.02")
		f.addBank(t, "USD", usdIndex, usd, "1")
		f.addBank(t, "ETH", ethIndex, unitBankConfig(), "1")
		liqee := f.newAccount("liqee")
		f.deposit(t, liqee, ethIndex, "100")
		f.borrow(t, liqee, usdIndex, "101")
		liqor := f.newAccount("liqor")
		f.deposit(t, liqor, usdIndex, "1000")

		req := LiquidationRequest{AssetTokenIndex: ethIndex, LiabTokenIndex: usdIndex, MaxLiabTransfer: d("1000"), LiqorOwner: "liqor"}
		_, err := TokenLiqWithToken(NopLog(), &EventBuffer{}, f.retriever(), liqor, liqee, req)
		assert.True(t, errors.Is(err, ErrLiquidationNotImproving))
		assertDecimal(t, "-101", nativeOf(t, f, liqee, usdIndex))
	})

	t.Run("same account", func(t *testing.T) {
		f, _, liqee := newTokenLiqFixture(t)
		req := LiquidationRequest{AssetTokenIndex: ethIndex, LiabTokenIndex: usdIndex, MaxLiabTransfer: d("1000"), LiqorOwner: "liqee"}
		_, err := TokenLiqWithToken(NopLog(), &EventBuffer{}, f.retriever(), liqee, liqee, req)
		assert.True(t, errors.Is(err, ErrSameAccount))
	})
}

func TestTokenLiqWithToken_LoanOriginationFee(t *testing.T) {
	f := newFixture()
	usd := unitBankConfig()
	usd.LiabilityWeightInit = d("1.4")
	usd.LiabilityWeightMaint = d("1.2")
	usd.LiquidationFee = d("0.02")
	usd.LoanOriginationFeeRate = d("0.01")
	f.addBank(t, "USD", usdIndex, usd, "1")
	eth := unitBankConfig()
	eth.AssetWeightInit = d("0.8")
	eth.AssetWeightMaint = d("0.9")
	f.addBank(t, "ETH", ethIndex, eth, "1")

	liqee := f.newAccount("liqee")
	f.deposit(t, liqee, ethIndex, "100")
	f.borrow(t, liqee, usdIndex, "100")

	// liquidator pays with a fresh borrow backed by its own ETH
	liqor := f.newAccount("liqor")
	f.deposit(t, liqor, ethIndex, "1000")

	events := &EventBuffer{}
	req := LiquidationRequest{AssetTokenIndex: ethIndex, LiabTokenIndex: usdIndex, MaxLiabTransfer: d("50"), LiqorOwner: "liqor"}
	result, err := TokenLiqWithToken(NopLog(), events, f.retriever(), liqor, liqee, req)
	require.NoError(t, err)

	assertDecimal(t, "0.5", result.LoanOriginationFee)
	assertDecimal(t, "-50.5", nativeOf(t, f, liqor, usdIndex))
	assertDecimal(t, "0.5", f.banks[usdIndex].CollectedFeesNative)

	found := false
	for _, e := range events.Events() {
		if e.Kind() == EventLoanOriginationFee {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLiabNeeded(t *testing.T) {
	tests := []struct {
		name             string
		assetWeight      string
		wantToken        string
		wantStakingEqual bool
	}{
		{name: "asset without init weight", assetWeight: "0", wantToken: "5", wantStakingEqual: true},
		{name: "weighted asset", assetWeight: "0.6", wantToken: "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &HealthCache{TokenInfos: []TokenInfo{
				{TokenIndex: optIndex, InitAssetWeight: d(tt.assetWeight), Prices: Prices{Oracle: d("1"), Stable: d("1")}},
				{TokenIndex: usdIndex, InitLiabWeight: d("1.2"), Prices: Prices{Oracle: d("2"), Stable: d("2")}},
			}}
			req := LiquidationRequest{AssetTokenIndex: optIndex, LiabTokenIndex: usdIndex}

			token, err := tokenLiabNeeded(cache, d("-12"), d("1"), d("2"), req)
			require.NoError(t, err)
			assertDecimal(t, tt.wantToken, token)

			staking, err := stakingOptionsLiabNeeded(cache, d("-12"), d("1"), d("2"), req)
			require.NoError(t, err)
			assertDecimal(t, "5", staking)
			assert.Equal(t, tt.wantStakingEqual, token.Equal(staking))
		})
	}

	cache := &HealthCache{TokenInfos: []TokenInfo{
		{TokenIndex: optIndex, InitAssetWeight: d("1.2"), Prices: Prices{Oracle: d("1"), Stable: d("1")}},
		{TokenIndex: usdIndex, InitLiabWeight: d("1.2"), Prices: Prices{Oracle: d("1"), Stable: d("1")}},
	}}
	_, err := tokenLiabNeeded(cache, d("-12"), d("1"), d("1"), LiquidationRequest{AssetTokenIndex: optIndex, LiabTokenIndex: usdIndex})
	assert.True(t, errors.Is(err, ErrLiquidationNotImproving))
}
