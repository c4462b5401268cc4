package core

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// CalcValue prices amount, optionally weighted. A nil weight counts in full.
func CalcValue(amount decimal.Decimal, price decimal.Decimal, weight *decimal.Decimal) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}

	var weightedAmount decimal.Decimal
	if weight != nil {
		weightedAmount = amount.Mul(*weight)
	} else {
		weightedAmount = amount
	}

	return weightedAmount.Mul(price)
}

func CalcAmount(value decimal.Decimal, price decimal.Decimal) (decimal.Decimal, error) {
	if price.IsZero() {
		return decimal.Zero, errors.Wrap(ErrMath, "price is zero")
	}
	return value.Div(price), nil
}

func CalcInterestRateAccrualStateChanges(log Log, timeDelta uint64, totalDeposits decimal.Decimal, totalBorrows decimal.Decimal, interestRateConfig InterestRateConfig, depositIndex decimal.Decimal, borrowIndex decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	utilizationRate := totalBorrows.Div(totalDeposits)

	lendingApr, borrowingApr, groupFeeApr, insuranceFeeApr, err := interestRateConfig.CalcInterestRate(utilizationRate)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	log.Debug().Msgf("timeDelta: %d, utilizationRate: %s, lendingApr: %s, borrowingApr: %s, groupFeeApr: %s, insuranceFeeApr: %s", timeDelta, utilizationRate, lendingApr, borrowingApr, groupFeeApr, insuranceFeeApr)

	accruedDepositIndex := CalcAccruedInterestPaymentPerPeriod(lendingApr, timeDelta, depositIndex)
	accruedBorrowIndex := CalcAccruedInterestPaymentPerPeriod(borrowingApr, timeDelta, borrowIndex)

	return accruedDepositIndex, accruedBorrowIndex, nil
}

func CalcAccruedInterestPaymentPerPeriod(apr decimal.Decimal, timeDelta uint64, value decimal.Decimal) decimal.Decimal {
	irPerPeriod := apr.Mul(decimal.NewFromInt(int64(timeDelta))).Div(decimal.NewFromInt(SECONDS_PER_YEAR))
	return value.Mul(ONE.Add(irPerPeriod))
}
