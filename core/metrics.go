package core

import "github.com/shopspring/decimal"

// Metrics receives the outcome of every engine operation.
type Metrics interface {
	ObserveOperation(op OpType, err error)
	ObserveLiquidation(kind LiquidationKind, liabTransfer decimal.Decimal)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(OpType, error)                    {}
func (nopMetrics) ObserveLiquidation(LiquidationKind, decimal.Decimal) {}
