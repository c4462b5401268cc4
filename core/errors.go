package core

import (
	"github.com/pkg/errors"
)

type ErrorClass uint8

const (
	ErrorClassInternal ErrorClass = iota
	ErrorClassAuthorization
	ErrorClassPrecondition
	ErrorClassEligibilityWindow
	ErrorClassIntegrity
	ErrorClassSolvency
	ErrorClassOracle
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassInternal:
		return "internal"
	case ErrorClassAuthorization:
		return "authorization"
	case ErrorClassPrecondition:
		return "precondition"
	case ErrorClassEligibilityWindow:
		return "eligibility_window"
	case ErrorClassIntegrity:
		return "integrity"
	case ErrorClassSolvency:
		return "solvency"
	case ErrorClassOracle:
		return "oracle"
	default:
		return "unknown"
	}
}

// Error is a classified sentinel. Callers wrap it with context via
// errors.Wrap and recover the class with ClassOf.
type Error struct {
	Class ErrorClass
	msg   string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(class ErrorClass, msg string) *Error {
	return &Error{Class: class, msg: msg}
}

var (
	// authorization
	ErrAccountFrozen      = newError(ErrorClassAuthorization, "account is frozen")
	ErrNotOwnerOrDelegate = newError(ErrorClassAuthorization, "signer is not the account owner or delegate")
	ErrIxIsDisabled       = newError(ErrorClassAuthorization, "instruction is disabled for the group")

	// precondition
	ErrSameTokenIndex              = newError(ErrorClassPrecondition, "asset and liability token indices must differ")
	ErrSameAccount                 = newError(ErrorClassPrecondition, "liquidator and liquidatee must differ")
	ErrInactiveOrWrongSignPosition = newError(ErrorClassPrecondition, "asset position must be positive and liability position negative")
	ErrNotStakingOption            = newError(ErrorClassPrecondition, "bank is not a staking option")
	ErrStakingOptionsStateMismatch = newError(ErrorClassPrecondition, "staking options state does not match the option bank")
	ErrVaultMismatch               = newError(ErrorClassPrecondition, "vault does not match the bank record")
	ErrTokenPositionNotFound       = newError(ErrorClassPrecondition, "token position not found")
	ErrTokenPositionInactive       = newError(ErrorClassPrecondition, "token position is inactive")
	ErrNoFreeTokenPosition         = newError(ErrorClassPrecondition, "no free token position slot")
	ErrBankNotFound                = newError(ErrorClassPrecondition, "bank not found")
	ErrBankAlreadyExists           = newError(ErrorClassPrecondition, "bank with this token index already exists")
	ErrAccountNotFound             = newError(ErrorClassPrecondition, "account not found")
	ErrAccountAlreadyExists        = newError(ErrorClassPrecondition, "account already exists")
	ErrAccountGroupMismatch        = newError(ErrorClassPrecondition, "account belongs to another group")
	ErrTokenNotInHealthCache       = newError(ErrorClassPrecondition, "token not present in health cache")
	ErrAccountNotLiquidatable      = newError(ErrorClassPrecondition, "account is not liquidatable")
	ErrBeingLiquidated             = newError(ErrorClassPrecondition, "account is being liquidated")
	ErrLiquidationNotImproving     = newError(ErrorClassPrecondition, "liquidating this token pair cannot raise health")
	ErrBankReduceOnly              = newError(ErrorClassPrecondition, "bank is reduce only")
	ErrInvalidAmount               = newError(ErrorClassPrecondition, "amount must not be negative")
	ErrInsufficientDeposits        = newError(ErrorClassPrecondition, "withdrawal exceeds deposits and borrowing is not allowed")
	ErrInsufficientCustody         = newError(ErrorClassPrecondition, "vault custody balance is insufficient")
	ErrInvalidConfig               = newError(ErrorClassPrecondition, "invalid bank config")
	ErrSettlementNotConfigured     = newError(ErrorClassPrecondition, "settlement system is not configured")
	ErrSettlementRejected          = newError(ErrorClassPrecondition, "external settlement call rejected")

	// eligibility window
	ErrNotExpiringSoon = newError(ErrorClassEligibilityWindow, "staking option is not within its expiring liquidation window")

	// integrity
	ErrSettlementIntegrity = newError(ErrorClassIntegrity, "external settlement produced unexpected vault balance changes")
	ErrCustodyMismatch     = newError(ErrorClassIntegrity, "vault custody does not match ledger balances")

	// solvency
	ErrLiquidatorUnhealthyAfterAction = newError(ErrorClassSolvency, "liquidator init health is negative after liquidation")
	ErrHealthMustNotDecrease          = newError(ErrorClassSolvency, "post init health is below pre init health")
	ErrHealthMustBePositive           = newError(ErrorClassSolvency, "init health must not be negative")

	// oracle
	ErrStalePriceOrNoData = newError(ErrorClassOracle, "oracle price is stale or unavailable")

	// internal
	ErrMath = newError(ErrorClassInternal, "math error")

	ErrNegativeInterestRate  = newError(ErrorClassInternal, "negative interest rate")
	ErrOptimalUr             = newError(ErrorClassInternal, "optimal utilization rate must be in (0, 1)")
	ErrPlateauIr             = newError(ErrorClassInternal, "plateau interest rate must be positive")
	ErrMaxIr                 = newError(ErrorClassInternal, "max interest rate must be positive")
	ErrPlateauGreaterThanMax = newError(ErrorClassInternal, "plateau interest rate must be below max interest rate")
)

func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassInternal
}

// IsIntegrity reports failures caused by a misbehaving external dependency.
func IsIntegrity(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassIntegrity
}
