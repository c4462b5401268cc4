package core

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type RiskEngine struct {
	Account *Account
	Cache   *HealthCache
}

func NewRiskEngine(account *Account, retriever *BankRetriever) (*RiskEngine, error) {
	cache, err := NewHealthCache(account, retriever)
	if err != nil {
		return nil, err
	}
	return &RiskEngine{
		Account: account,
		Cache:   cache,
	}, nil
}

func (r *RiskEngine) GetAccountHealth(ht HealthType) decimal.Decimal {
	return r.Cache.Health(ht)
}

// CheckHealthPre returns the Init health an operation starts from. An account
// still flagged as being liquidated may not act; the flag is dropped once Init
// health has recovered.
func (r *RiskEngine) CheckHealthPre() (decimal.Decimal, error) {
	pre := r.Cache.Health(HealthTypeInit)
	r.MaybeRecoverFromBeingLiquidated()
	if r.Account.BeingLiquidated() {
		return decimal.Zero, errors.Wrapf(ErrBeingLiquidated, "init health %s", pre)
	}
	return pre, nil
}

// CheckHealthPost rejects any decrease of Init health relative to pre.
func (r *RiskEngine) CheckHealthPost(pre decimal.Decimal) (decimal.Decimal, error) {
	post := r.Cache.Health(HealthTypeInit)
	if post.LessThan(pre) {
		return post, errors.Wrapf(ErrHealthMustNotDecrease, "pre %s post %s", pre, post)
	}
	return post, nil
}

func (r *RiskEngine) CheckInitHealthPositive() (decimal.Decimal, error) {
	post := r.Cache.Health(HealthTypeInit)
	if post.IsNegative() {
		return post, errors.Wrapf(ErrHealthMustBePositive, "init health %s", post)
	}
	return post, nil
}

// CheckLiquidatable flags the account as being liquidated when its Maint
// health is negative. A flagged account stays liquidatable until its Init
// health is back to zero.
func (r *RiskEngine) CheckLiquidatable() error {
	maint := r.Cache.Health(HealthTypeMaint)
	if maint.IsNegative() {
		r.Account.SetFlag(BeingLiquidatedFlag)
		return nil
	}
	if r.Account.BeingLiquidated() && r.Cache.Health(HealthTypeInit).IsNegative() {
		return nil
	}
	r.Account.UnsetFlag(BeingLiquidatedFlag)
	return errors.Wrapf(ErrAccountNotLiquidatable, "maint health %s", maint)
}

func (r *RiskEngine) MaybeRecoverFromBeingLiquidated() bool {
	if r.Account.BeingLiquidated() && !r.Cache.Health(HealthTypeInit).IsNegative() {
		r.Account.UnsetFlag(BeingLiquidatedFlag)
		return true
	}
	return false
}
