package core

import (
	"context"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Custody holds the pooled token balances backing each bank's vault.
type Custody interface {
	VaultBalance(ctx context.Context, vault uuid.UUID) (decimal.Decimal, error)
	Credit(ctx context.Context, vault uuid.UUID, amount decimal.Decimal) error
	Debit(ctx context.Context, vault uuid.UUID, amount decimal.Decimal) error
}

type MemoryCustody struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
}

func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{balances: map[uuid.UUID]decimal.Decimal{}}
}

func (c *MemoryCustody) VaultBalance(ctx context.Context, vault uuid.UUID) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[vault], nil
}

func (c *MemoryCustody) Credit(ctx context.Context, vault uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrapf(ErrInvalidAmount, "credit %s", amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[vault] = c.balances[vault].Add(amount)
	return nil
}

func (c *MemoryCustody) Debit(ctx context.Context, vault uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrapf(ErrInvalidAmount, "debit %s", amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	balance := c.balances[vault]
	if balance.LessThan(amount) {
		return errors.Wrapf(ErrInsufficientCustody, "vault %s has %s, need %s", vault, balance, amount)
	}
	c.balances[vault] = balance.Sub(amount)
	return nil
}
