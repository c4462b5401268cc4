package store

import (
	"context"

	"github.com/DomeLiquid/risk/core"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Custody keeps vault balances in the vault_balances table.
type Custody struct {
	db *gorm.DB
}

var _ core.Custody = (*Custody)(nil)

func (s *Store) Custody() *Custody {
	return &Custody{db: s.db}
}

func vaultBalance(tx *gorm.DB, vault uuid.UUID) (decimal.Decimal, error) {
	var row vaultRow
	err := tx.First(&row, "vault = ?", vault).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "vault %s", vault)
	}
	return row.Balance, nil
}

func (c *Custody) VaultBalance(ctx context.Context, vault uuid.UUID) (decimal.Decimal, error) {
	return vaultBalance(c.db.WithContext(ctx), vault)
}

func (c *Custody) Credit(ctx context.Context, vault uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrapf(core.ErrInvalidAmount, "credit %s", amount)
	}
	return c.move(ctx, vault, amount)
}

func (c *Custody) Debit(ctx context.Context, vault uuid.UUID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrapf(core.ErrInvalidAmount, "debit %s", amount)
	}
	return c.move(ctx, vault, amount.Neg())
}

func (c *Custody) move(ctx context.Context, vault uuid.UUID, delta decimal.Decimal) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := vaultBalance(tx, vault)
		if err != nil {
			return err
		}
		next := balance.Add(delta)
		if next.IsNegative() {
			return errors.Wrapf(core.ErrInsufficientCustody, "vault %s has %s, need %s", vault, balance, delta.Neg())
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vault"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance"}),
		}).Create(&vaultRow{Vault: vault, Balance: next}).Error
	})
}
