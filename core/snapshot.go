package core

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// VaultSnapshot holds the custody balances of the three vaults an exercise
// touches.
type VaultSnapshot struct {
	Base   decimal.Decimal `json:"base"`
	Quote  decimal.Decimal `json:"quote"`
	Option decimal.Decimal `json:"option"`
}

func TakeVaultSnapshot(ctx context.Context, custody Custody, baseVault, quoteVault, optionVault uuid.UUID) (VaultSnapshot, error) {
	base, err := custody.VaultBalance(ctx, baseVault)
	if err != nil {
		return VaultSnapshot{}, err
	}
	quote, err := custody.VaultBalance(ctx, quoteVault)
	if err != nil {
		return VaultSnapshot{}, err
	}
	option, err := custody.VaultBalance(ctx, optionVault)
	if err != nil {
		return VaultSnapshot{}, err
	}
	return VaultSnapshot{Base: base, Quote: quote, Option: option}, nil
}

// Sub returns s - other per vault.
func (s VaultSnapshot) Sub(other VaultSnapshot) VaultSnapshot {
	return VaultSnapshot{
		Base:   s.Base.Sub(other.Base),
		Quote:  s.Quote.Sub(other.Quote),
		Option: s.Option.Sub(other.Option),
	}
}
