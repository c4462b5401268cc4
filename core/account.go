package core

import (
	"context"
	"strconv"

	"github.com/DomeLiquid/risk/utils"
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	AccountStore interface {
		GetAccountById(ctx context.Context, accountId uuid.UUID) (*Account, error)
		ListAccountsByGroupId(ctx context.Context, groupId uuid.UUID) ([]*Account, error)
		UpsertAccount(ctx context.Context, account *Account) error
	}

	Account struct {
		Id           uuid.UUID    `json:"id"`
		GroupId      uuid.UUID    `json:"groupId"`
		Owner        string       `json:"owner"`
		Delegate     string       `json:"delegate"`
		Name         string       `json:"name"`
		Index        uint8        `json:"index"`
		AccountFlags AccountFlags `json:"accountFlags"`
		HealthMode   HealthMode   `json:"healthMode"`

		// Tokens has a fixed number of slots; inactive slots are free.
		Tokens TokenPositions `json:"tokens"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}
)

type AccountFlags uint8

const (
	FrozenFlag          AccountFlags = 1 << 0
	BeingLiquidatedFlag AccountFlags = 1 << 1
)

type HealthMode uint8

const (
	HealthModeNormal HealthMode = iota
	// HealthModeExempt accounts skip pre and post health checks.
	HealthModeExempt
)

func (m HealthMode) String() string {
	switch m {
	case HealthModeNormal:
		return "Normal"
	case HealthModeExempt:
		return "Exempt"
	default:
		return "Unknown"
	}
}

func NewAccount(clk clock.Clock, groupId uuid.UUID, owner string, index uint8, maxTokenPositions int) *Account {
	if maxTokenPositions <= 0 {
		maxTokenPositions = MAX_TOKEN_POSITIONS
	}
	return &Account{
		Id:        utils.DeriveId(groupId, "account", owner, strconv.Itoa(int(index))),
		GroupId:   groupId,
		Owner:     owner,
		Index:     index,
		Tokens:    make(TokenPositions, maxTokenPositions),
		CreatedAt: clk.Now().Unix(),
		UpdatedAt: clk.Now().Unix(),
	}
}

func (a *Account) SetFlag(flag AccountFlags) {
	a.AccountFlags |= flag
}

func (a *Account) UnsetFlag(flag AccountFlags) {
	a.AccountFlags &= ^flag
}

func (a *Account) GetFlag(flag AccountFlags) bool {
	return a.AccountFlags&flag != 0
}

func (a *Account) IsOperational() bool {
	return !a.GetFlag(FrozenFlag)
}

func (a *Account) BeingLiquidated() bool {
	return a.GetFlag(BeingLiquidatedFlag)
}

func (a *Account) IsOwnerOrDelegate(key string) bool {
	if key == "" {
		return false
	}
	return a.Owner == key || a.Delegate == key
}

// SkipsHealthChecks is the single exemption predicate for health checks.
func (a *Account) SkipsHealthChecks() bool {
	return a.HealthMode == HealthModeExempt
}

func (a *Account) TokenPosition(tokenIndex TokenIndex) (*TokenPosition, error) {
	position, _, err := a.TokenPositionAndRawIndex(tokenIndex)
	return position, err
}

func (a *Account) TokenPositionAndRawIndex(tokenIndex TokenIndex) (*TokenPosition, int, error) {
	for i := range a.Tokens {
		if a.Tokens[i].IsActive() && a.Tokens[i].TokenIndex == tokenIndex {
			return &a.Tokens[i], i, nil
		}
	}
	return nil, -1, errors.Wrapf(ErrTokenPositionNotFound, "token %d", tokenIndex)
}

func (a *Account) TokenPositionByRawIndex(rawIndex int) *TokenPosition {
	return &a.Tokens[rawIndex]
}

// EnsureTokenPosition returns the active position for tokenIndex, taking the
// first free slot when there is none. The bool reports a newly opened slot.
func (a *Account) EnsureTokenPosition(tokenIndex TokenIndex) (*TokenPosition, int, bool, error) {
	if position, raw, err := a.TokenPositionAndRawIndex(tokenIndex); err == nil {
		return position, raw, false, nil
	}
	for i := range a.Tokens {
		if !a.Tokens[i].IsActive() {
			a.Tokens[i] = TokenPosition{
				TokenIndex:      tokenIndex,
				IndexedPosition: decimal.Zero,
				Active:          true,
			}
			return &a.Tokens[i], i, true, nil
		}
	}
	return nil, -1, false, errors.Wrapf(ErrNoFreeTokenPosition, "token %d", tokenIndex)
}

func (a *Account) DeactivateTokenPosition(rawIndex int) {
	a.Tokens[rawIndex] = TokenPosition{
		TokenIndex:      a.Tokens[rawIndex].TokenIndex,
		IndexedPosition: decimal.Zero,
		LastUpdate:      a.Tokens[rawIndex].LastUpdate,
	}
}

func (a *Account) ActiveTokenPositions() []*TokenPosition {
	var positions []*TokenPosition
	for i := range a.Tokens {
		if a.Tokens[i].IsActive() {
			positions = append(positions, &a.Tokens[i])
		}
	}
	return positions
}

func (a *Account) Clone() *Account {
	c := *a
	c.Tokens = make(TokenPositions, len(a.Tokens))
	copy(c.Tokens, a.Tokens)
	return &c
}
