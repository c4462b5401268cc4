package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
)

type (
	GroupStore interface {
		CreateGroup(ctx context.Context, group *Group) error
		GetGroupById(ctx context.Context, id uuid.UUID) (*Group, error)
		UpdateGroup(ctx context.Context, group *Group) error
	}

	Group struct {
		Id       uuid.UUID `json:"id"`
		AdminKey string    `json:"adminKey"`

		Name        string `json:"name"`
		Description string `json:"description"`
		DisabledIxs IxGate `json:"disabledIxs"`
		CreatedAt   int64  `json:"createdAt"`
		UpdatedAt   int64  `json:"updatedAt"`
	}
)

// IxGate is a bit set of disabled instructions.
type IxGate uint64

const (
	IxTokenDeposit IxGate = 1 << iota
	IxTokenWithdraw
	IxTokenLiqWithToken
	IxStakingOptionsLiq
	IxStakingOptionsExercise
	IxAccrueInterest
)

func (ix IxGate) String() string {
	switch ix {
	case IxTokenDeposit:
		return "TokenDeposit"
	case IxTokenWithdraw:
		return "TokenWithdraw"
	case IxTokenLiqWithToken:
		return "TokenLiqWithToken"
	case IxStakingOptionsLiq:
		return "StakingOptionsLiq"
	case IxStakingOptionsExercise:
		return "StakingOptionsExercise"
	case IxAccrueInterest:
		return "AccrueInterest"
	default:
		return "Unknown"
	}
}

func NewGroup(clk clock.Clock, adminKey string, name string, description string) *Group {
	return &Group{
		Id:          uuid.Must(uuid.NewV4()),
		AdminKey:    adminKey,
		Name:        name,
		Description: description,
		CreatedAt:   clk.Now().Unix(),
		UpdatedAt:   clk.Now().Unix(),
	}
}

func (g *Group) IsIxEnabled(ix IxGate) bool {
	return g.DisabledIxs&ix == 0
}

func (g *Group) SetIxEnabled(clk clock.Clock, ix IxGate, enabled bool) {
	if enabled {
		g.DisabledIxs &= ^ix
	} else {
		g.DisabledIxs |= ix
	}
	g.UpdatedAt = clk.Now().Unix()
}
