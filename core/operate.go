package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type OpType uint8

const (
	OpTokenDeposit OpType = iota + 1
	OpTokenWithdraw
	OpTokenLiqWithToken
	OpStakingOptionsLiq
	OpStakingOptionsExercise
	OpAccrueInterest
)

func (op OpType) String() string {
	switch op {
	case OpTokenDeposit:
		return "token_deposit"
	case OpTokenWithdraw:
		return "token_withdraw"
	case OpTokenLiqWithToken:
		return "token_liq_with_token"
	case OpStakingOptionsLiq:
		return "staking_options_liq"
	case OpStakingOptionsExercise:
		return "staking_options_exercise"
	case OpAccrueInterest:
		return "accrue_interest"
	default:
		return "unknown"
	}
}

func (op OpType) gate() IxGate {
	switch op {
	case OpTokenDeposit:
		return IxTokenDeposit
	case OpTokenWithdraw:
		return IxTokenWithdraw
	case OpTokenLiqWithToken:
		return IxTokenLiqWithToken
	case OpStakingOptionsLiq:
		return IxStakingOptionsLiq
	case OpStakingOptionsExercise:
		return IxStakingOptionsExercise
	case OpAccrueInterest:
		return IxAccrueInterest
	default:
		return 0
	}
}

type ActionType uint8

const (
	ActionDeposit ActionType = iota + 1
	ActionWithdraw
)

type (
	OperateStore interface {
		CreateOperate(ctx context.Context, operate *Operate) error
		ListOperates(ctx context.Context, accountId uuid.UUID, op OpType, createdBeforeAt, limit int64) ([]Operate, error)
	}

	// Journal persists the outcome of one committed operation. Commit must be
	// atomic: the operate record and the touched banks and accounts are stored
	// together or not at all.
	Journal interface {
		Commit(ctx context.Context, operate *Operate, banks []*Bank, accounts []*Account) error
	}

	Operate struct {
		Id        uuid.UUID     `json:"id"`
		GroupId   uuid.UUID     `json:"groupId"`
		PubKey    string        `json:"pubKey"`
		AccountId uuid.UUID     `json:"accountId"`
		Op        OpType        `json:"op"`
		Extra     OperateDetail `json:"extra"`
		CreatedAt int64         `json:"createdAt"`

		Events []Event `json:"-" gorm:"-"`
	}

	OperateDetail struct {
		Type      OpType         `json:"type"`
		AccountId uuid.UUID      `json:"actor"`
		Actions   []ActionDetail `json:"actions"`
		Events    []EventRecord  `json:"events"`
	}

	ActionDetail struct {
		AccountId  uuid.UUID       `json:"actor"`
		ActionType ActionType      `json:"actionType"`
		BankId     uuid.UUID       `json:"bankId"`
		TokenIndex TokenIndex      `json:"tokenIndex"`
		Amount     decimal.Decimal `json:"amount"`
	}
)

func NewOperate(clk clock.Clock, groupId uuid.UUID, pubKey string, accountId uuid.UUID, typ OpType, actions []ActionDetail, events []Event) (*Operate, error) {
	records, err := NewEventRecords(events)
	if err != nil {
		return nil, err
	}
	return &Operate{
		Id:        uuid.Must(uuid.NewV4()),
		GroupId:   groupId,
		PubKey:    pubKey,
		AccountId: accountId,
		Op:        typ,
		Extra: OperateDetail{
			Type:      typ,
			AccountId: accountId,
			Actions:   actions,
			Events:    records,
		},
		CreatedAt: clk.Now().Unix(),
		Events:    events,
	}, nil
}

func (j OperateDetail) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}

func (j *OperateDetail) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.Errorf("cannot scan %T into OperateDetail", value)
	}
}

// MemoryJournal keeps committed operations in memory.
type MemoryJournal struct {
	mu       sync.Mutex
	operates []Operate
	banks    map[uuid.UUID]*Bank
	accounts map[uuid.UUID]*Account
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		banks:    map[uuid.UUID]*Bank{},
		accounts: map[uuid.UUID]*Account{},
	}
}

func (j *MemoryJournal) Commit(ctx context.Context, operate *Operate, banks []*Bank, accounts []*Account) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.operates = append(j.operates, *operate)
	for _, bank := range banks {
		j.banks[bank.Id] = bank.Clone()
	}
	for _, account := range accounts {
		j.accounts[account.Id] = account.Clone()
	}
	return nil
}

func (j *MemoryJournal) Operates() []Operate {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Operate, len(j.operates))
	copy(out, j.operates)
	return out
}

func (j *MemoryJournal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	var events []Event
	for _, op := range j.operates {
		events = append(events, op.Events...)
	}
	return events
}
