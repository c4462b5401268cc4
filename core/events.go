package core

import (
	"encoding/json"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventTokenBalance       EventKind = "token_balance"
	EventDeactivatePosition EventKind = "deactivate_position"
	EventLoanOriginationFee EventKind = "loan_origination_fee"
	EventLiquidation        EventKind = "liquidation"
	EventExercise           EventKind = "exercise"
	EventUpdateIndex        EventKind = "update_index"
)

type Event interface {
	Kind() EventKind
}

type (
	TokenBalanceLog struct {
		GroupId         uuid.UUID       `json:"groupId"`
		AccountId       uuid.UUID       `json:"accountId"`
		TokenIndex      TokenIndex      `json:"tokenIndex"`
		IndexedPosition decimal.Decimal `json:"indexedPosition"`
		DepositIndex    decimal.Decimal `json:"depositIndex"`
		BorrowIndex     decimal.Decimal `json:"borrowIndex"`
	}

	DeactivatePositionLog struct {
		GroupId    uuid.UUID  `json:"groupId"`
		AccountId  uuid.UUID  `json:"accountId"`
		TokenIndex TokenIndex `json:"tokenIndex"`
	}

	LoanOriginationFeeLog struct {
		GroupId            uuid.UUID       `json:"groupId"`
		AccountId          uuid.UUID       `json:"accountId"`
		TokenIndex         TokenIndex      `json:"tokenIndex"`
		LoanOriginationFee decimal.Decimal `json:"loanOriginationFee"`
	}

	LiquidationLog struct {
		GroupId         uuid.UUID       `json:"groupId"`
		LiquidationKind LiquidationKind `json:"kind"`
		Liqee           uuid.UUID       `json:"liqee"`
		Liqor           uuid.UUID       `json:"liqor"`
		AssetTokenIndex TokenIndex      `json:"assetTokenIndex"`
		LiabTokenIndex  TokenIndex      `json:"liabTokenIndex"`
		AssetTransfer   decimal.Decimal `json:"assetTransfer"`
		LiabTransfer    decimal.Decimal `json:"liabTransfer"`
		AssetPrice      decimal.Decimal `json:"assetPrice"`
		LiabPrice       decimal.Decimal `json:"liabPrice"`
	}

	ExerciseLog struct {
		GroupId             uuid.UUID       `json:"groupId"`
		AccountId           uuid.UUID       `json:"accountId"`
		Amount              decimal.Decimal `json:"amount"`
		Strike              decimal.Decimal `json:"strike"`
		LotSize             decimal.Decimal `json:"lotSize"`
		StakingOptionsState uuid.UUID       `json:"stakingOptionsState"`
	}

	UpdateIndexLog struct {
		GroupId             uuid.UUID       `json:"groupId"`
		TokenIndex          TokenIndex      `json:"tokenIndex"`
		DepositIndex        decimal.Decimal `json:"depositIndex"`
		BorrowIndex         decimal.Decimal `json:"borrowIndex"`
		CollectedFeesNative decimal.Decimal `json:"collectedFeesNative"`
	}
)

func (*TokenBalanceLog) Kind() EventKind       { return EventTokenBalance }
func (*DeactivatePositionLog) Kind() EventKind { return EventDeactivatePosition }
func (*LoanOriginationFeeLog) Kind() EventKind { return EventLoanOriginationFee }
func (*LiquidationLog) Kind() EventKind        { return EventLiquidation }
func (*ExerciseLog) Kind() EventKind           { return EventExercise }
func (*UpdateIndexLog) Kind() EventKind        { return EventUpdateIndex }

type LiquidationKind uint8

const (
	LiquidationKindTokenWithToken LiquidationKind = iota
	LiquidationKindStakingOptions
)

func (k LiquidationKind) String() string {
	switch k {
	case LiquidationKindTokenWithToken:
		return "token_with_token"
	case LiquidationKindStakingOptions:
		return "staking_options"
	default:
		return "unknown"
	}
}

// EventBuffer collects the records of one operation until it commits.
type EventBuffer struct {
	events []Event
}

func (b *EventBuffer) Emit(e Event) {
	if b == nil {
		return
	}
	b.events = append(b.events, e)
}

func (b *EventBuffer) Events() []Event {
	if b == nil {
		return nil
	}
	return b.events
}

func (b *EventBuffer) Reset() {
	if b == nil {
		return
	}
	b.events = nil
}

func (b *EventBuffer) EmitTokenBalance(account *Account, bank *Bank, indexedPosition decimal.Decimal) {
	b.Emit(&TokenBalanceLog{
		GroupId:         account.GroupId,
		AccountId:       account.Id,
		TokenIndex:      bank.TokenIndex,
		IndexedPosition: indexedPosition,
		DepositIndex:    bank.DepositIndex,
		BorrowIndex:     bank.BorrowIndex,
	})
}

// DeactivateTokenPosition frees the slot and records it.
func (b *EventBuffer) DeactivateTokenPosition(account *Account, rawIndex int) {
	tokenIndex := account.TokenPositionByRawIndex(rawIndex).TokenIndex
	account.DeactivateTokenPosition(rawIndex)
	b.Emit(&DeactivatePositionLog{
		GroupId:    account.GroupId,
		AccountId:  account.Id,
		TokenIndex: tokenIndex,
	})
}

type EventRecord struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func NewEventRecords(events []Event) ([]EventRecord, error) {
	records := make([]EventRecord, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		records = append(records, EventRecord{Kind: e.Kind(), Data: data})
	}
	return records, nil
}
