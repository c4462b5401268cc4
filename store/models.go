package store

import (
	"encoding/json"

	"github.com/DomeLiquid/risk/core"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger state is stored as JSON next to the columns used for lookups, so
// the core types stay free of storage tags.
type (
	groupRow struct {
		Id        uuid.UUID `gorm:"type:text;primaryKey"`
		Data      string    `gorm:"type:text;not null"`
		UpdatedAt int64
	}

	bankRow struct {
		Id         uuid.UUID       `gorm:"type:text;primaryKey"`
		GroupId    uuid.UUID       `gorm:"type:text;uniqueIndex:idx_bank_group_token"`
		TokenIndex core.TokenIndex `gorm:"uniqueIndex:idx_bank_group_token"`
		Data       string          `gorm:"type:text;not null"`
		LastUpdate int64
	}

	accountRow struct {
		Id        uuid.UUID `gorm:"type:text;primaryKey"`
		GroupId   uuid.UUID `gorm:"type:text;index"`
		Owner     string    `gorm:"index"`
		Data      string    `gorm:"type:text;not null"`
		UpdatedAt int64
	}

	operateRow struct {
		Id        uuid.UUID          `gorm:"type:text;primaryKey"`
		GroupId   uuid.UUID          `gorm:"type:text;index"`
		PubKey    string             `gorm:"index"`
		AccountId uuid.UUID          `gorm:"type:text;index:idx_operate_account_created"`
		Op        core.OpType        `gorm:"index"`
		Extra     core.OperateDetail `gorm:"type:text"`
		CreatedAt int64              `gorm:"autoCreateTime:false;index:idx_operate_account_created"`
	}

	eventRow struct {
		Id        int64          `gorm:"primaryKey;autoIncrement"`
		OperateId uuid.UUID      `gorm:"type:text;index"`
		Seq       int            `gorm:"not null"`
		Kind      core.EventKind `gorm:"index"`
		Data      string         `gorm:"type:text;not null"`
		CreatedAt int64          `gorm:"autoCreateTime:false"`
	}

	vaultRow struct {
		Vault   uuid.UUID       `gorm:"type:text;primaryKey"`
		Balance decimal.Decimal `gorm:"type:text;not null"`
	}
)

func (groupRow) TableName() string   { return "account_groups" }
func (bankRow) TableName() string    { return "banks" }
func (accountRow) TableName() string { return "accounts" }
func (operateRow) TableName() string { return "operates" }
func (eventRow) TableName() string   { return "events" }
func (vaultRow) TableName() string   { return "vault_balances" }

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&groupRow{}, &bankRow{}, &accountRow{}, &operateRow{}, &eventRow{}, &vaultRow{})
}

func newBankRow(bank *core.Bank) (*bankRow, error) {
	data, err := json.Marshal(bank)
	if err != nil {
		return nil, err
	}
	return &bankRow{
		Id:         bank.Id,
		GroupId:    bank.GroupId,
		TokenIndex: bank.TokenIndex,
		Data:       string(data),
		LastUpdate: bank.LastUpdate,
	}, nil
}

func (r *bankRow) bank() (*core.Bank, error) {
	var bank core.Bank
	if err := json.Unmarshal([]byte(r.Data), &bank); err != nil {
		return nil, err
	}
	return &bank, nil
}

func newAccountRow(account *core.Account) (*accountRow, error) {
	data, err := json.Marshal(account)
	if err != nil {
		return nil, err
	}
	return &accountRow{
		Id:        account.Id,
		GroupId:   account.GroupId,
		Owner:     account.Owner,
		Data:      string(data),
		UpdatedAt: account.UpdatedAt,
	}, nil
}

func (r *accountRow) account() (*core.Account, error) {
	var account core.Account
	if err := json.Unmarshal([]byte(r.Data), &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func newGroupRow(group *core.Group) (*groupRow, error) {
	data, err := json.Marshal(group)
	if err != nil {
		return nil, err
	}
	return &groupRow{Id: group.Id, Data: string(data), UpdatedAt: group.UpdatedAt}, nil
}

func (r *groupRow) group() (*core.Group, error) {
	var group core.Group
	if err := json.Unmarshal([]byte(r.Data), &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func newOperateRow(operate *core.Operate) *operateRow {
	return &operateRow{
		Id:        operate.Id,
		GroupId:   operate.GroupId,
		PubKey:    operate.PubKey,
		AccountId: operate.AccountId,
		Op:        operate.Op,
		Extra:     operate.Extra,
		CreatedAt: operate.CreatedAt,
	}
}

func (r *operateRow) operate() core.Operate {
	return core.Operate{
		Id:        r.Id,
		GroupId:   r.GroupId,
		PubKey:    r.PubKey,
		AccountId: r.AccountId,
		Op:        r.Op,
		Extra:     r.Extra,
		CreatedAt: r.CreatedAt,
	}
}

func newEventRows(operate *core.Operate) []eventRow {
	rows := make([]eventRow, 0, len(operate.Extra.Events))
	for i, record := range operate.Extra.Events {
		rows = append(rows, eventRow{
			OperateId: operate.Id,
			Seq:       i,
			Kind:      record.Kind,
			Data:      string(record.Data),
			CreatedAt: operate.CreatedAt,
		})
	}
	return rows
}
