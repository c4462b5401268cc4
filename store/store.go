// Package store persists groups, banks, accounts, operations and vault
// custody in SQL through gorm.
package store

import (
	"context"

	"github.com/DomeLiquid/risk/core"
	"github.com/glebarez/sqlite"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

var (
	_ core.Journal      = (*Store)(nil)
	_ core.OperateStore = (*Store)(nil)
	_ core.BankStore    = (*Store)(nil)
	_ core.AccountStore = (*Store)(nil)
	_ core.GroupStore   = (*Store)(nil)
)

// Open connects to a sqlite database and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sql db")
	}
	// sqlite serializes writers
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

func New(db *gorm.DB) (*Store, error) {
	if err := autoMigrate(db); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrapf(ErrNotFound, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

// Commit stores the operate record, its events and the touched banks and
// accounts in one transaction.
func (s *Store) Commit(ctx context.Context, operate *core.Operate, banks []*core.Bank, accounts []*core.Account) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, bank := range banks {
			if err := upsertBank(tx, bank); err != nil {
				return err
			}
		}
		for _, account := range accounts {
			if err := upsertAccount(tx, account); err != nil {
				return err
			}
		}
		if err := tx.Create(newOperateRow(operate)).Error; err != nil {
			return errors.Wrap(err, "create operate")
		}
		if events := newEventRows(operate); len(events) > 0 {
			if err := tx.Create(&events).Error; err != nil {
				return errors.Wrap(err, "create events")
			}
		}
		return nil
	})
}

func (s *Store) CreateOperate(ctx context.Context, operate *core.Operate) error {
	return s.Commit(ctx, operate, nil, nil)
}

// ListOperates returns the account's operations newest first. A zero op
// matches every type and a non-positive createdBeforeAt disables the cursor.
func (s *Store) ListOperates(ctx context.Context, accountId uuid.UUID, op core.OpType, createdBeforeAt, limit int64) ([]core.Operate, error) {
	query := s.db.WithContext(ctx).Where("account_id = ?", accountId)
	if op != 0 {
		query = query.Where("op = ?", op)
	}
	if createdBeforeAt > 0 {
		query = query.Where("created_at < ?", createdBeforeAt)
	}
	if limit > 0 {
		query = query.Limit(int(limit))
	}

	var rows []operateRow
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list operates")
	}
	operates := make([]core.Operate, 0, len(rows))
	for i := range rows {
		operates = append(operates, rows[i].operate())
	}
	return operates, nil
}

// ListEvents returns the event records of one operation in emission order.
func (s *Store) ListEvents(ctx context.Context, operateId uuid.UUID) ([]core.EventRecord, error) {
	var rows []eventRow
	if err := s.db.WithContext(ctx).Where("operate_id = ?", operateId).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	records := make([]core.EventRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, core.EventRecord{Kind: row.Kind, Data: []byte(row.Data)})
	}
	return records, nil
}

func upsertBank(tx *gorm.DB, bank *core.Bank) error {
	row, err := newBankRow(bank)
	if err != nil {
		return errors.Wrapf(err, "encode bank %s", bank.Id)
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "last_update"}),
	}).Create(row).Error
	return errors.Wrapf(err, "upsert bank %s", bank.Id)
}

func (s *Store) UpsertBank(ctx context.Context, bank *core.Bank) error {
	return upsertBank(s.db.WithContext(ctx), bank)
}

func (s *Store) GetBankById(ctx context.Context, bankId uuid.UUID) (*core.Bank, error) {
	var row bankRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", bankId).Error; err != nil {
		return nil, notFound(err, "bank %s", bankId)
	}
	return row.bank()
}

func (s *Store) GetBankByTokenIndex(ctx context.Context, groupId uuid.UUID, tokenIndex core.TokenIndex) (*core.Bank, error) {
	var row bankRow
	if err := s.db.WithContext(ctx).First(&row, "group_id = ? AND token_index = ?", groupId, tokenIndex).Error; err != nil {
		return nil, notFound(err, "bank %d in group %s", tokenIndex, groupId)
	}
	return row.bank()
}

func (s *Store) ListBanksByGroupId(ctx context.Context, groupId uuid.UUID) ([]*core.Bank, error) {
	var rows []bankRow
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupId).Order("token_index ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list banks")
	}
	banks := make([]*core.Bank, 0, len(rows))
	for i := range rows {
		bank, err := rows[i].bank()
		if err != nil {
			return nil, errors.Wrapf(err, "decode bank %s", rows[i].Id)
		}
		banks = append(banks, bank)
	}
	return banks, nil
}

func upsertAccount(tx *gorm.DB, account *core.Account) error {
	row, err := newAccountRow(account)
	if err != nil {
		return errors.Wrapf(err, "encode account %s", account.Id)
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "data", "updated_at"}),
	}).Create(row).Error
	return errors.Wrapf(err, "upsert account %s", account.Id)
}

func (s *Store) UpsertAccount(ctx context.Context, account *core.Account) error {
	return upsertAccount(s.db.WithContext(ctx), account)
}

func (s *Store) GetAccountById(ctx context.Context, accountId uuid.UUID) (*core.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", accountId).Error; err != nil {
		return nil, notFound(err, "account %s", accountId)
	}
	return row.account()
}

func (s *Store) ListAccountsByGroupId(ctx context.Context, groupId uuid.UUID) ([]*core.Account, error) {
	var rows []accountRow
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupId).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list accounts")
	}
	accounts := make([]*core.Account, 0, len(rows))
	for i := range rows {
		account, err := rows[i].account()
		if err != nil {
			return nil, errors.Wrapf(err, "decode account %s", rows[i].Id)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (s *Store) CreateGroup(ctx context.Context, group *core.Group) error {
	row, err := newGroupRow(group)
	if err != nil {
		return errors.Wrap(err, "encode group")
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(row).Error, "create group")
}

func (s *Store) GetGroupById(ctx context.Context, id uuid.UUID) (*core.Group, error) {
	var row groupRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "group %s", id)
	}
	return row.group()
}

func (s *Store) UpdateGroup(ctx context.Context, group *core.Group) error {
	row, err := newGroupRow(group)
	if err != nil {
		return errors.Wrap(err, "encode group")
	}
	result := s.db.WithContext(ctx).Model(&groupRow{}).Where("id = ?", group.Id).Updates(map[string]any{
		"data":       row.Data,
		"updated_at": row.UpdatedAt,
	})
	if result.Error != nil {
		return errors.Wrap(result.Error, "update group")
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "group %s", group.Id)
	}
	return nil
}
