package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/isometry/adbridge/internal/account"
)

// AccountStore implements account.Store.
type AccountStore struct {
	db *gorm.DB
}

var _ account.Store = (*AccountStore)(nil)

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	return s.findOne(ctx, s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *AccountStore) FindByLogin(ctx context.Context, login string) (*account.Account, error) {
	login = normalize(login)
	if login == "" {
		return nil, account.ErrNotFound
	}
	return s.findOne(ctx, s.db.WithContext(ctx).Where("login = ?", login))
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	email = normalize(email)
	if email == "" {
		return nil, account.ErrNotFound
	}
	return s.findOne(ctx, s.db.WithContext(ctx).Where("LOWER(email) = ?", email).Order("id"))
}

func (s *AccountStore) FindByMeta(ctx context.Context, key, value string) (*account.Account, error) {
	value = normalize(value)
	if value == "" {
		return nil, account.ErrNotFound
	}

	var meta accountMetaModel
	err := s.db.WithContext(ctx).
		Where("meta_key = ? AND LOWER(meta_value) = ?", key, value).
		Order("account_id").
		Take(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("find account by %s: %w", key, err)
	}
	return s.FindByID(ctx, meta.AccountID)
}

func (s *AccountStore) ListLinked(ctx context.Context) ([]*account.Account, error) {
	var models []accountModel
	err := s.db.WithContext(ctx).
		Joins("JOIN account_meta ON account_meta.account_id = accounts.id").
		Where("account_meta.meta_key = ? AND account_meta.meta_value <> ''", account.MetaObjectGUID).
		Order("accounts.id").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}

	ids := make([]int64, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	meta, err := loadMeta(ctx, s.db, ids...)
	if err != nil {
		return nil, err
	}

	accounts := make([]*account.Account, 0, len(models))
	for _, m := range models {
		accounts = append(accounts, m.toAccount(meta[m.ID]))
	}
	return accounts, nil
}

func (s *AccountStore) Create(ctx context.Context, acct *account.Account, opts account.WriteOptions) error {
	acct.Login = normalize(acct.Login)
	acct.Email = strings.TrimSpace(acct.Email)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, acct, opts); err != nil {
			return err
		}

		model := toAccountModel(acct)
		model.ID = 0
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return account.ErrDuplicateLogin
			}
			return fmt.Errorf("create account %s: %w", acct.Login, err)
		}
		acct.ID = model.ID

		return replaceMeta(tx, acct.ID, acct.Meta)
	})
}

func (s *AccountStore) Update(ctx context.Context, acct *account.Account, opts account.WriteOptions) error {
	acct.Login = normalize(acct.Login)
	acct.Email = strings.TrimSpace(acct.Email)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, acct, opts); err != nil {
			return err
		}

		model := toAccountModel(acct)
		res := tx.Model(&accountModel{}).
			Where("id = ?", acct.ID).
			Select("login", "email", "password_hash", "roles", "first_name", "last_name",
				"display_name", "description", "disabled", "disabled_reason", "updated_at").
			Updates(&model)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return account.ErrDuplicateLogin
			}
			return fmt.Errorf("update account %d: %w", acct.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return account.ErrNotFound
		}

		return replaceMeta(tx, acct.ID, acct.Meta)
	})
}

func (s *AccountStore) SetMeta(ctx context.Context, id int64, key, value string) error {
	if value == "" {
		return s.DeleteMeta(ctx, id, key)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "meta_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"meta_value"}),
	}).Create(&accountMetaModel{AccountID: id, Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("set %s on account %d: %w", key, id, err)
	}
	return nil
}

func (s *AccountStore) DeleteMeta(ctx context.Context, id int64, key string) error {
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND meta_key = ?", id, key).
		Delete(&accountMetaModel{}).Error
	if err != nil {
		return fmt.Errorf("delete %s on account %d: %w", key, id, err)
	}
	return nil
}

func (s *AccountStore) Disable(ctx context.Context, id int64, reason string) error {
	return s.setDisabled(ctx, id, true, reason)
}

func (s *AccountStore) Enable(ctx context.Context, id int64) error {
	return s.setDisabled(ctx, id, false, "")
}

func (s *AccountStore) setDisabled(ctx context.Context, id int64, disabled bool, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&accountModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"disabled":        disabled,
			"disabled_reason": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("set disabled=%t on account %d: %w", disabled, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return account.ErrNotFound
	}
	return nil
}

func (s *AccountStore) findOne(ctx context.Context, q *gorm.DB) (*account.Account, error) {
	var model accountModel
	if err := q.Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrNotFound
		}
		return nil, err
	}

	meta, err := loadMeta(ctx, s.db, model.ID)
	if err != nil {
		return nil, err
	}
	return model.toAccount(meta[model.ID]), nil
}

func checkUnique(tx *gorm.DB, acct *account.Account, opts account.WriteOptions) error {
	var count int64
	if err := tx.Model(&accountModel{}).
		Where("login = ? AND id <> ?", acct.Login, acct.ID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("check login uniqueness: %w", err)
	}
	if count > 0 {
		return account.ErrDuplicateLogin
	}

	if opts.AllowDuplicateEmail || acct.Email == "" {
		return nil
	}
	if err := tx.Model(&accountModel{}).
		Where("LOWER(email) = ? AND id <> ?", strings.ToLower(acct.Email), acct.ID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("check email uniqueness: %w", err)
	}
	if count > 0 {
		return account.ErrDuplicateEmail
	}
	return nil
}

func replaceMeta(tx *gorm.DB, id int64, meta map[string]string) error {
	if err := tx.Where("account_id = ?", id).Delete(&accountMetaModel{}).Error; err != nil {
		return fmt.Errorf("clear metadata of account %d: %w", id, err)
	}

	rows := make([]accountMetaModel, 0, len(meta))
	for k, v := range meta {
		if v == "" {
			continue
		}
		rows = append(rows, accountMetaModel{AccountID: id, Key: k, Value: v})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("write metadata of account %d: %w", id, err)
	}
	return nil
}

func loadMeta(ctx context.Context, db *gorm.DB, ids ...int64) (map[int64]map[string]string, error) {
	out := make(map[int64]map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []accountMetaModel
	if err := db.WithContext(ctx).Where("account_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load account metadata: %w", err)
	}
	for _, row := range rows {
		if out[row.AccountID] == nil {
			out[row.AccountID] = make(map[string]string)
		}
		out[row.AccountID][row.Key] = row.Value
	}
	return out, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
