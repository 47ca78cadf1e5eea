package storage

import (
	"time"

	"github.com/isometry/adbridge/internal/account"
)

type accountModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Login          string    `gorm:"column:login;uniqueIndex"`
	Email          string    `gorm:"column:email;index"`
	PasswordHash   string    `gorm:"column:password_hash"`
	Roles          []string  `gorm:"column:roles;serializer:json"`
	FirstName      string    `gorm:"column:first_name"`
	LastName       string    `gorm:"column:last_name"`
	DisplayName    string    `gorm:"column:display_name"`
	Description    string    `gorm:"column:description"`
	Disabled       bool      `gorm:"column:disabled"`
	DisabledReason string    `gorm:"column:disabled_reason"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (accountModel) TableName() string { return "accounts" }

type accountMetaModel struct {
	AccountID int64  `gorm:"column:account_id;primaryKey"`
	Key       string `gorm:"column:meta_key;primaryKey"`
	Value     string `gorm:"column:meta_value;index"`
}

func (accountMetaModel) TableName() string { return "account_meta" }

type loginAttemptModel struct {
	Key          string     `gorm:"column:attempt_key;primaryKey"`
	Attempts     int        `gorm:"column:attempts"`
	BlockedUntil *time.Time `gorm:"column:blocked_until"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (loginAttemptModel) TableName() string { return "login_attempts" }

func toAccountModel(a *account.Account) accountModel {
	return accountModel{
		ID:             a.ID,
		Login:          a.Login,
		Email:          a.Email,
		PasswordHash:   a.PasswordHash,
		Roles:          a.Roles,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		DisplayName:    a.DisplayName,
		Description:    a.Description,
		Disabled:       a.Disabled,
		DisabledReason: a.DisabledReason,
	}
}

func (m accountModel) toAccount(meta map[string]string) *account.Account {
	if meta == nil {
		meta = make(map[string]string)
	}
	return &account.Account{
		ID:             m.ID,
		Login:          m.Login,
		Email:          m.Email,
		PasswordHash:   m.PasswordHash,
		Roles:          m.Roles,
		FirstName:      m.FirstName,
		LastName:       m.LastName,
		DisplayName:    m.DisplayName,
		Description:    m.Description,
		Disabled:       m.Disabled,
		DisabledReason: m.DisabledReason,
		Meta:           meta,
	}
}
