package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/isometry/adbridge/internal/bruteforce"
)

// LoginAttemptRepository implements bruteforce.Repository on the
// login_attempts table.
type LoginAttemptRepository struct {
	db *gorm.DB
}

var _ bruteforce.Repository = (*LoginAttemptRepository)(nil)

func NewLoginAttemptRepository(db *gorm.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func (r *LoginAttemptRepository) Get(ctx context.Context, key string) (bruteforce.Record, error) {
	var model loginAttemptModel
	err := r.db.WithContext(ctx).Where("attempt_key = ?", key).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return bruteforce.Record{}, nil
		}
		return bruteforce.Record{}, err
	}
	return model.toRecord(), nil
}

func (r *LoginAttemptRepository) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, blockTime time.Duration) (bruteforce.Record, error) {
	var rec bruteforce.Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model loginAttemptModel
		err := tx.Where("attempt_key = ?", key).Take(&model).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			model = loginAttemptModel{Key: key}
		case err != nil:
			return err
		}

		model.Attempts++
		if model.Attempts >= threshold {
			until := now.Add(blockTime).UTC()
			model.BlockedUntil = &until
		}
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		rec = model.toRecord()
		return nil
	})
	return rec, err
}

func (r *LoginAttemptRepository) Clear(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("attempt_key = ?", key).Delete(&loginAttemptModel{}).Error
}

func (m loginAttemptModel) toRecord() bruteforce.Record {
	rec := bruteforce.Record{Key: m.Key, Attempts: m.Attempts}
	if m.BlockedUntil != nil {
		rec.BlockedUntil = *m.BlockedUntil
	}
	return rec
}
