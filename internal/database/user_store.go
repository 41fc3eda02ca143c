package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"middleman/internal/apperr"
	"middleman/internal/models"
)

// UserStore persists the user directory in postgres.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Upsert inserts or refreshes by uid and reloads u so CreatedAt reflects the
// first insert.
func (s *UserStore) Upsert(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	if err := s.db.WithContext(ctx).Where("uid = ?", u.UID).First(u).Error; err != nil {
		return fmt.Errorf("reload user: %w", err)
	}
	return nil
}

func (s *UserStore) Get(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: User not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
