package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"middleman/internal/apperr"
	"middleman/internal/models"
)

// TransactionStore persists escrow transactions in postgres.
type TransactionStore struct {
	db *gorm.DB
}

func NewTransactionStore(db *gorm.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx *models.Transaction) error {
	err := s.db.WithContext(ctx).Create(tx).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: transaction %s already exists", apperr.ErrConflict, tx.TransactionID)
	}
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (s *TransactionStore) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: Transaction not found", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

func (s *TransactionStore) ListBySeller(ctx context.Context, sellerID string) ([]*models.Transaction, error) {
	txs := make([]*models.Transaction, 0)
	err := s.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC, id DESC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list seller transactions: %w", err)
	}
	return txs, nil
}

func (s *TransactionStore) ListByBuyer(ctx context.Context, buyerID string) ([]*models.Transaction, error) {
	txs := make([]*models.Transaction, 0)
	err := s.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("paid_at DESC NULLS LAST, id DESC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list buyer transactions: %w", err)
	}
	return txs, nil
}

// Update is a compare-and-set on status: the row is written only while it
// still holds from.
func (s *TransactionStore) Update(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) error {
	res := s.db.WithContext(ctx).
		Model(tx).
		Where("status = ?", from).
		Select("*").
		Omit("ID", "TransactionID", "Price", "CreatedAt").
		Updates(tx)
	if res.Error != nil {
		return fmt.Errorf("update transaction: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("transaction_id = ?", tx.TransactionID).
		Count(&n).Error; err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: Transaction not found", apperr.ErrNotFound)
	}
	return fmt.Errorf("%w: transaction %s is no longer %s", apperr.ErrConflict, tx.TransactionID, from)
}

func (s *TransactionStore) ListReleasable(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error) {
	txs := make([]*models.Transaction, 0)
	err := s.db.WithContext(ctx).
		Where("status = ? AND escrow_release_time < ?", models.TransactionPaid, before).
		Order("escrow_release_time ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list releasable transactions: %w", err)
	}
	return txs, nil
}
