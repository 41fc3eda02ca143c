package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"middleman/internal/apperr"
	"middleman/internal/models"
)

// MemoryStore is an in-memory transaction store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	txs    map[string]*models.Transaction
	nextID uint
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs: make(map[string]*models.Transaction),
	}
}

func (m *MemoryStore) Create(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txs[tx.TransactionID]; ok {
		return fmt.Errorf("%w: transaction %s already exists", apperr.ErrConflict, tx.TransactionID)
	}
	m.nextID++
	tx.ID = m.nextID
	m.txs[tx.TransactionID] = tx.Clone()
	return nil
}

func (m *MemoryStore) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[transactionID]
	if !ok {
		return nil, fmt.Errorf("%w: Transaction not found", apperr.ErrNotFound)
	}
	return tx.Clone(), nil
}

func (m *MemoryStore) ListBySeller(ctx context.Context, sellerID string) ([]*models.Transaction, error) {
	result := m.filter(func(tx *models.Transaction) bool { return tx.SellerID == sellerID })
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ListByBuyer(ctx context.Context, buyerID string) ([]*models.Transaction, error) {
	result := m.filter(func(tx *models.Transaction) bool { return tx.IsBuyer(buyerID) })
	sort.SliceStable(result, func(i, j int) bool {
		return paidAt(result[i]).After(paidAt(result[j]))
	})
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.txs[tx.TransactionID]
	if !ok {
		return fmt.Errorf("%w: Transaction not found", apperr.ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("%w: transaction %s is %s, expected %s", apperr.ErrConflict, tx.TransactionID, cur.Status, from)
	}

	next := tx.Clone()
	next.ID = cur.ID
	next.Price = cur.Price
	next.CreatedAt = cur.CreatedAt
	m.txs[tx.TransactionID] = next
	return nil
}

func (m *MemoryStore) ListReleasable(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error) {
	result := m.filter(func(tx *models.Transaction) bool {
		return tx.Status == models.TransactionPaid &&
			tx.EscrowReleaseTime != nil &&
			tx.EscrowReleaseTime.Before(before)
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].EscrowReleaseTime.Before(*result[j].EscrowReleaseTime)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) filter(keep func(*models.Transaction) bool) []*models.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*models.Transaction, 0)
	for _, tx := range m.txs {
		if keep(tx) {
			result = append(result, tx.Clone())
		}
	}
	return result
}

func paidAt(tx *models.Transaction) time.Time {
	if tx.PaidAt == nil {
		return time.Time{}
	}
	return *tx.PaidAt
}
