// Package escrow implements the lifecycle of a digital-goods escrow deal.
//
// Flow:
//  1. Seller creates a transaction → pending
//  2. Buyer pays through the processor → paid, release deadline = paidAt + 24h
//  3. Buyer disputes within 24h of payment → disputed (terminal, needs a human)
//  4. Deadline passes without a dispute → completed
//
// Status only ever moves forward along that graph.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"middleman/internal/apperr"
	"middleman/internal/metrics"
	"middleman/internal/models"
	"middleman/internal/validation"
)

// Window is both the payout hold and the dispute window, measured from paidAt.
const Window = 24 * time.Hour

// sweepBatch caps how many transactions one sweep settles.
const sweepBatch = 100

var maxPrice = decimal.RequireFromString("9999999999.99")

// Store persists transactions. Lookups by unknown id return apperr.ErrNotFound.
type Store interface {
	// Create inserts a new transaction and fills its internal ID. A duplicate
	// public id fails with apperr.ErrConflict.
	Create(ctx context.Context, tx *models.Transaction) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error)
	// ListBySeller returns newest-created first.
	ListBySeller(ctx context.Context, sellerID string) ([]*models.Transaction, error)
	// ListByBuyer returns newest-paid first.
	ListByBuyer(ctx context.Context, buyerID string) ([]*models.Transaction, error)
	// Update writes tx only if the stored status still equals from, and fails
	// with apperr.ErrConflict otherwise. Price and creation fields are never
	// rewritten.
	Update(ctx context.Context, tx *models.Transaction, from models.TransactionStatus) error
	// ListReleasable returns paid transactions whose release time is before t.
	ListReleasable(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error)
}

// Notifier is told about transitions the seller cares about. Failures are
// logged and never undo the transition.
type Notifier interface {
	PaymentReceived(ctx context.Context, tx *models.Transaction) error
	DisputeRaised(ctx context.Context, tx *models.Transaction) error
}

// CreateRequest contains the parameters for listing a file for sale.
type CreateRequest struct {
	TransactionID string          `json:"transactionId" validate:"omitempty,max=64"`
	Title         string          `json:"title" validate:"required,max=255"`
	Description   string          `json:"description" validate:"required"`
	Price         decimal.Decimal `json:"price"`
	FileURL       string          `json:"fileURL" validate:"required,url"`
	FileName      string          `json:"fileName" validate:"required,max=255"`
	SellerID      string          `json:"sellerId" validate:"required,max=128"`
	SellerName    string          `json:"sellerName" validate:"max=255"`
	SellerEmail   string          `json:"sellerEmail" validate:"omitempty,email"`
}

// PaymentRequest confirms that the buyer paid. PaymentEventID is set when
// the processor's webhook, rather than the client, reports the payment.
type PaymentRequest struct {
	TransactionID   string `json:"transactionId" validate:"required"`
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
	PaymentEventID  string `json:"-"`
	BuyerID         string `json:"buyerId" validate:"required,max=128"`
	BuyerName       string `json:"buyerName" validate:"max=255"`
	BuyerEmail      string `json:"buyerEmail" validate:"omitempty,email"`
}

// DisputeRequest contains the parameters for disputing a paid transaction.
type DisputeRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	Reason        string `json:"reason" validate:"required,max=255"`
	Description   string `json:"description" validate:"required"`
	BuyerID       string `json:"buyerId" validate:"required"`
	BuyerName     string `json:"buyerName" validate:"max=255"`
}

// Service implements the escrow state machine.
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new escrow service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithNotifier adds a notifier for seller-facing events.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the service clock in UTC at the precision postgres stores.
func (s *Service) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// NewTransactionID returns a public id: a millisecond timestamp plus a
// random suffix, e.g. escrow_1718000000000_3f9a1c2e.
func NewTransactionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("escrow_%d_%s", now.UnixMilli(), suffix)
}

// CreateTransaction persists a new pending transaction.
func (s *Service) CreateTransaction(ctx context.Context, req CreateRequest) (*models.Transaction, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be greater than zero", apperr.ErrValidation)
	}
	if !req.Price.Equal(req.Price.Round(2)) {
		return nil, fmt.Errorf("%w: price must have at most two decimal places", apperr.ErrValidation)
	}
	if req.Price.GreaterThan(maxPrice) {
		return nil, fmt.Errorf("%w: price is too large", apperr.ErrValidation)
	}

	now := s.Now()
	id := req.TransactionID
	if id == "" {
		id = NewTransactionID(now)
	}

	tx := &models.Transaction{
		TransactionID: id,
		Title:         req.Title,
		Description:   req.Description,
		Price:         req.Price,
		FileURL:       req.FileURL,
		FileName:      req.FileName,
		SellerID:      req.SellerID,
		SellerName:    req.SellerName,
		SellerEmail:   req.SellerEmail,
		Status:        models.TransactionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, tx); err != nil {
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(models.TransactionPending)).Inc()
	s.logger.Info("transaction created",
		"transactionId", tx.TransactionID,
		"sellerId", tx.SellerID,
		"price", tx.Price.String(),
	)
	return tx, nil
}

// GetTransaction fetches by public id, completing it first if its escrow
// window has closed.
func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, tx, s.Now()), nil
}

// ListBySeller returns the seller's transactions, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string) ([]*models.Transaction, error) {
	txs, err := s.store.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return s.settleAll(ctx, txs), nil
}

// ListByBuyer returns the buyer's purchases, most recently paid first.
func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]*models.Transaction, error) {
	txs, err := s.store.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return s.settleAll(ctx, txs), nil
}

// RecordPayment moves a pending transaction to paid and starts the escrow
// window. Replaying the same payment intent is a no-op.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (*models.Transaction, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	tx, err := s.store.GetByTransactionID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	if tx.Status != models.TransactionPending {
		if samePayment(tx, req.PaymentIntentID) {
			return tx, nil
		}
		return nil, fmt.Errorf("%w: transaction is already %s", apperr.ErrInvalidState, tx.Status)
	}
	if req.BuyerID == tx.SellerID {
		return nil, fmt.Errorf("%w: the seller cannot pay for their own transaction", apperr.ErrForbidden)
	}

	now := s.Now()
	release := now.Add(Window)

	next := tx.Clone()
	next.Status = models.TransactionPaid
	next.PaidAt = &now
	next.EscrowReleaseTime = &release
	next.PaymentIntentID = &req.PaymentIntentID
	next.BuyerID = &req.BuyerID
	next.BuyerName = &req.BuyerName
	next.BuyerEmail = &req.BuyerEmail
	if req.PaymentEventID != "" {
		next.PaymentEventID = &req.PaymentEventID
	}
	next.UpdatedAt = now

	if err := s.store.Update(ctx, next, models.TransactionPending); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// The client callback and the webhook can race for the same payment.
			if current, gerr := s.store.GetByTransactionID(ctx, req.TransactionID); gerr == nil && samePayment(current, req.PaymentIntentID) {
				return current, nil
			}
		}
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(models.TransactionPaid)).Inc()
	s.logger.Info("payment recorded",
		"transactionId", next.TransactionID,
		"buyerId", req.BuyerID,
		"paymentIntentId", req.PaymentIntentID,
		"escrowReleaseTime", release,
	)
	s.notify(ctx, "payment", next, s.notifierPayment)
	return next, nil
}

// RaiseDispute moves a paid transaction to disputed. Only the recorded buyer
// may dispute, once, within Window of payment.
func (s *Service) RaiseDispute(ctx context.Context, req DisputeRequest) (*models.Transaction, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	tx, err := s.store.GetByTransactionID(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	if err := checkDispute(tx, req.BuyerID, now); err != nil {
		return nil, err
	}

	next := tx.Clone()
	next.Status = models.TransactionDisputed
	next.DisputeRaisedAt = &now
	next.DisputeReason = &req.Reason
	next.DisputeDescription = &req.Description
	next.DisputeRaisedBy = &req.BuyerID
	next.DisputeRaisedByName = &req.BuyerName
	next.UpdatedAt = now

	if err := s.store.Update(ctx, next, models.TransactionPaid); err != nil {
		return nil, err
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(models.TransactionDisputed)).Inc()
	s.logger.Info("dispute raised",
		"transactionId", next.TransactionID,
		"buyerId", req.BuyerID,
		"reason", req.Reason,
	)
	s.notify(ctx, "dispute", next, s.notifierDispute)
	return next, nil
}

// checkDispute applies the dispute preconditions in a fixed order so each
// failing combination reports one specific error.
func checkDispute(tx *models.Transaction, buyerID string, now time.Time) error {
	if tx.DisputeRaisedAt != nil {
		return fmt.Errorf("%w: Dispute already raised for this transaction", apperr.ErrConflict)
	}
	if tx.Status != models.TransactionPaid {
		return fmt.Errorf("%w: Can only dispute paid transactions", apperr.ErrInvalidState)
	}
	if !tx.IsBuyer(buyerID) {
		return fmt.Errorf("%w: Only the buyer can raise a dispute", apperr.ErrForbidden)
	}
	if tx.PaidAt == nil || now.Sub(*tx.PaidAt) > Window {
		return fmt.Errorf("%w: Disputes can only be raised within 24 hours of payment", apperr.ErrWindowExpired)
	}
	return nil
}

// RecordFraudAnalysis stores an advisory fraud score. Status is untouched.
func (s *Service) RecordFraudAnalysis(ctx context.Context, transactionID string, analysis models.FraudAnalysis) (*models.Transaction, error) {
	tx, err := s.store.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("marshal fraud analysis: %w", err)
	}
	blob := datatypes.JSON(raw)
	now := s.Now()

	next := tx.Clone()
	next.FraudAnalysis = &blob
	next.FraudCheckedAt = &now
	next.UpdatedAt = now

	if err := s.store.Update(ctx, next, tx.Status); err != nil {
		return nil, err
	}
	return next, nil
}

// SettleElapsed completes every paid transaction whose escrow window closed
// before now. It returns how many were completed.
func (s *Service) SettleElapsed(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListReleasable(ctx, now, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list releasable transactions: %w", err)
	}

	settled := 0
	for _, tx := range due {
		if s.settle(ctx, tx, now).Status == models.TransactionCompleted {
			settled++
		}
	}
	return settled, nil
}

// settle persists paid→completed when the window has closed. On any store
// failure the caller gets the unsettled record back; the next read or sweep
// tries again.
func (s *Service) settle(ctx context.Context, tx *models.Transaction, now time.Time) *models.Transaction {
	if !dueForCompletion(tx, now) {
		return tx
	}

	next := tx.Clone()
	next.Status = models.TransactionCompleted
	next.CompletedAt = &now
	next.UpdatedAt = now

	if err := s.store.Update(ctx, next, models.TransactionPaid); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			if current, gerr := s.store.GetByTransactionID(ctx, tx.TransactionID); gerr == nil {
				return current
			}
		}
		s.logger.Warn("failed to complete transaction",
			"transactionId", tx.TransactionID,
			"error", err,
		)
		return tx
	}

	metrics.EscrowTransitionsTotal.WithLabelValues(string(models.TransactionCompleted)).Inc()
	s.logger.Info("escrow released",
		"transactionId", next.TransactionID,
		"sellerId", next.SellerID,
		"price", next.Price.String(),
	)
	return next
}

func (s *Service) settleAll(ctx context.Context, txs []*models.Transaction) []*models.Transaction {
	now := s.Now()
	for i, tx := range txs {
		txs[i] = s.settle(ctx, tx, now)
	}
	return txs
}

// dueForCompletion is strictly after the release time, so a dispute filed at
// exactly paidAt+Window still wins.
func dueForCompletion(tx *models.Transaction, now time.Time) bool {
	return tx.Status == models.TransactionPaid &&
		tx.DisputeRaisedAt == nil &&
		tx.EscrowReleaseTime != nil &&
		now.After(*tx.EscrowReleaseTime)
}

func samePayment(tx *models.Transaction, paymentIntentID string) bool {
	return tx.PaymentIntentID != nil && *tx.PaymentIntentID == paymentIntentID
}

func (s *Service) notifierPayment(ctx context.Context, tx *models.Transaction) error {
	return s.notifier.PaymentReceived(ctx, tx)
}

func (s *Service) notifierDispute(ctx context.Context, tx *models.Transaction) error {
	return s.notifier.DisputeRaised(ctx, tx)
}

func (s *Service) notify(ctx context.Context, event string, tx *models.Transaction, send func(context.Context, *models.Transaction) error) {
	if s.notifier == nil {
		return
	}
	if err := send(ctx, tx); err != nil {
		s.logger.Warn("notification failed",
			"event", event,
			"transactionId", tx.TransactionID,
			"error", err,
		)
	}
}
