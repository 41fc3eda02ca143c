package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"middleman/internal/apperr"
	"middleman/internal/logging"
	"middleman/internal/models"
)

// fakeClock is a settable clock shared by the service under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier captures notifications and can be told to fail.
type recordingNotifier struct {
	mu       sync.Mutex
	payments []string
	disputes []string
	err      error
}

func (n *recordingNotifier) PaymentReceived(ctx context.Context, tx *models.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, tx.TransactionID)
	return n.err
}

func (n *recordingNotifier) DisputeRaised(ctx context.Context, tx *models.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disputes = append(n.disputes, tx.TransactionID)
	return n.err
}

func newTestService() (*Service, *MemoryStore, *fakeClock) {
	store := NewMemoryStore()
	clock := newFakeClock()
	svc := NewService(store, logging.Nop()).WithClock(clock.Now)
	return svc, store, clock
}

func validCreate() CreateRequest {
	return CreateRequest{
		Title:       "Logo pack",
		Description: "Vector logos in SVG and PNG",
		Price:       decimal.RequireFromString("29.99"),
		FileURL:     "https://files.example.com/logo-pack.zip",
		FileName:    "logo-pack.zip",
		SellerID:    "seller_1",
		SellerName:  "Sam Seller",
		SellerEmail: "sam@example.com",
	}
}

func payFor(id string) PaymentRequest {
	return PaymentRequest{
		TransactionID:   id,
		PaymentIntentID: "pi_123",
		BuyerID:         "buyer_1",
		BuyerName:       "Bo Buyer",
		BuyerEmail:      "bo@example.com",
	}
}

func disputeFor(id, buyerID string) DisputeRequest {
	return DisputeRequest{
		TransactionID: id,
		Reason:        "File corrupted",
		Description:   "The archive does not open",
		BuyerID:       buyerID,
		BuyerName:     "Bo Buyer",
	}
}

func createPaid(t *testing.T, svc *Service) *models.Transaction {
	t.Helper()
	ctx := context.Background()
	tx, err := svc.CreateTransaction(ctx, validCreate())
	require.NoError(t, err)
	paid, err := svc.RecordPayment(ctx, payFor(tx.TransactionID))
	require.NoError(t, err)
	return paid
}

func TestCreateTransaction_ThenFetch(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	created, err := svc.CreateTransaction(ctx, validCreate())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^escrow_\d+_[0-9a-f]{8}$`), created.TransactionID)
	assert.Equal(t, models.TransactionPending, created.Status)
	assert.Equal(t, clock.Now(), created.CreatedAt)

	got, err := svc.GetTransaction(ctx, created.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, got.Status)
	assert.True(t, decimal.RequireFromString("29.99").Equal(got.Price))
	assert.Equal(t, "seller_1", got.SellerID)
	assert.Nil(t, got.BuyerID)
	assert.Nil(t, got.PaidAt)
	assert.Nil(t, got.EscrowReleaseTime)
	assert.Nil(t, got.DisputeRaisedAt)
}

func TestCreateTransaction_UsesSuppliedID(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	req := validCreate()
	req.TransactionID = "escrow_custom_1"
	tx, err := svc.CreateTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "escrow_custom_1", tx.TransactionID)

	_, err = svc.CreateTransaction(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreateTransaction_InvalidPersistsNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"missing title", func(r *CreateRequest) { r.Title = "" }},
		{"missing description", func(r *CreateRequest) { r.Description = "" }},
		{"missing file url", func(r *CreateRequest) { r.FileURL = "" }},
		{"missing file name", func(r *CreateRequest) { r.FileName = "" }},
		{"missing seller", func(r *CreateRequest) { r.SellerID = "" }},
		{"bad seller email", func(r *CreateRequest) { r.SellerEmail = "not-an-email" }},
		{"zero price", func(r *CreateRequest) { r.Price = decimal.Zero }},
		{"negative price", func(r *CreateRequest) { r.Price = decimal.RequireFromString("-5") }},
		{"sub-cent price", func(r *CreateRequest) { r.Price = decimal.RequireFromString("1.005") }},
		{"huge price", func(r *CreateRequest) { r.Price = decimal.RequireFromString("100000000000") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService()
			req := validCreate()
			tt.mutate(&req)

			_, err := svc.CreateTransaction(context.Background(), req)
			require.ErrorIs(t, err, apperr.ErrValidation)

			all, err := store.ListBySeller(context.Background(), req.SellerID)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestRecordPayment_StartsEscrowWindow(t *testing.T) {
	svc, _, clock := newTestService()
	notifier := &recordingNotifier{}
	svc.WithNotifier(notifier)

	paid := createPaid(t, svc)

	assert.Equal(t, models.TransactionPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.EscrowReleaseTime)
	assert.Equal(t, clock.Now(), *paid.PaidAt)
	assert.Equal(t, paid.PaidAt.Add(24*time.Hour), *paid.EscrowReleaseTime)
	assert.Equal(t, "buyer_1", *paid.BuyerID)
	assert.Equal(t, "pi_123", *paid.PaymentIntentID)
	assert.Equal(t, []string{paid.TransactionID}, notifier.payments)
}

func TestRecordPayment_Errors(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, payFor("escrow_missing"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	tx, err := svc.CreateTransaction(ctx, validCreate())
	require.NoError(t, err)

	noIntent := payFor(tx.TransactionID)
	noIntent.PaymentIntentID = ""
	_, err = svc.RecordPayment(ctx, noIntent)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	noBuyer := payFor(tx.TransactionID)
	noBuyer.BuyerID = ""
	_, err = svc.RecordPayment(ctx, noBuyer)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	selfPay := payFor(tx.TransactionID)
	selfPay.BuyerID = "seller_1"
	_, err = svc.RecordPayment(ctx, selfPay)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := svc.GetTransaction(ctx, tx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPending, got.Status)
}

func TestRecordPayment_IdempotentByIntent(t *testing.T) {
	svc, _, clock := newTestService()
	notifier := &recordingNotifier{}
	svc.WithNotifier(notifier)
	ctx := context.Background()

	first := createPaid(t, svc)
	clock.Advance(time.Minute)

	again, err := svc.RecordPayment(ctx, payFor(first.TransactionID))
	require.NoError(t, err)
	assert.Equal(t, *first.PaidAt, *again.PaidAt)
	assert.Equal(t, *first.EscrowReleaseTime, *again.EscrowReleaseTime)
	assert.Len(t, notifier.payments, 1)

	other := payFor(first.TransactionID)
	other.PaymentIntentID = "pi_other"
	_, err = svc.RecordPayment(ctx, other)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestRaiseDispute_WithinWindow(t *testing.T) {
	svc, _, clock := newTestService()
	notifier := &recordingNotifier{}
	svc.WithNotifier(notifier)
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(time.Hour)

	disputed, err := svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "buyer_1"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionDisputed, disputed.Status)
	require.NotNil(t, disputed.DisputeRaisedAt)
	assert.Equal(t, clock.Now(), *disputed.DisputeRaisedAt)
	assert.Equal(t, "File corrupted", *disputed.DisputeReason)
	assert.Equal(t, "buyer_1", *disputed.DisputeRaisedBy)
	assert.Equal(t, []string{paid.TransactionID}, notifier.disputes)

	// The release time is frozen; a disputed transaction never completes.
	clock.Advance(48 * time.Hour)
	got, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionDisputed, got.Status)
	assert.Equal(t, *paid.EscrowReleaseTime, *got.EscrowReleaseTime)
	assert.Nil(t, got.CompletedAt)
}

func TestRaiseDispute_AfterWindow(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(25 * time.Hour)

	_, err := svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "buyer_1"))
	require.ErrorIs(t, err, apperr.ErrWindowExpired)
	assert.Equal(t, "Disputes can only be raised within 24 hours of payment", apperr.Message(err))
}

func TestRaiseDispute_ExactlyAtDeadline(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(Window)

	got, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPaid, got.Status)

	disputed, err := svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "buyer_1"))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionDisputed, disputed.Status)
}

func TestRaiseDispute_Twice(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(time.Hour)

	_, err := svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "buyer_1"))
	require.NoError(t, err)

	_, err = svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "buyer_1"))
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "Dispute already raised for this transaction", apperr.Message(err))
}

func TestRaiseDispute_Errors(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.RaiseDispute(ctx, disputeFor("escrow_missing", "buyer_1"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	pending, err := svc.CreateTransaction(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.RaiseDispute(ctx, disputeFor(pending.TransactionID, "buyer_1"))
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	paid := createPaid(t, svc)
	_, err = svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "someone_else"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	missingReason := disputeFor(paid.TransactionID, "buyer_1")
	missingReason.Reason = ""
	_, err = svc.RaiseDispute(ctx, missingReason)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	missingDescription := disputeFor(paid.TransactionID, "buyer_1")
	missingDescription.Description = ""
	_, err = svc.RaiseDispute(ctx, missingDescription)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPaid, got.Status)
	assert.Nil(t, got.DisputeRaisedAt)
}

func TestRaiseDispute_CompletedTransaction(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(Window + time.Second)

	completed, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionCompleted, completed.Status)

	for _, buyerID := range []string{"buyer_1", "someone_else"} {
		_, err = svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, buyerID))
		assert.ErrorIs(t, err, apperr.ErrInvalidState, buyerID)
		assert.Equal(t, "Can only dispute paid transactions", apperr.Message(err))
	}
}

func TestRaiseDispute_PaidPastWindowNotYetSettled(t *testing.T) {
	svc, store, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(Window + time.Second)

	// Nothing has read or swept the record yet, so it is still paid.
	stored, err := store.GetByTransactionID(ctx, paid.TransactionID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionPaid, stored.Status)

	_, err = svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "buyer_1"))
	assert.ErrorIs(t, err, apperr.ErrWindowExpired)

	_, err = svc.RaiseDispute(ctx, disputeFor(paid.TransactionID, "someone_else"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestLazyCompletionOnRead(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(Window + time.Second)

	got, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, clock.Now(), *got.CompletedAt)
	assert.Equal(t, *paid.EscrowReleaseTime, *got.EscrowReleaseTime)

	// Persisted, so a second read sees the same record.
	again, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	bySeller, err := svc.ListBySeller(ctx, "seller_1")
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	assert.Equal(t, models.TransactionCompleted, bySeller[0].Status)
}

func TestRefetchIsIdentical(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(time.Hour)

	first, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)
	second, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Contains(t, string(a), `"price":29.99`)
}

func TestListOrdering(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		tx, err := svc.CreateTransaction(ctx, validCreate())
		require.NoError(t, err)
		ids = append(ids, tx.TransactionID)
		clock.Advance(time.Minute)
	}

	bySeller, err := svc.ListBySeller(ctx, "seller_1")
	require.NoError(t, err)
	require.Len(t, bySeller, 3)
	assert.Equal(t, ids[2], bySeller[0].TransactionID)
	assert.Equal(t, ids[0], bySeller[2].TransactionID)

	// Pay oldest last so it leads the buyer's list.
	for _, id := range []string{ids[1], ids[2], ids[0]} {
		_, err := svc.RecordPayment(ctx, payFor(id))
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}

	byBuyer, err := svc.ListByBuyer(ctx, "buyer_1")
	require.NoError(t, err)
	require.Len(t, byBuyer, 3)
	assert.Equal(t, ids[0], byBuyer[0].TransactionID)
	assert.Equal(t, ids[1], byBuyer[2].TransactionID)

	none, err := svc.ListByBuyer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSettleElapsed(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	due := createPaid(t, svc)
	clock.Advance(2 * time.Hour)
	notDue := createPaid(t, svc)

	disputedTx := createPaid(t, svc)
	_, err := svc.RaiseDispute(ctx, disputeFor(disputedTx.TransactionID, "buyer_1"))
	require.NoError(t, err)

	settled, err := svc.SettleElapsed(ctx, due.EscrowReleaseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	got, err := svc.store.GetByTransactionID(ctx, due.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionCompleted, got.Status)

	got, err = svc.store.GetByTransactionID(ctx, notDue.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPaid, got.Status)

	got, err = svc.store.GetByTransactionID(ctx, disputedTx.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionDisputed, got.Status)
}

func TestRecordFraudAnalysis_KeepsStatus(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	analysis := models.FraudAnalysis{
		RiskLevel:       "medium",
		FraudIndicators: []string{"new seller"},
		Recommendation:  "review",
		Confidence:      0.7,
		Reasoning:       "first sale",
	}

	updated, err := svc.RecordFraudAnalysis(ctx, paid.TransactionID, analysis)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionPaid, updated.Status)
	require.NotNil(t, updated.FraudCheckedAt)
	require.NotNil(t, updated.FraudAnalysis)

	var stored models.FraudAnalysis
	require.NoError(t, json.Unmarshal(*updated.FraudAnalysis, &stored))
	assert.Equal(t, analysis, stored)

	_, err = svc.RecordFraudAnalysis(ctx, "escrow_missing", analysis)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestNotifierFailureDoesNotUndoTransition(t *testing.T) {
	svc, _, _ := newTestService()
	svc.WithNotifier(&recordingNotifier{err: errors.New("smtp down")})

	paid := createPaid(t, svc)
	assert.Equal(t, models.TransactionPaid, paid.Status)
}

func TestForwardOnlyTransitions(t *testing.T) {
	svc, store, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(Window + time.Second)
	_, err := svc.GetTransaction(ctx, paid.TransactionID)
	require.NoError(t, err)

	// A stale writer that still thinks the transaction is paid loses.
	stale := paid.Clone()
	stale.Status = models.TransactionDisputed
	err = store.Update(ctx, stale, models.TransactionPaid)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.RecordPayment(ctx, PaymentRequest{
		TransactionID:   paid.TransactionID,
		PaymentIntentID: "pi_late",
		BuyerID:         "buyer_2",
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestReleaseStatus(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()

	pending, err := svc.CreateTransaction(ctx, validCreate())
	require.NoError(t, err)
	r, err := svc.ReleaseStatus(ctx, pending.TransactionID)
	require.NoError(t, err)
	assert.False(t, r.Released)
	assert.Nil(t, r.EscrowReleaseTime)
	assert.Zero(t, r.RemainingSeconds)

	paid := createPaid(t, svc)
	clock.Advance(23 * time.Hour)
	r, err = svc.ReleaseStatus(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.False(t, r.Released)
	assert.Equal(t, int64(3600), r.RemainingSeconds)
	assert.Equal(t, models.TransactionPaid, r.Status)

	clock.Advance(2 * time.Hour)
	r, err = svc.ReleaseStatus(ctx, paid.TransactionID)
	require.NoError(t, err)
	assert.True(t, r.Released)
	assert.Equal(t, models.TransactionCompleted, r.Status)

	_, err = svc.ReleaseStatus(ctx, "escrow_missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCheckReleaseElapsed(t *testing.T) {
	release := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	tx := &models.Transaction{Status: models.TransactionPaid, EscrowReleaseTime: &release}

	assert.False(t, CheckReleaseElapsed(tx, release.Add(-time.Second)))
	assert.True(t, CheckReleaseElapsed(tx, release))
	assert.True(t, CheckReleaseElapsed(tx, release.Add(time.Hour)))
	assert.False(t, CheckReleaseElapsed(&models.Transaction{Status: models.TransactionPending}, release))
}

func TestNewTransactionID(t *testing.T) {
	now := time.UnixMilli(1718000000000)
	a := NewTransactionID(now)
	b := NewTransactionID(now)

	assert.Regexp(t, `^escrow_1718000000000_[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}
