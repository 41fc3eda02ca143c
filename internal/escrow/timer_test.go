package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"middleman/internal/logging"
	"middleman/internal/models"
)

func TestTimer_SettlesElapsedTransactions(t *testing.T) {
	svc, store, clock := newTestService()
	ctx := context.Background()

	paid := createPaid(t, svc)
	clock.Advance(Window + time.Minute)

	timer := NewTimer(svc, 10*time.Millisecond, logging.Nop())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go timer.Start(runCtx)

	require.Eventually(t, func() bool {
		tx, err := store.GetByTransactionID(ctx, paid.TransactionID)
		return err == nil && tx.Status == models.TransactionCompleted
	}, time.Second, 10*time.Millisecond)

	assert.True(t, timer.Running())
	timer.Stop()
	require.Eventually(t, func() bool { return !timer.Running() }, time.Second, 5*time.Millisecond)
}

func TestTimer_StopsOnContextCancel(t *testing.T) {
	svc, _, _ := newTestService()
	timer := NewTimer(svc, time.Hour, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop after context cancel")
	}
	assert.False(t, timer.Running())
}

func TestTimer_RecoversFromPanic(t *testing.T) {
	timer := NewTimer(NewService(panicStore{}, logging.Nop()), time.Hour, logging.Nop())
	assert.NotPanics(t, func() { timer.safeSweep(context.Background()) })
}

type panicStore struct{ Store }

func (panicStore) ListReleasable(ctx context.Context, before time.Time, limit int) ([]*models.Transaction, error) {
	panic("boom")
}
