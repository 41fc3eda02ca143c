package escrow

import (
	"context"
	"math"
	"time"

	"middleman/internal/models"
)

// Release is the countdown view a client polls to render the payout timer.
type Release struct {
	EscrowReleaseTime *time.Time               `json:"escrowReleaseTime"`
	Released          bool                     `json:"released"`
	RemainingSeconds  int64                    `json:"remainingSeconds"`
	Status            models.TransactionStatus `json:"status"`
}

// CheckReleaseElapsed reports whether the escrow release time has been
// reached. A transaction that was never paid has not elapsed.
func CheckReleaseElapsed(tx *models.Transaction, now time.Time) bool {
	if tx.EscrowReleaseTime == nil {
		return false
	}
	return !now.Before(*tx.EscrowReleaseTime)
}

// ReleaseStatus summarizes how long until funds are released to the seller.
// Disputed transactions never release and report zero remaining.
func ReleaseStatus(tx *models.Transaction, now time.Time) Release {
	r := Release{
		EscrowReleaseTime: tx.EscrowReleaseTime,
		Status:            tx.Status,
	}

	switch tx.Status {
	case models.TransactionCompleted:
		r.Released = true
	case models.TransactionPaid:
		if CheckReleaseElapsed(tx, now) {
			r.Released = true
		} else {
			r.RemainingSeconds = int64(math.Ceil(tx.EscrowReleaseTime.Sub(now).Seconds()))
		}
	}
	return r
}

// ReleaseStatus fetches a transaction, settling it if due, and returns its
// countdown.
func (s *Service) ReleaseStatus(ctx context.Context, transactionID string) (Release, error) {
	tx, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return Release{}, err
	}
	return ReleaseStatus(tx, s.Now()), nil
}
