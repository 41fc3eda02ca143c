package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func init() {
	// Prices travel as JSON numbers, e.g. "price": 29.99.
	decimal.MarshalJSONWithoutQuotes = true
}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionPaid      TransactionStatus = "paid"
	TransactionDisputed  TransactionStatus = "disputed"
	TransactionCompleted TransactionStatus = "completed"
)

// Transaction is one escrow deal for a single digital file. Buyer, payment
// and dispute fields stay nil until the matching transition happens.
type Transaction struct {
	ID            uint              `gorm:"primarykey" json:"id"`
	TransactionID string            `gorm:"column:transaction_id;type:varchar(64);uniqueIndex;not null" json:"transactionId"`
	Title         string            `gorm:"type:varchar(255);not null" json:"title"`
	Description   string            `gorm:"type:text;not null" json:"description"`
	Price         decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"price"`
	FileURL       string            `gorm:"column:file_url;type:text;not null" json:"fileURL"`
	FileName      string            `gorm:"type:varchar(255);not null" json:"fileName"`
	SellerID      string            `gorm:"type:varchar(128);not null;index" json:"sellerId"`
	SellerName    string            `gorm:"type:varchar(255)" json:"sellerName"`
	SellerEmail   string            `gorm:"type:varchar(255)" json:"sellerEmail"`
	Status        TransactionStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime:false" json:"updatedAt"`

	PaidAt            *time.Time `json:"paidAt"`
	CompletedAt       *time.Time `json:"completedAt"`
	PaymentIntentID   *string    `gorm:"type:varchar(255)" json:"paymentIntentId"`
	PaymentEventID    *string    `gorm:"type:varchar(255)" json:"paymentEventId,omitempty"`
	BuyerID           *string    `gorm:"type:varchar(128);index" json:"buyerId"`
	BuyerName         *string    `gorm:"type:varchar(255)" json:"buyerName"`
	BuyerEmail        *string    `gorm:"type:varchar(255)" json:"buyerEmail"`
	EscrowReleaseTime *time.Time `json:"escrowReleaseTime"`

	DisputeRaisedAt     *time.Time `json:"disputeRaisedAt"`
	DisputeReason       *string    `gorm:"type:varchar(255)" json:"disputeReason"`
	DisputeDescription  *string    `gorm:"type:text" json:"disputeDescription"`
	DisputeRaisedBy     *string    `gorm:"type:varchar(128)" json:"disputeRaisedBy"`
	DisputeRaisedByName *string    `gorm:"type:varchar(255)" json:"disputeRaisedByName"`

	FraudAnalysis  *datatypes.JSON `gorm:"type:jsonb" json:"fraudAnalysis"`
	FraudCheckedAt *time.Time      `json:"fraudCheckedAt"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// Clone returns a deep copy so callers can mutate it without touching the
// stored value.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.PaidAt = cloneTime(t.PaidAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.PaymentIntentID = cloneString(t.PaymentIntentID)
	c.PaymentEventID = cloneString(t.PaymentEventID)
	c.BuyerID = cloneString(t.BuyerID)
	c.BuyerName = cloneString(t.BuyerName)
	c.BuyerEmail = cloneString(t.BuyerEmail)
	c.EscrowReleaseTime = cloneTime(t.EscrowReleaseTime)
	c.DisputeRaisedAt = cloneTime(t.DisputeRaisedAt)
	c.DisputeReason = cloneString(t.DisputeReason)
	c.DisputeDescription = cloneString(t.DisputeDescription)
	c.DisputeRaisedBy = cloneString(t.DisputeRaisedBy)
	c.DisputeRaisedByName = cloneString(t.DisputeRaisedByName)
	c.FraudCheckedAt = cloneTime(t.FraudCheckedAt)
	if t.FraudAnalysis != nil {
		raw := make(datatypes.JSON, len(*t.FraudAnalysis))
		copy(raw, *t.FraudAnalysis)
		c.FraudAnalysis = &raw
	}
	return &c
}

// IsBuyer reports whether id is the recorded buyer.
func (t *Transaction) IsBuyer(id string) bool {
	return t.BuyerID != nil && *t.BuyerID == id
}

// FraudAnalysis is the strict shape of an advisory fraud score.
type FraudAnalysis struct {
	RiskLevel       string   `json:"risk_level" validate:"required,oneof=low medium high"`
	FraudIndicators []string `json:"fraud_indicators"`
	Recommendation  string   `json:"recommendation" validate:"required,oneof=approve flag review"`
	Confidence      float64  `json:"confidence" validate:"gte=0,lte=1"`
	Reasoning       string   `json:"reasoning"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
