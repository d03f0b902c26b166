package model

import (
	"time"

	"marketplace-payments/internal/domain"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"   // push accepted (or about to be), awaiting callback
	TransactionStatusRetrying  TransactionStatus = "RETRYING"  // transient gateway failure, re-push scheduled
	TransactionStatusSuccess   TransactionStatus = "SUCCESS"   // gateway confirmed payment
	TransactionStatusFailed    TransactionStatus = "FAILED"    // terminal gateway failure or retries exhausted
	TransactionStatusCancelled TransactionStatus = "CANCELLED" // user dismissed the STK prompt
)

// Terminal reports whether s admits no further transitions.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// ProrationStatus values recorded by the proration sweep.
const (
	ProrationProcessed = "processed" // settled from balance, entitlement upgraded
	ProrationPrompt    = "prompt"    // shortfall; user prompted for a top-up
)

// Transaction is one payment attempt in the ledger. Rows are never deleted;
// they are the audit trail for every shilling that moved (or failed to).
type Transaction struct {
	ID     string // UUID
	UserID string // UUID

	// CheckoutRequestID is the gateway correlation id. Empty until the push
	// request is accepted; overwritten when a transient failure is re-pushed.
	CheckoutRequestID string
	MpesaReceipt      string // gateway receipt id, set only on SUCCESS

	Amount       int64 // whole shillings
	Phone        string
	AccountRef   string
	Description  string
	Tier         Tier
	DurationDays int

	Status     TransactionStatus
	ResultCode *int
	ResultDesc string

	RetryCount  int
	LastRetryAt *time.Time

	// Proration bookkeeping, written once by the proration sweep.
	Processed       bool
	ProrationStatus string
	ProrationAmount int64
	RemainingDays   int

	// QueuedProfile holds the listing data submitted alongside the payment.
	// It stays unexecuted until the success callback consumes it.
	QueuedProfile *ProfilePayload

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransaction validates inputs and constructs a PENDING ledger entry.
// The phone is normalized here so nothing unnormalized ever reaches the
// gateway or the ledger.
func NewTransaction(userID string, amount int64, phone string, tier Tier, durationDays int, queued *ProfilePayload) (*Transaction, error) {
	if userID == "" || !tier.Valid() || durationDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		Phone:         normalized,
		Tier:          tier,
		DurationDays:  durationDays,
		Status:        TransactionStatusPending,
		QueuedProfile: queued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
