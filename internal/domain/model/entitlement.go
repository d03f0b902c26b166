package model

import (
	"time"

	"marketplace-payments/internal/domain"

	"github.com/google/uuid"
)

// ProfilePayload is the typed listing submission carried on a transaction
// until payment succeeds. It deliberately mirrors only what the payment
// pipeline needs to upsert; photo upload and search indexing happen outside.
type ProfilePayload struct {
	Username    string   `json:"username"`
	Phone       string   `json:"phone"`
	Gender      string   `json:"gender"`
	Age         int      `json:"age"`
	County      string   `json:"county"`
	Town        string   `json:"town"`
	Description string   `json:"description"`
	Services    []string `json:"services,omitempty"`
	Photos      []string `json:"photos,omitempty"`
}

// Entitlement is a user's current listing state. Exactly one row per user
// (upsert semantics); deactivation never deletes it.
type Entitlement struct {
	ID     string // UUID
	UserID string // UUID, unique

	Active     bool
	IsTrial    bool
	ExpiryDate *time.Time

	Tier         Tier
	TierAmount   int64 // what was paid for the current tier, whole shillings
	DurationDays int

	Profile ProfilePayload

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *Entitlement) IsZero() bool { return e == nil || e.ID == "" }

// Expired reports whether the entitlement's paid/trial period has lapsed.
func (e *Entitlement) Expired(now time.Time) bool {
	return e.ExpiryDate != nil && !e.ExpiryDate.After(now)
}

// NewTrialEntitlement grants the one-time first-use trial: active for
// TrialDays, amount forced to zero, isTrial set. No gateway call and no
// ledger entry back this grant.
func NewTrialEntitlement(userID string, tier Tier, profile ProfilePayload) (*Entitlement, error) {
	if userID == "" || !tier.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	expiry := now.Add(TrialDays * 24 * time.Hour)
	return &Entitlement{
		ID:           uuid.NewString(),
		UserID:       userID,
		Active:       true,
		IsTrial:      true,
		ExpiryDate:   &expiry,
		Tier:         tier,
		TierAmount:   0,
		DurationDays: TrialDays,
		Profile:      profile,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Activate applies a successful paid transaction: the queued profile fields
// replace the stored ones, the trial flag drops, and the clock restarts at
// now + duration.
func (e *Entitlement) Activate(tx *Transaction, now time.Time) {
	expiry := now.Add(time.Duration(tx.DurationDays) * 24 * time.Hour)
	e.Active = true
	e.IsTrial = false
	e.ExpiryDate = &expiry
	e.Tier = tx.Tier
	e.TierAmount = tx.Amount
	e.DurationDays = tx.DurationDays
	if tx.QueuedProfile != nil {
		e.Profile = *tx.QueuedProfile
	}
	e.UpdatedAt = now
}
