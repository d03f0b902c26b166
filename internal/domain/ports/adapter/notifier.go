package adapter

import (
	"context"

	"marketplace-payments/internal/domain/model"
)

// UpgradePrompt carries everything the user needs to settle a proration
// shortfall: what they are upgrading to, what proration came to, and what is
// still owed after their balance was counted.
type UpgradePrompt struct {
	OldTier        model.Tier
	NewTier        model.Tier
	RemainingDays  int
	ProratedAmount int64
	NeededAmount   int64
	PaymentLink    string
}

// Notifier is the port for outbound user notifications. Delivery (email,
// web push) lives outside this service; implementations here only hand the
// event over. Failures are logged, never propagated into sweep results.
type Notifier interface {
	TrialExpired(ctx context.Context, user *model.User, ent *model.Entitlement) error
	UpgradeShortfall(ctx context.Context, user *model.User, prompt UpgradePrompt) error
}
