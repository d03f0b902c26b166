package repository

import (
	"context"
	"time"

	"marketplace-payments/internal/domain/model"
)

// EntitlementRepository is the port for listing entitlements. One row per
// user; Upsert covers both creation and re-activation.
type EntitlementRepository interface {
	Upsert(ctx context.Context, tx Tx, e *model.Entitlement) error
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.Entitlement, error)

	// DeactivateExpired flips active=false for every active entitlement with
	// expiry_date <= cutoff in one statement and returns the rows it
	// deactivated. A second run the same day matches nothing.
	DeactivateExpired(ctx context.Context, tx Tx, cutoff time.Time) ([]*model.Entitlement, error)

	// Deactivate flips a single entitlement off (lazy expiry on read).
	Deactivate(ctx context.Context, tx Tx, userID string) error

	// ApplyUpgrade swaps tier/amount/duration and the expiry in one update,
	// used by the proration sweep after it settled the difference.
	ApplyUpgrade(ctx context.Context, tx Tx, userID string, tier model.Tier, amount int64, durationDays int, expiry time.Time) error

	// --- Statistics read-only methods ---
	CountActiveByTier(ctx context.Context, tx Tx) (map[model.Tier]int, error)
	CountActiveTrials(ctx context.Context, tx Tx) (int, error)
}
