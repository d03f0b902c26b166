package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/adapter"
	"marketplace-payments/internal/domain/ports/repository"
	"marketplace-payments/internal/infra/metrics"
)

var _ EntitlementUseCase = (*entitlementUC)(nil)

// SubmitResult tells the caller which path a profile submission took: an
// immediate trial grant, or a pending payment holding the queued profile.
type SubmitResult struct {
	Trial           bool
	RequiresPayment bool
	Entitlement     *model.Entitlement
	Transaction     *model.Transaction
}

type EntitlementUseCase interface {
	// SubmitProfile either grants the one-time 7-day trial (first-ever
	// entitlement, no gateway involved) or initiates a paid flow with the
	// profile queued on the transaction.
	SubmitProfile(ctx context.Context, userID string, tier model.Tier, amount int64, durationDays int, profile model.ProfilePayload) (*SubmitResult, error)

	// GetProfile returns the user's entitlement, lazily deactivating it when
	// the expiry has passed but the daily sweep has not caught it yet.
	GetProfile(ctx context.Context, userID string) (*model.Entitlement, error)

	// FinishExpired batch-deactivates everything past its expiry and sends
	// trial-expiry notifications. Re-entrant: the second run of a day
	// matches nothing.
	FinishExpired(ctx context.Context) (int, error)
}

type entitlementUC struct {
	ents     repository.EntitlementRepository
	txs      repository.TransactionRepository
	users    repository.UserRepository
	payUC    PaymentUseCase
	notifier adapter.Notifier
	log      *zerolog.Logger
}

func NewEntitlementUseCase(
	ents repository.EntitlementRepository,
	txs repository.TransactionRepository,
	users repository.UserRepository,
	payUC PaymentUseCase,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *entitlementUC {
	l := logger.With().Str("component", "EntitlementUC").Logger()
	return &entitlementUC{ents: ents, txs: txs, users: users, payUC: payUC, notifier: notifier, log: &l}
}

func (u *entitlementUC) SubmitProfile(ctx context.Context, userID string, tier model.Tier, amount int64, durationDays int, profile model.ProfilePayload) (*SubmitResult, error) {
	if !tier.Valid() {
		return nil, domain.ErrInvalidArgument
	}

	ent, err := u.ents.FindByUser(ctx, repository.NoTX, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	hadPaid, err := u.txs.HasPaidSuccess(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}

	if ent.IsZero() && !hadPaid {
		trial, err := model.NewTrialEntitlement(userID, tier, profile)
		if err != nil {
			return nil, err
		}
		if err := u.ents.Upsert(ctx, repository.NoTX, trial); err != nil {
			return nil, err
		}
		metrics.IncTrialGrant()
		u.log.Info().
			Str("user_id", userID).
			Str("tier", string(tier)).
			Time("expiry", *trial.ExpiryDate).
			Msg("first-use trial granted")
		return &SubmitResult{Trial: true, Entitlement: trial}, nil
	}

	t, err := u.payUC.Initiate(ctx, userID, amount, profile.Phone, tier, durationDays, &profile)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{RequiresPayment: true, Transaction: t}, nil
}

func (u *entitlementUC) GetProfile(ctx context.Context, userID string) (*model.Entitlement, error) {
	ent, err := u.ents.FindByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	if ent.Active && ent.Expired(time.Now()) {
		if err := u.ents.Deactivate(ctx, repository.NoTX, userID); err != nil {
			return nil, err
		}
		ent.Active = false
		u.log.Info().Str("user_id", userID).Bool("was_trial", ent.IsTrial).Msg("expired listing deactivated on read")
	}
	return ent, nil
}

func (u *entitlementUC) FinishExpired(ctx context.Context) (int, error) {
	now := time.Now()
	// today at midnight: anything expiring before today counts, anything
	// expiring later today survives until tomorrow's run
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	expired, err := u.ents.DeactivateExpired(ctx, repository.NoTX, cutoff)
	if err != nil {
		return 0, err
	}
	for _, ent := range expired {
		if !ent.IsTrial {
			continue
		}
		user, err := u.users.FindByID(ctx, repository.NoTX, ent.UserID)
		if err != nil {
			u.log.Warn().Err(err).Str("user_id", ent.UserID).Msg("expiry notification skipped, user lookup failed")
			continue
		}
		if err := u.notifier.TrialExpired(ctx, user, ent); err != nil {
			u.log.Warn().Err(err).Str("user_id", ent.UserID).Msg("trial expiry notification failed")
		}
	}
	return len(expired), nil
}
