package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/adapter"
	"marketplace-payments/internal/domain/ports/repository"
	"marketplace-payments/internal/infra/metrics"
)

var _ ProrationUseCase = (*prorationUC)(nil)

// ProrationUseCase settles tier changes discovered after payment success.
// The sweep runs periodically and is decoupled from the callback so that
// payment settlement and tier-swap accounting cannot block each other.
type ProrationUseCase interface {
	// RunSweep examines unprocessed SUCCESS transactions whose tier differs
	// from the user's current one and either settles the prorated difference
	// from balance or parks the upgrade behind a shortfall prompt. Returns
	// how many candidates were examined.
	RunSweep(ctx context.Context) (int, error)
}

type prorationUC struct {
	txs      repository.TransactionRepository
	users    repository.UserRepository
	ents     repository.EntitlementRepository
	tm       repository.TransactionManager
	notifier adapter.Notifier
	lookback time.Duration
	payLink  string // base URL for the shortfall payment link
	log      *zerolog.Logger
}

func NewProrationUseCase(
	txs repository.TransactionRepository,
	users repository.UserRepository,
	ents repository.EntitlementRepository,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	lookback time.Duration,
	payLink string,
	logger *zerolog.Logger,
) *prorationUC {
	if lookback <= 0 {
		lookback = 15 * time.Minute
	}
	l := logger.With().Str("component", "ProrationUC").Logger()
	return &prorationUC{
		txs:      txs,
		users:    users,
		ents:     ents,
		tm:       tm,
		notifier: notifier,
		lookback: lookback,
		payLink:  payLink,
		log:      &l,
	}
}

// prorate rounds the prorated total to whole shillings, half away from zero.
// Daily rates stay fractional; rounding happens exactly once, at the total.
func prorate(remainingDays int, oldAmount int64, oldDays int, newAmount int64, newDays int) int64 {
	oldDaily := float64(oldAmount) / float64(oldDays)
	newDaily := float64(newAmount) / float64(newDays)
	return int64(math.Round(float64(remainingDays) * (newDaily - oldDaily)))
}

func (u *prorationUC) RunSweep(ctx context.Context) (int, error) {
	since := time.Now().Add(-u.lookback)
	candidates, err := u.txs.ListUnprocessedSuccess(ctx, repository.NoTX, since, 200)
	if err != nil {
		return 0, err
	}
	for _, t := range candidates {
		if err := u.process(ctx, t); err != nil {
			// one bad candidate must not starve the rest of the sweep
			u.log.Error().Err(err).Str("transaction_id", t.ID).Msg("proration candidate failed")
		}
	}
	return len(candidates), nil
}

func (u *prorationUC) process(ctx context.Context, t *model.Transaction) error {
	user, err := u.users.FindByID(ctx, repository.NoTX, t.UserID)
	if err != nil {
		return err
	}
	ent, err := u.ents.FindByUser(ctx, repository.NoTX, t.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	// no entitlement, an inactive one, or a same-tier renewal: nothing to
	// prorate against
	if ent.IsZero() || !ent.Active || ent.Tier == t.Tier {
		return u.txs.MarkProcessed(ctx, repository.NoTX, t.ID, "", 0, 0)
	}

	now := time.Now()
	remainingDays := 0
	if ent.ExpiryDate != nil && ent.ExpiryDate.After(now) {
		remainingDays = int(math.Ceil(ent.ExpiryDate.Sub(now).Hours() / 24))
	}
	prorated := prorate(remainingDays, ent.TierAmount, ent.DurationDays, t.Amount, t.DurationDays)

	if user.Balance >= prorated {
		// Extend from the old expiry when still in the future, otherwise
		// from now. A downgrade yields a negative prorated amount and the
		// same update simply credits the difference back.
		newExpiry := now.Add(time.Duration(t.DurationDays) * 24 * time.Hour)
		if remainingDays > 0 {
			newExpiry = ent.ExpiryDate.Add(time.Duration(t.DurationDays) * 24 * time.Hour)
		}
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := u.users.AdjustBalance(ctx, tx, t.UserID, t.Amount-prorated); err != nil {
				return err
			}
			if err := u.ents.ApplyUpgrade(ctx, tx, t.UserID, t.Tier, t.Amount, t.DurationDays, newExpiry); err != nil {
				return err
			}
			return u.txs.MarkProcessed(ctx, tx, t.ID, model.ProrationProcessed, prorated, remainingDays)
		})
		if err != nil {
			return err
		}
		metrics.IncProration("processed")
		u.log.Info().
			Str("user_id", t.UserID).
			Str("old_tier", string(ent.Tier)).
			Str("new_tier", string(t.Tier)).
			Int64("prorated", prorated).
			Int("remaining_days", remainingDays).
			Time("new_expiry", newExpiry).
			Msg("upgrade settled from balance")
		return nil
	}

	needed := prorated - user.Balance
	if needed < 0 {
		needed = 0
	}
	prompt := adapter.UpgradePrompt{
		OldTier:        ent.Tier,
		NewTier:        t.Tier,
		RemainingDays:  remainingDays,
		ProratedAmount: prorated,
		NeededAmount:   needed,
		PaymentLink:    fmt.Sprintf("%s?userId=%s&amount=%d&newType=%s", u.payLink, t.UserID, needed, t.Tier),
	}
	if err := u.notifier.UpgradeShortfall(ctx, user, prompt); err != nil {
		u.log.Warn().Err(err).Str("user_id", t.UserID).Msg("shortfall notification failed")
	}
	if err := u.txs.MarkProcessed(ctx, repository.NoTX, t.ID, model.ProrationPrompt, prorated, remainingDays); err != nil {
		return err
	}
	metrics.IncProration("prompt")
	u.log.Info().
		Str("user_id", t.UserID).
		Int64("prorated", prorated).
		Int64("needed", needed).
		Msg("upgrade parked awaiting top-up")
	return nil
}
