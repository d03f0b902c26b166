package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/adapter"
	"marketplace-payments/internal/domain/ports/repository"
	"marketplace-payments/internal/infra/metrics"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Initiate creates a PENDING ledger entry, fires the STK push and stores
	// the returned checkout request id. The queued profile payload, when
	// present, rides on the transaction untouched until the success callback.
	Initiate(ctx context.Context, userID string, amount int64, phone string, tier model.Tier, durationDays int, queued *model.ProfilePayload) (*model.Transaction, error)

	// InitiateUpgrade starts a user-driven proration top-up toward newTier,
	// reusing the phone on the active listing.
	InitiateUpgrade(ctx context.Context, userID string, amount int64, newTier model.Tier) (*model.Transaction, error)

	// Status is the polling read path by durable transaction id.
	Status(ctx context.Context, transactionID string) (*model.Transaction, error)
	// StatusByCheckoutID is the legacy polling path; it returns the newest
	// transaction for the id since retries historically reused ids.
	StatusByCheckoutID(ctx context.Context, checkoutID string) (*model.Transaction, error)

	ListByUser(ctx context.Context, userID string) ([]*model.Transaction, error)

	// RetryTransient re-pushes a RETRYING transaction. Invoked by the retry
	// scheduler after the fixed delay, never from a request path.
	RetryTransient(ctx context.Context, transactionID string) error
}

type paymentUC struct {
	txs     repository.TransactionRepository
	ents    repository.EntitlementRepository
	gateway adapter.PaymentGateway
	log     *zerolog.Logger
}

func NewPaymentUseCase(txs repository.TransactionRepository, ents repository.EntitlementRepository, gateway adapter.PaymentGateway, logger *zerolog.Logger) *paymentUC {
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{txs: txs, ents: ents, gateway: gateway, log: &l}
}

func (u *paymentUC) Initiate(ctx context.Context, userID string, amount int64, phone string, tier model.Tier, durationDays int, queued *model.ProfilePayload) (*model.Transaction, error) {
	t, err := model.NewTransaction(userID, amount, phone, tier, durationDays, queued)
	if err != nil {
		return nil, err
	}
	t.AccountRef = fmt.Sprintf("LIST-%s-%s", tier, ulid.Make())
	t.Description = fmt.Sprintf("Payment for %s (%d days)", tier, durationDays)
	return u.push(ctx, t)
}

func (u *paymentUC) InitiateUpgrade(ctx context.Context, userID string, amount int64, newTier model.Tier) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if !newTier.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	ent, err := u.ents.FindByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	if ent.IsZero() || !ent.Active {
		return nil, domain.ErrNoActiveListing
	}
	if ent.Tier == newTier {
		return nil, domain.ErrAlreadyOnTier
	}

	t, err := model.NewTransaction(userID, amount, ent.Profile.Phone, newTier, ent.DurationDays, nil)
	if err != nil {
		return nil, err
	}
	t.AccountRef = fmt.Sprintf("PRORATE-%s-%s", newTier, ulid.Make())
	t.Description = fmt.Sprintf("Proration for %s upgrade (%d Ksh)", newTier, amount)
	return u.push(ctx, t)
}

// push persists the PENDING entry first so a crash between Save and the
// gateway call leaves an auditable row, then fires the STK push and stores
// the correlation id. A rejected push terminates the entry immediately.
func (u *paymentUC) push(ctx context.Context, t *model.Transaction) (*model.Transaction, error) {
	if err := u.txs.Save(ctx, repository.NoTX, t); err != nil {
		return nil, err
	}

	checkoutID, err := u.gateway.Push(ctx, t.Phone, t.Amount, t.AccountRef, t.Description)
	if err != nil || checkoutID == "" {
		desc := "STK push rejected"
		if err != nil {
			desc = fmt.Sprintf("STK push rejected: %v", err)
		}
		if _, ferr := u.txs.MarkTerminal(ctx, repository.NoTX, t.ID, model.TransactionStatusFailed, nil, desc, ""); ferr != nil {
			u.log.Error().Err(ferr).Str("transaction_id", t.ID).Msg("failed to mark rejected push")
		}
		metrics.IncPush("rejected")
		u.log.Warn().Err(err).Str("transaction_id", t.ID).Msg("gateway rejected push request")
		return nil, fmt.Errorf("%w: %v", domain.ErrPushRejected, err)
	}

	if err := u.txs.SetCheckoutID(ctx, repository.NoTX, t.ID, checkoutID); err != nil {
		return nil, err
	}
	t.CheckoutRequestID = checkoutID
	metrics.IncPush("accepted")
	u.log.Info().Str("transaction_id", t.ID).Str("checkout_id", checkoutID).Int64("amount", t.Amount).Msg("STK push initiated")
	return t, nil
}

func (u *paymentUC) Status(ctx context.Context, transactionID string) (*model.Transaction, error) {
	return u.txs.FindByID(ctx, repository.NoTX, transactionID)
}

func (u *paymentUC) StatusByCheckoutID(ctx context.Context, checkoutID string) (*model.Transaction, error) {
	return u.txs.FindByCheckoutID(ctx, repository.NoTX, checkoutID)
}

func (u *paymentUC) ListByUser(ctx context.Context, userID string) ([]*model.Transaction, error) {
	return u.txs.ListByUser(ctx, repository.NoTX, userID)
}

func (u *paymentUC) RetryTransient(ctx context.Context, transactionID string) error {
	t, err := u.txs.FindByID(ctx, repository.NoTX, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	// A callback may have settled the transaction while the timer slept.
	if t.Status != model.TransactionStatusRetrying {
		u.log.Debug().Str("transaction_id", t.ID).Str("status", string(t.Status)).Msg("retry skipped, transaction no longer retrying")
		return nil
	}

	checkoutID, err := u.gateway.Push(ctx, t.Phone, t.Amount, t.AccountRef, t.Description)
	if err != nil || checkoutID == "" {
		desc := fmt.Sprintf("retry push rejected: %v", err)
		if _, ferr := u.txs.FailRetrying(ctx, repository.NoTX, t.ID, desc); ferr != nil {
			return ferr
		}
		metrics.IncRetry("push_rejected")
		u.log.Warn().Err(err).Str("transaction_id", t.ID).Int("retry_count", t.RetryCount).Msg("retry push rejected, transaction failed")
		return nil
	}

	claimed, err := u.txs.ClaimRetry(ctx, repository.NoTX, t.ID, checkoutID)
	if err != nil {
		return err
	}
	if !claimed {
		// The terminal write won while the push was in flight. The fresh
		// checkout id is left dangling; its callback lands in the
		// unknown-correlation branch and is absorbed there.
		metrics.IncRetry("lost_race")
		u.log.Info().Str("transaction_id", t.ID).Str("checkout_id", checkoutID).Msg("retry abandoned, transaction settled in the interim")
		return nil
	}
	metrics.IncRetry("repushed")
	u.log.Info().Str("transaction_id", t.ID).Str("checkout_id", checkoutID).Int("retry_count", t.RetryCount).Msg("transient failure re-pushed")
	return nil
}
