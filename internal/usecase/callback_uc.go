package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/adapter"
	"marketplace-payments/internal/domain/ports/repository"
	"marketplace-payments/internal/infra/metrics"
)

// RetryScheduler hands a RETRYING transaction to the delayed re-push loop.
// Scheduling must not block the webhook acknowledgement.
type RetryScheduler interface {
	Schedule(transactionID string)
}

var _ CallbackUseCase = (*callbackUC)(nil)

// CallbackUseCase consumes gateway settlement callbacks. The returned error
// is for internal logging only: the HTTP layer acknowledges the gateway with
// 200 on every branch, because the gateway must never be made to re-deliver
// the webhook or infer internal state from the response.
type CallbackUseCase interface {
	HandleCallback(ctx context.Context, cb adapter.CallbackResult) error
}

type callbackUC struct {
	txs        repository.TransactionRepository
	users      repository.UserRepository
	ents       repository.EntitlementRepository
	tm         repository.TransactionManager
	retrier    RetryScheduler
	maxRetries int
	log        *zerolog.Logger
}

func NewCallbackUseCase(
	txs repository.TransactionRepository,
	users repository.UserRepository,
	ents repository.EntitlementRepository,
	tm repository.TransactionManager,
	retrier RetryScheduler,
	maxRetries int,
	logger *zerolog.Logger,
) *callbackUC {
	l := logger.With().Str("component", "CallbackUC").Logger()
	return &callbackUC{
		txs:        txs,
		users:      users,
		ents:       ents,
		tm:         tm,
		retrier:    retrier,
		maxRetries: maxRetries,
		log:        &l,
	}
}

func (u *callbackUC) HandleCallback(ctx context.Context, cb adapter.CallbackResult) error {
	if cb.CheckoutRequestID == "" {
		metrics.IncCallback("malformed")
		u.log.Warn().Msg("callback without checkout request id, acknowledged without mutation")
		return nil
	}

	t, err := u.txs.FindByCheckoutID(ctx, repository.NoTX, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncCallback("unknown")
			u.log.Warn().Str("checkout_id", cb.CheckoutRequestID).Msg("callback for unknown checkout id, acknowledged without mutation")
			return nil
		}
		metrics.IncCallback("error")
		return err
	}
	// Cheap short-circuit for obvious duplicates. The authoritative guard is
	// the conditional update below: the non-terminal WHERE clause is
	// evaluated as part of the terminal write itself, so two concurrent
	// deliveries cannot both apply.
	if t.Status.Terminal() {
		metrics.IncCallback("duplicate")
		u.log.Debug().Str("transaction_id", t.ID).Str("status", string(t.Status)).Msg("duplicate callback for terminal transaction")
		return nil
	}

	switch {
	case cb.ResultCode == adapter.ResultSuccess:
		return u.settleSuccess(ctx, t, cb)
	case cb.ResultCode == adapter.ResultTransient:
		return u.enterRetry(ctx, t, cb)
	case cb.ResultCode == adapter.ResultCancelledByUser:
		return u.settleTerminal(ctx, t, cb, model.TransactionStatusCancelled)
	default:
		return u.settleTerminal(ctx, t, cb, model.TransactionStatusFailed)
	}
}

// settleSuccess applies the terminal SUCCESS write, the balance credit and
// the entitlement activation in one database transaction, so the credit is
// tied to whichever delivery wins the compare-and-set.
func (u *callbackUC) settleSuccess(ctx context.Context, t *model.Transaction, cb adapter.CallbackResult) error {
	code := cb.ResultCode
	applied := false
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		won, err := u.txs.MarkTerminal(ctx, tx, t.ID, model.TransactionStatusSuccess, &code, cb.ResultDesc, cb.Receipt)
		if err != nil {
			return err
		}
		if !won {
			// idempotency short-circuit: another delivery settled first
			return nil
		}
		applied = true
		if err := u.users.AdjustBalance(ctx, tx, t.UserID, t.Amount); err != nil {
			return err
		}
		if t.QueuedProfile != nil {
			if err := u.activateEntitlement(ctx, tx, t); err != nil {
				return err
			}
			if err := u.txs.ClearQueuedProfile(ctx, tx, t.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.IncCallback("error")
		u.log.Error().Err(err).Str("transaction_id", t.ID).Msg("success settlement failed")
		return err
	}
	if !applied {
		metrics.IncCallback("duplicate")
		return nil
	}
	metrics.IncCallback("success")
	metrics.AddRevenue(t.Amount)
	u.log.Info().
		Str("transaction_id", t.ID).
		Str("checkout_id", cb.CheckoutRequestID).
		Str("receipt", cb.Receipt).
		Int64("amount", t.Amount).
		Msg("payment settled, balance credited")
	return nil
}

func (u *callbackUC) activateEntitlement(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	ent, err := u.ents.FindByUser(ctx, tx, t.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	now := time.Now()
	if ent.IsZero() {
		ent = &model.Entitlement{ID: uuid.NewString(), UserID: t.UserID, CreatedAt: now}
	}
	ent.Activate(t, now)
	if err := u.ents.Upsert(ctx, tx, ent); err != nil {
		return err
	}
	u.log.Info().
		Str("user_id", t.UserID).
		Str("tier", string(t.Tier)).
		Time("expiry", *ent.ExpiryDate).
		Msg("listing activated from queued profile")
	return nil
}

func (u *callbackUC) enterRetry(ctx context.Context, t *model.Transaction, cb adapter.CallbackResult) error {
	code := cb.ResultCode
	msg := adapter.ResultMessage(code, cb.ResultDesc)
	marked, err := u.txs.MarkRetrying(ctx, repository.NoTX, t.ID, &code, msg, u.maxRetries)
	if err != nil {
		metrics.IncCallback("error")
		return err
	}
	if marked {
		metrics.IncCallback("transient")
		u.log.Info().Str("transaction_id", t.ID).Int("retry_count", t.RetryCount+1).Msg("transient gateway failure, retry scheduled")
		u.retrier.Schedule(t.ID)
		return nil
	}
	// MarkRetrying lost: the budget is spent, the row is already RETRYING
	// from a duplicate transient delivery, or a terminal write landed
	// concurrently. Only the first may fail the transaction, and
	// FailExhausted's own guard (PENDING with the counter at the limit)
	// distinguishes it; the other two make this a no-op.
	won, err := u.txs.FailExhausted(ctx, repository.NoTX, t.ID, &code, msg, u.maxRetries)
	if err != nil {
		metrics.IncCallback("error")
		return err
	}
	if won {
		metrics.IncCallback("failed")
		u.log.Info().Str("transaction_id", t.ID).Int("retry_count", t.RetryCount).Msg("retries exhausted, transaction failed")
	} else {
		metrics.IncCallback("duplicate")
	}
	return nil
}

func (u *callbackUC) settleTerminal(ctx context.Context, t *model.Transaction, cb adapter.CallbackResult, status model.TransactionStatus) error {
	code := cb.ResultCode
	msg := adapter.ResultMessage(code, cb.ResultDesc)
	won, err := u.txs.MarkTerminal(ctx, repository.NoTX, t.ID, status, &code, msg, "")
	if err != nil {
		metrics.IncCallback("error")
		return err
	}
	if !won {
		metrics.IncCallback("duplicate")
		return nil
	}
	if status == model.TransactionStatusCancelled {
		metrics.IncCallback("cancelled")
	} else {
		metrics.IncCallback("failed")
	}
	u.log.Info().
		Str("transaction_id", t.ID).
		Int("result_code", code).
		Str("status", string(status)).
		Msg("payment did not complete")
	return nil
}
