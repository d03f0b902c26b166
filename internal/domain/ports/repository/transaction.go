package repository

import (
	"context"
	"time"

	"marketplace-payments/internal/domain/model"
)

// TransactionRepository is the port for the payment ledger.
//
// Every status transition is a conditional update: the WHERE clause carries
// the expected current status and the caller learns from the affected-row
// count whether it won. Two callbacks for the same checkout id, or a
// callback racing the retry timer, therefore cannot both apply.
type TransactionRepository interface {
	Save(ctx context.Context, tx Tx, t *model.Transaction) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Transaction, error)

	// FindByCheckoutID returns the most recently created transaction holding
	// the checkout id. Retried transactions historically reused ids, so the
	// legacy polling path must tolerate stale duplicates.
	FindByCheckoutID(ctx context.Context, tx Tx, checkoutID string) (*model.Transaction, error)

	SetCheckoutID(ctx context.Context, tx Tx, id, checkoutID string) error
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.Transaction, error)

	// MarkTerminal moves a non-terminal row (PENDING or RETRYING) to status
	// (SUCCESS/FAILED/CANCELLED) in one statement. A RETRYING row qualifies
	// because a definitive result can land between the transient callback
	// and the delayed re-push. false means the row was already terminal; the
	// caller treats that as the idempotency short-circuit.
	MarkTerminal(ctx context.Context, tx Tx, id string, status model.TransactionStatus, resultCode *int, resultDesc string, receipt string) (bool, error)

	// MarkRetrying moves PENDING -> RETRYING, increments the retry counter
	// and stamps last_retry_at, but only while the counter is below limit.
	MarkRetrying(ctx context.Context, tx Tx, id string, resultCode *int, resultDesc string, limit int) (bool, error)

	// ClaimRetry moves RETRYING -> PENDING and installs the checkout id of
	// the re-pushed request. false means a callback settled the transaction
	// while the retry timer was sleeping; the retry must be abandoned.
	ClaimRetry(ctx context.Context, tx Tx, id, newCheckoutID string) (bool, error)

	// FailRetrying moves RETRYING -> FAILED (re-push rejected).
	FailRetrying(ctx context.Context, tx Tx, id, resultDesc string) (bool, error)

	// FailExhausted moves PENDING -> FAILED only when the retry counter has
	// reached limit: the budget-spent branch of a transient result. The
	// counter guard keeps a duplicate transient delivery from failing a row
	// that a retry claim just put back in flight with budget remaining.
	FailExhausted(ctx context.Context, tx Tx, id string, resultCode *int, resultDesc string, limit int) (bool, error)

	// ListUnprocessedSuccess returns SUCCESS transactions newer than since
	// with a positive amount and a paid tier whose processed flag is still
	// false: the proration sweep's candidates.
	ListUnprocessedSuccess(ctx context.Context, tx Tx, since time.Time, limit int) ([]*model.Transaction, error)

	// MarkProcessed records the proration outcome and sets processed=true
	// exactly once, keeping the sweep idempotent across runs.
	MarkProcessed(ctx context.Context, tx Tx, id, prorationStatus string, prorationAmount int64, remainingDays int) error

	ClearQueuedProfile(ctx context.Context, tx Tx, id string) error

	// HasPaidSuccess reports whether the user ever completed a paid
	// transaction with a tier attached (rules out the first-use trial).
	HasPaidSuccess(ctx context.Context, tx Tx, userID string) (bool, error)

	// --- Statistics read-only methods ---
	SumByPeriod(ctx context.Context, tx Tx, period string) (int64, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.TransactionStatus]int, error)
}
