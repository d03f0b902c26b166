package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const transactionColumns = `id, user_id, checkout_request_id, mpesa_receipt, amount, phone, account_ref, description, tier, duration_days, status, result_code, result_desc, retry_count, last_retry_at, processed, proration_status, proration_amount, remaining_days, queued_profile, created_at, updated_at`

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,NULLIF($13,''),$14,$15,$16,NULLIF($17,''),$18,$19,$20,$21,$22)
ON CONFLICT (id) DO UPDATE SET
  checkout_request_id=NULLIF($3,''), mpesa_receipt=NULLIF($4,''), status=$11, result_code=$12,
  result_desc=NULLIF($13,''), retry_count=$14, last_retry_at=$15, processed=$16,
  proration_status=NULLIF($17,''), proration_amount=$18, remaining_days=$19, queued_profile=$20, updated_at=$22;`

	queued, err := marshalQueuedProfile(t.QueuedProfile)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		t.ID, t.UserID, t.CheckoutRequestID, t.MpesaReceipt, t.Amount, t.Phone, t.AccountRef,
		t.Description, t.Tier, t.DurationDays, t.Status, t.ResultCode, t.ResultDesc,
		t.RetryCount, t.LastRetryAt, t.Processed, t.ProrationStatus, t.ProrationAmount,
		t.RemainingDays, queued, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutID string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id=$1 ORDER BY created_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, checkoutID)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) SetCheckoutID(ctx context.Context, tx repository.Tx, id, checkoutID string) error {
	const q = `UPDATE transactions SET checkout_request_id=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, checkoutID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id=$1 ORDER BY created_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// MarkTerminal is the idempotency guard: the non-terminal WHERE clause and
// the terminal write are one statement, so of N concurrent deliveries
// exactly one observes RowsAffected()==1. RETRYING qualifies: a definitive
// result delivered between the transient callback and the re-push settles
// the transaction.
func (r *transactionRepo) MarkTerminal(ctx context.Context, tx repository.Tx, id string, status model.TransactionStatus, resultCode *int, resultDesc string, receipt string) (bool, error) {
	const q = `
UPDATE transactions
   SET status=$2,
       result_code=COALESCE($3, result_code),
       result_desc=COALESCE(NULLIF($4,''), result_desc),
       mpesa_receipt=COALESCE(NULLIF($5,''), mpesa_receipt),
       updated_at=NOW()
 WHERE id=$1
   AND status IN ('PENDING','RETRYING');`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, status, resultCode, resultDesc, receipt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) MarkRetrying(ctx context.Context, tx repository.Tx, id string, resultCode *int, resultDesc string, limit int) (bool, error) {
	const q = `
UPDATE transactions
   SET status='RETRYING',
       retry_count=retry_count+1,
       last_retry_at=NOW(),
       result_code=COALESCE($2, result_code),
       result_desc=COALESCE(NULLIF($3,''), result_desc),
       updated_at=NOW()
 WHERE id=$1
   AND status='PENDING'
   AND retry_count < $4;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, resultCode, resultDesc, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) ClaimRetry(ctx context.Context, tx repository.Tx, id, newCheckoutID string) (bool, error) {
	const q = `
UPDATE transactions
   SET status='PENDING', checkout_request_id=$2, updated_at=NOW()
 WHERE id=$1
   AND status='RETRYING';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, newCheckoutID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) FailRetrying(ctx context.Context, tx repository.Tx, id, resultDesc string) (bool, error) {
	const q = `
UPDATE transactions
   SET status='FAILED', result_desc=COALESCE(NULLIF($2,''), result_desc), updated_at=NOW()
 WHERE id=$1
   AND status='RETRYING';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, resultDesc)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

// FailExhausted fails a transient result whose retry budget is spent. The
// retry_count guard keeps it from touching a row another delivery already
// put back in flight with budget remaining.
func (r *transactionRepo) FailExhausted(ctx context.Context, tx repository.Tx, id string, resultCode *int, resultDesc string, limit int) (bool, error) {
	const q = `
UPDATE transactions
   SET status='FAILED',
       result_code=COALESCE($2, result_code),
       result_desc=COALESCE(NULLIF($3,''), result_desc),
       updated_at=NOW()
 WHERE id=$1
   AND status='PENDING'
   AND retry_count >= $4;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, resultCode, resultDesc, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) ListUnprocessedSuccess(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT ` + transactionColumns + `
  FROM transactions
 WHERE status='SUCCESS'
   AND processed=FALSE
   AND amount > 0
   AND tier <> 'Trial'
   AND created_at >= $1
 ORDER BY created_at ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, since, limit)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id, prorationStatus string, prorationAmount int64, remainingDays int) error {
	const q = `
UPDATE transactions
   SET processed=TRUE, proration_status=NULLIF($2,''), proration_amount=$3, remaining_days=$4, updated_at=NOW()
 WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, prorationStatus, prorationAmount, remainingDays)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) ClearQueuedProfile(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE transactions SET queued_profile=NULL, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) HasPaidSuccess(ctx context.Context, tx repository.Tx, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM transactions WHERE user_id=$1 AND status='SUCCESS' AND amount > 0 AND tier <> 'Trial');`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return exists, nil
}

func (r *transactionRepo) SumByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM transactions WHERE status='SUCCESS' AND updated_at >= DATE_TRUNC($1, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, period)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *transactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.TransactionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM transactions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	counts := make(map[model.TransactionStatus]int)
	for rows.Next() {
		var status string
		var c int
		if err := rows.Scan(&status, &c); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.TransactionStatus(status)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

// --- scan helpers ---

func marshalQueuedProfile(p *model.ProfilePayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	t := &model.Transaction{}
	var (
		checkout, receipt, resultDesc, prorStatus *string
		status                                    string
		queued                                    []byte
	)
	err := row.Scan(&t.ID, &t.UserID, &checkout, &receipt, &t.Amount, &t.Phone, &t.AccountRef,
		&t.Description, &t.Tier, &t.DurationDays, &status, &t.ResultCode, &resultDesc,
		&t.RetryCount, &t.LastRetryAt, &t.Processed, &prorStatus, &t.ProrationAmount,
		&t.RemainingDays, &queued, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	t.Status = model.TransactionStatus(status)
	if checkout != nil {
		t.CheckoutRequestID = *checkout
	}
	if receipt != nil {
		t.MpesaReceipt = *receipt
	}
	if resultDesc != nil {
		t.ResultDesc = *resultDesc
	}
	if prorStatus != nil {
		t.ProrationStatus = *prorStatus
	}
	if len(queued) > 0 {
		var p model.ProfilePayload
		if err := json.Unmarshal(queued, &p); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		t.QueuedProfile = &p
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]*model.Transaction, error) {
	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func wrapListErr(err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
		return err
	default:
		return domain.ErrOperationFailed
	}
}
