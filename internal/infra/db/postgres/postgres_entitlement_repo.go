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

var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

type entitlementRepo struct{ pool *pgxpool.Pool }

func NewEntitlementRepo(pool *pgxpool.Pool) *entitlementRepo {
	return &entitlementRepo{pool: pool}
}

const entitlementColumns = `id, user_id, active, is_trial, expiry_date, tier, tier_amount, duration_days, profile, created_at, updated_at`

func (r *entitlementRepo) Upsert(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	const q = `
INSERT INTO entitlements (` + entitlementColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (user_id) DO UPDATE SET
  active=$3, is_trial=$4, expiry_date=$5, tier=$6, tier_amount=$7,
  duration_days=$8, profile=$9, updated_at=$11;`

	profile, err := json.Marshal(e.Profile)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		e.ID, e.UserID, e.Active, e.IsTrial, e.ExpiryDate, e.Tier, e.TierAmount,
		e.DurationDays, profile, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *entitlementRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	q := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanEntitlement(row)
}

func (r *entitlementRepo) DeactivateExpired(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Entitlement, error) {
	q := `
UPDATE entitlements
   SET active=FALSE, updated_at=NOW()
 WHERE active=TRUE
   AND expiry_date IS NOT NULL
   AND expiry_date <= $1
RETURNING ` + entitlementColumns + `;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		return nil, wrapListErr(err)
	}
	defer rows.Close()
	var out []*model.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *entitlementRepo) Deactivate(ctx context.Context, tx repository.Tx, userID string) error {
	const q = `UPDATE entitlements SET active=FALSE, updated_at=NOW() WHERE user_id=$1 AND active=TRUE;`
	_, err := execSQL(ctx, r.pool, tx, q, userID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *entitlementRepo) ApplyUpgrade(ctx context.Context, tx repository.Tx, userID string, tier model.Tier, amount int64, durationDays int, expiry time.Time) error {
	const q = `
UPDATE entitlements
   SET tier=$2, tier_amount=$3, duration_days=$4, expiry_date=$5,
       active=TRUE, is_trial=FALSE, updated_at=NOW()
 WHERE user_id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, tier, amount, durationDays, expiry)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrInvalidExecContext) {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *entitlementRepo) CountActiveByTier(ctx context.Context, tx repository.Tx) (map[model.Tier]int, error) {
	const q = `SELECT tier, COUNT(*) FROM entitlements WHERE active=TRUE GROUP BY tier;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	counts := make(map[model.Tier]int)
	for rows.Next() {
		var tier string
		var c int
		if err := rows.Scan(&tier, &c); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.Tier(tier)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *entitlementRepo) CountActiveTrials(ctx context.Context, tx repository.Tx) (int, error) {
	const q = `SELECT COUNT(*) FROM entitlements WHERE active=TRUE AND is_trial=TRUE;`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var c int
	if err := row.Scan(&c); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return c, nil
}

func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	e := &model.Entitlement{}
	var (
		tier    string
		profile []byte
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Active, &e.IsTrial, &e.ExpiryDate, &tier,
		&e.TierAmount, &e.DurationDays, &profile, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	e.Tier = model.Tier(tier)
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &e.Profile); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return e, nil
}
