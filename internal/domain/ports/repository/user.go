package repository

import (
	"context"

	"marketplace-payments/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)

	// AdjustBalance applies delta atomically (single UPDATE with an
	// increment, never read-modify-write). The proration sweep passes the
	// combined paid-minus-prorated delta in one call.
	AdjustBalance(ctx context.Context, tx Tx, id string, delta int64) error

	CountUsers(ctx context.Context, tx Tx) (int, error)
}
