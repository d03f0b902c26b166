package usecase

import (
	"context"

	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/repository"
)

var _ StatsUseCase = (*statsUC)(nil)

// StatsUseCase aggregates read-only numbers for the admin panel.
type StatsUseCase interface {
	Totals(ctx context.Context) (users int, activeByTier map[model.Tier]int, trials int, err error)
	Revenue(ctx context.Context) (week, month, year int64, err error)
	TransactionCounts(ctx context.Context) (map[model.TransactionStatus]int, error)
}

type statsUC struct {
	users repository.UserRepository
	ents  repository.EntitlementRepository
	txs   repository.TransactionRepository
}

func NewStatsUseCase(users repository.UserRepository, ents repository.EntitlementRepository, txs repository.TransactionRepository) *statsUC {
	return &statsUC{users: users, ents: ents, txs: txs}
}

func (u *statsUC) Totals(ctx context.Context) (int, map[model.Tier]int, int, error) {
	users, err := u.users.CountUsers(ctx, repository.NoTX)
	if err != nil {
		return 0, nil, 0, err
	}
	byTier, err := u.ents.CountActiveByTier(ctx, repository.NoTX)
	if err != nil {
		return 0, nil, 0, err
	}
	trials, err := u.ents.CountActiveTrials(ctx, repository.NoTX)
	if err != nil {
		return 0, nil, 0, err
	}
	return users, byTier, trials, nil
}

func (u *statsUC) Revenue(ctx context.Context) (int64, int64, int64, error) {
	week, err := u.txs.SumByPeriod(ctx, repository.NoTX, "week")
	if err != nil {
		return 0, 0, 0, err
	}
	month, err := u.txs.SumByPeriod(ctx, repository.NoTX, "month")
	if err != nil {
		return 0, 0, 0, err
	}
	year, err := u.txs.SumByPeriod(ctx, repository.NoTX, "year")
	if err != nil {
		return 0, 0, 0, err
	}
	return week, month, year, nil
}

func (u *statsUC) TransactionCounts(ctx context.Context) (map[model.TransactionStatus]int, error) {
	return u.txs.CountByStatus(ctx, repository.NoTX)
}
