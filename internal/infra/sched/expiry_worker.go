package sched

import (
	"context"
	"time"

	"marketplace-payments/internal/infra/metrics"
	"marketplace-payments/internal/usecase"

	"github.com/rs/zerolog"
)

// ExpiryWorker periodically deactivates expired listing entitlements via
// the use case.
type ExpiryWorker struct {
	interval time.Duration
	entUC    usecase.EntitlementUseCase
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, entUC usecase.EntitlementUseCase, logger *zerolog.Logger) *ExpiryWorker {
	compLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		entUC:    entUC,
		log:      &compLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	// Run once on startup, then on every tick
	w.runCheck(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.runCheck(ctx)
		}
	}
}

func (w *ExpiryWorker) runCheck(ctx context.Context) {
	n, err := w.entUC.FinishExpired(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("expiry worker error")
	}
	if n > 0 {
		metrics.AddExpired(n)
		w.log.Info().Int("count", n).Msg("expired listings deactivated")
	}
}
