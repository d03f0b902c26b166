package sched

import (
	"context"
	"time"

	"marketplace-payments/internal/usecase"

	"github.com/rs/zerolog"
)

// ProrationWorker periodically sweeps settled upgrade payments that have
// not been prorated yet. This covers the case where a success callback
// landed but the process crashed before the proration settled, as well
// as ordinary steady-state processing.
type ProrationWorker struct {
	interval time.Duration
	prorUC   usecase.ProrationUseCase
	log      *zerolog.Logger
}

func NewProrationWorker(interval time.Duration, prorUC usecase.ProrationUseCase, logger *zerolog.Logger) *ProrationWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	compLog := logger.With().Str("component", "ProrationWorker").Logger()
	return &ProrationWorker{
		interval: interval,
		prorUC:   prorUC,
		log:      &compLog,
	}
}

func (w *ProrationWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting proration worker")
	// Run once on startup, then on every tick
	w.runSweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping proration worker")
			return ctx.Err()
		case <-ticker.C:
			w.runSweep(ctx)
		}
	}
}

func (w *ProrationWorker) runSweep(ctx context.Context) {
	n, err := w.prorUC.RunSweep(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("proration sweep failed")
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("proration candidates processed")
	}
}
