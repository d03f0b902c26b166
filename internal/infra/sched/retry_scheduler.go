package sched

import (
	"context"
	"sync"
	"time"

	"marketplace-payments/internal/usecase"

	"github.com/rs/zerolog"
)

// RetryDispatcher schedules one delayed re-push per transient gateway
// failure. Schedule never blocks the webhook path; the re-push runs on
// its own timer goroutine against the dispatcher's base context.
type RetryDispatcher struct {
	delay  time.Duration
	payUC  usecase.PaymentUseCase
	log    *zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[*time.Timer]string
}

var _ usecase.RetryScheduler = (*RetryDispatcher)(nil)

func NewRetryDispatcher(delay time.Duration, payUC usecase.PaymentUseCase, logger *zerolog.Logger) *RetryDispatcher {
	if delay <= 0 {
		delay = 15 * time.Second
	}
	compLog := logger.With().Str("component", "RetryDispatcher").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &RetryDispatcher{
		delay:  delay,
		payUC:  payUC,
		log:    &compLog,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[*time.Timer]string),
	}
}

func (d *RetryDispatcher) Schedule(transactionID string) {
	d.wg.Add(1)
	var timer *time.Timer
	d.mu.Lock()
	timer = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		delete(d.timers, timer)
		d.mu.Unlock()

		select {
		case <-d.ctx.Done():
			d.log.Warn().Str("tx_id", transactionID).Msg("retry dropped on shutdown")
			return
		default:
		}
		ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
		defer cancel()
		if err := d.payUC.RetryTransient(ctx, transactionID); err != nil {
			d.log.Error().Err(err).Str("tx_id", transactionID).Msg("retry push failed")
		}
	})
	d.timers[timer] = transactionID
	d.mu.Unlock()
}

// Stop cancels pending retries and waits for in-flight ones. Rows left
// in RETRYING can be re-pushed manually after restart.
func (d *RetryDispatcher) Stop() {
	d.cancel()
	d.mu.Lock()
	for timer, txID := range d.timers {
		if timer.Stop() {
			d.log.Warn().Str("tx_id", txID).Msg("retry dropped on shutdown")
			d.wg.Done()
		}
		delete(d.timers, timer)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
