package notify

import (
	"context"

	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.Notifier = (*LogNotifier)(nil)

// LogNotifier emits notification events as structured log lines. A
// delivery channel (SMS, email) can replace it behind the same port.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	compLog := logger.With().Str("component", "Notifier").Logger()
	return &LogNotifier{log: &compLog}
}

func (n *LogNotifier) TrialExpired(ctx context.Context, u *model.User, e *model.Entitlement) error {
	n.log.Info().
		Str("user_id", u.ID).
		Str("username", u.Username).
		Str("tier", string(e.Tier)).
		Msg("trial expired")
	return nil
}

func (n *LogNotifier) UpgradeShortfall(ctx context.Context, u *model.User, p adapter.UpgradePrompt) error {
	n.log.Info().
		Str("user_id", u.ID).
		Str("old_tier", string(p.OldTier)).
		Str("new_tier", string(p.NewTier)).
		Int("remaining_days", p.RemainingDays).
		Int64("prorated_amount", p.ProratedAmount).
		Int64("needed_amount", p.NeededAmount).
		Str("payment_link", p.PaymentLink).
		Msg("upgrade shortfall, user prompted to pay difference")
	return nil
}
