//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"marketplace-payments/internal/domain/model"
)

func TestTransactionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewTransactionRepo(testPool)
	userRepo := NewUserRepo(testPool)

	user, _ := model.NewUser("", "user1", "user1@example.com")

	setupPrerequisites := func(t *testing.T) {
		cleanup(t)
		if err := userRepo.Save(ctx, nil, user); err != nil {
			t.Fatalf("failed to save user: %v", err)
		}
	}

	newPending := func(t *testing.T, checkoutID string) *model.Transaction {
		t.Helper()
		tx, err := model.NewTransaction(user.ID, 1500, "0712345678", model.TierVIP, 30, nil)
		if err != nil {
			t.Fatalf("failed to build transaction: %v", err)
		}
		tx.CheckoutRequestID = checkoutID
		if err := repo.Save(ctx, nil, tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
		return tx
	}

	t.Run("should save and find a transaction", func(t *testing.T) {
		setupPrerequisites(t)

		saved := newPending(t, "ws_CO_find_1")

		foundByID, err := repo.FindByID(ctx, nil, saved.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if foundByID.CheckoutRequestID != "ws_CO_find_1" || foundByID.Status != model.TransactionStatusPending {
			t.Fatal("Did not find the correct transaction by ID")
		}

		foundByCheckout, err := repo.FindByCheckoutID(ctx, nil, "ws_CO_find_1")
		if err != nil {
			t.Fatalf("FindByCheckoutID failed: %v", err)
		}
		if foundByCheckout.ID != saved.ID {
			t.Fatal("Did not find the correct transaction by checkout id")
		}
	})

	t.Run("should round-trip a queued profile", func(t *testing.T) {
		setupPrerequisites(t)

		tx, _ := model.NewTransaction(user.ID, 1500, "0712345678", model.TierVIP, 30,
			&model.ProfilePayload{Username: "jane", Phone: "0712345678"})
		if err := repo.Save(ctx, nil, tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}

		found, err := repo.FindByID(ctx, nil, tx.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if found.QueuedProfile == nil || found.QueuedProfile.Username != "jane" {
			t.Fatal("queued profile did not survive the round trip")
		}

		if err := repo.ClearQueuedProfile(ctx, nil, tx.ID); err != nil {
			t.Fatalf("ClearQueuedProfile failed: %v", err)
		}
		found, _ = repo.FindByID(ctx, nil, tx.ID)
		if found.QueuedProfile != nil {
			t.Fatal("queued profile should be cleared")
		}
	})

	t.Run("should settle a terminal status exactly once", func(t *testing.T) {
		setupPrerequisites(t)
		tx := newPending(t, "ws_CO_cas_1")

		code := 0
		won, err := repo.MarkTerminal(ctx, nil, tx.ID, model.TransactionStatusSuccess, &code, "ok", "QK12XYZ789")
		if err != nil {
			t.Fatalf("First MarkTerminal failed: %v", err)
		}
		if !won {
			t.Error("expected first terminal update to win, but it returned false")
		}

		// A late delivery on the same row must lose.
		lateCode := 1032
		wonAgain, err := repo.MarkTerminal(ctx, nil, tx.ID, model.TransactionStatusCancelled, &lateCode, "cancelled", "")
		if err != nil {
			t.Fatalf("Second MarkTerminal failed: %v", err)
		}
		if wonAgain {
			t.Error("expected second terminal update to lose, but it returned true")
		}

		final, _ := repo.FindByID(ctx, nil, tx.ID)
		if final.Status != model.TransactionStatusSuccess || final.MpesaReceipt != "QK12XYZ789" {
			t.Errorf("terminal state regressed: %s / %s", final.Status, final.MpesaReceipt)
		}
	})

	t.Run("should enforce the retry budget", func(t *testing.T) {
		setupPrerequisites(t)
		tx := newPending(t, "ws_CO_retry_1")
		code := 2029

		// First transient marks RETRYING and bumps the count.
		marked, err := repo.MarkRetrying(ctx, nil, tx.ID, &code, "transient", 2)
		if err != nil || !marked {
			t.Fatalf("first MarkRetrying: marked=%v err=%v", marked, err)
		}
		row, _ := repo.FindByID(ctx, nil, tx.ID)
		if row.Status != model.TransactionStatusRetrying || row.RetryCount != 1 || row.LastRetryAt == nil {
			t.Fatalf("unexpected row after first transient: %+v", row)
		}

		// Claiming the retry installs the new checkout id and re-arms PENDING.
		claimed, err := repo.ClaimRetry(ctx, nil, tx.ID, "ws_CO_retry_2")
		if err != nil || !claimed {
			t.Fatalf("ClaimRetry: claimed=%v err=%v", claimed, err)
		}
		row, _ = repo.FindByID(ctx, nil, tx.ID)
		if row.Status != model.TransactionStatusPending || row.CheckoutRequestID != "ws_CO_retry_2" {
			t.Fatalf("unexpected row after claim: %+v", row)
		}

		// Second transient still fits the budget.
		if marked, _ := repo.MarkRetrying(ctx, nil, tx.ID, &code, "transient", 2); !marked {
			t.Fatal("second MarkRetrying should fit the budget")
		}
		repo.ClaimRetry(ctx, nil, tx.ID, "ws_CO_retry_3")

		// Third one exceeds it.
		marked, err = repo.MarkRetrying(ctx, nil, tx.ID, &code, "transient", 2)
		if err != nil {
			t.Fatalf("third MarkRetrying failed: %v", err)
		}
		if marked {
			t.Error("expected third MarkRetrying to lose against the budget")
		}
		row, _ = repo.FindByID(ctx, nil, tx.ID)
		if row.RetryCount != 2 {
			t.Errorf("expected retry count capped at 2, got %d", row.RetryCount)
		}
	})

	t.Run("should settle a definitive result while RETRYING", func(t *testing.T) {
		setupPrerequisites(t)
		tx := newPending(t, "ws_CO_cas_2")
		code := 2029
		if marked, err := repo.MarkRetrying(ctx, nil, tx.ID, &code, "transient", 2); err != nil || !marked {
			t.Fatalf("MarkRetrying: marked=%v err=%v", marked, err)
		}

		okCode := 0
		won, err := repo.MarkTerminal(ctx, nil, tx.ID, model.TransactionStatusSuccess, &okCode, "ok", "QK99ABC123")
		if err != nil {
			t.Fatalf("MarkTerminal failed: %v", err)
		}
		if !won {
			t.Error("expected the terminal update to win against a RETRYING row")
		}
		row, _ := repo.FindByID(ctx, nil, tx.ID)
		if row.Status != model.TransactionStatusSuccess || row.MpesaReceipt != "QK99ABC123" {
			t.Errorf("unexpected settled row: %s / %s", row.Status, row.MpesaReceipt)
		}
	})

	t.Run("should only exhaust a pending row with the counter at the limit", func(t *testing.T) {
		setupPrerequisites(t)
		tx := newPending(t, "ws_CO_exh_1")
		code := 2029

		// Row is RETRYING: a duplicate transient delivery must not fail it.
		repo.MarkRetrying(ctx, nil, tx.ID, &code, "transient", 2)
		failed, err := repo.FailExhausted(ctx, nil, tx.ID, &code, "transient", 2)
		if err != nil {
			t.Fatalf("FailExhausted failed: %v", err)
		}
		if failed {
			t.Error("expected FailExhausted to lose against a RETRYING row")
		}

		// Re-armed PENDING with budget remaining must survive too.
		repo.ClaimRetry(ctx, nil, tx.ID, "ws_CO_exh_2")
		if failed, _ := repo.FailExhausted(ctx, nil, tx.ID, &code, "transient", 2); failed {
			t.Error("expected FailExhausted to lose while budget remains")
		}

		// Spend the budget, then exhaustion wins.
		repo.MarkRetrying(ctx, nil, tx.ID, &code, "transient", 2)
		repo.ClaimRetry(ctx, nil, tx.ID, "ws_CO_exh_3")
		failed, err = repo.FailExhausted(ctx, nil, tx.ID, &code, "transient", 2)
		if err != nil || !failed {
			t.Fatalf("FailExhausted on spent budget: failed=%v err=%v", failed, err)
		}
		row, _ := repo.FindByID(ctx, nil, tx.ID)
		if row.Status != model.TransactionStatusFailed {
			t.Errorf("expected FAILED, got %s", row.Status)
		}
	})

	t.Run("should fail a retrying transaction", func(t *testing.T) {
		setupPrerequisites(t)
		tx := newPending(t, "ws_CO_fail_1")
		code := 2029
		repo.MarkRetrying(ctx, nil, tx.ID, &code, "transient", 2)

		failed, err := repo.FailRetrying(ctx, nil, tx.ID, "retry budget exhausted")
		if err != nil || !failed {
			t.Fatalf("FailRetrying: failed=%v err=%v", failed, err)
		}
		row, _ := repo.FindByID(ctx, nil, tx.ID)
		if row.Status != model.TransactionStatusFailed {
			t.Errorf("expected FAILED, got %s", row.Status)
		}
	})

	t.Run("should list only unprocessed paid successes inside the window", func(t *testing.T) {
		setupPrerequisites(t)
		code := 0

		// 1. Success, unprocessed, should be found.
		hit := newPending(t, "ws_CO_sweep_1")
		repo.MarkTerminal(ctx, nil, hit.ID, model.TransactionStatusSuccess, &code, "ok", "R1")

		// 2. Success but already processed, should NOT be found.
		done := newPending(t, "ws_CO_sweep_2")
		repo.MarkTerminal(ctx, nil, done.ID, model.TransactionStatusSuccess, &code, "ok", "R2")
		repo.MarkProcessed(ctx, nil, done.ID, model.ProrationProcessed, 0, 0)

		// 3. Still pending, should NOT be found.
		newPending(t, "ws_CO_sweep_3")

		results, err := repo.ListUnprocessedSuccess(ctx, nil, time.Now().Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("ListUnprocessedSuccess failed: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 unprocessed success, got %d", len(results))
		}
		if results[0].ID != hit.ID {
			t.Error("listed the wrong transaction")
		}

		// Outside the lookback window nothing qualifies.
		results, _ = repo.ListUnprocessedSuccess(ctx, nil, time.Now().Add(time.Hour), 10)
		if len(results) != 0 {
			t.Errorf("expected empty window, got %d rows", len(results))
		}
	})

	t.Run("should aggregate revenue and status counts", func(t *testing.T) {
		setupPrerequisites(t)
		code := 0

		a := newPending(t, "ws_CO_agg_1")
		repo.MarkTerminal(ctx, nil, a.ID, model.TransactionStatusSuccess, &code, "ok", "R1")
		b := newPending(t, "ws_CO_agg_2")
		failCode := 1
		repo.MarkTerminal(ctx, nil, b.ID, model.TransactionStatusFailed, &failCode, "insufficient funds", "")

		week, err := repo.SumByPeriod(ctx, nil, "week")
		if err != nil {
			t.Fatalf("SumByPeriod failed: %v", err)
		}
		if week != 1500 {
			t.Errorf("expected weekly revenue 1500, got %d", week)
		}

		counts, err := repo.CountByStatus(ctx, nil)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if counts[model.TransactionStatusSuccess] != 1 || counts[model.TransactionStatusFailed] != 1 {
			t.Errorf("unexpected status counts: %v", counts)
		}

		paid, err := repo.HasPaidSuccess(ctx, nil, user.ID)
		if err != nil {
			t.Fatalf("HasPaidSuccess failed: %v", err)
		}
		if !paid {
			t.Error("expected a recorded paid success for the user")
		}
	})
}
