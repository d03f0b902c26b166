package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/usecase"
)

// statsHandler returns an http.HandlerFunc that serves pipeline statistics.
func statsHandler(statsUC usecase.StatsUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		users, activeByTier, trials, err := statsUC.Totals(ctx)
		if err != nil {
			http.Error(w, "Failed to get totals", http.StatusInternalServerError)
			return
		}

		week, month, year, err := statsUC.Revenue(ctx)
		if err != nil {
			http.Error(w, "Failed to get revenue", http.StatusInternalServerError)
			return
		}

		counts, err := statsUC.TransactionCounts(ctx)
		if err != nil {
			http.Error(w, "Failed to get transaction counts", http.StatusInternalServerError)
			return
		}

		byTier := make(map[string]int, len(activeByTier))
		for tier, n := range activeByTier {
			byTier[string(tier)] = n
		}
		byStatus := make(map[string]int, len(counts))
		for status, n := range counts {
			byStatus[string(status)] = n
		}

		// Consolidate into a single response struct
		response := struct {
			TotalUsers        int            `json:"total_users"`
			ActiveByTier      map[string]int `json:"active_listings_by_tier"`
			ActiveTrials      int            `json:"active_trials"`
			TransactionCounts map[string]int `json:"transactions_by_status"`
			Revenue           struct {
				Week  int64 `json:"week"`
				Month int64 `json:"month"`
				Year  int64 `json:"year"`
			} `json:"revenue_ksh"`
		}{
			TotalUsers:        users,
			ActiveByTier:      byTier,
			ActiveTrials:      trials,
			TransactionCounts: byStatus,
		}
		response.Revenue.Week = week
		response.Revenue.Month = month
		response.Revenue.Year = year

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

// transactionsListHandler returns all transactions for a user.
func transactionsListHandler(payUC usecase.PaymentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}

		list, err := payUC.ListByUser(ctx, userID)
		if err != nil {
			http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
			return
		}

		response := struct {
			Data  interface{} `json:"data"`
			Total int         `json:"total"`
		}{
			Data:  list,
			Total: len(list),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

func transactionGetHandler(payUC usecase.PaymentUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Extract transaction ID from URL path: /api/v1/transactions/{id}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/transactions/")
		if id == "" {
			http.Error(w, "Transaction ID is required", http.StatusBadRequest)
			return
		}

		t, err := payUC.Status(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Failed to get transaction", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(t)
	}
}
