package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/adapter"
)

type initiateRequest struct {
	UserID       string `json:"user_id"`
	Amount       int64  `json:"amount"`
	Phone        string `json:"phone"`
	Tier         string `json:"tier"`
	DurationDays int    `json:"duration_days"`
}

type transactionResponse struct {
	ID                string `json:"id"`
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount"`
	Tier              string `json:"tier"`
	ResultDesc        string `json:"result_desc,omitempty"`
	MpesaReceipt      string `json:"mpesa_receipt,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		CheckoutRequestID: t.CheckoutRequestID,
		Status:            string(t.Status),
		Amount:            t.Amount,
		Tier:              string(t.Tier),
		ResultDesc:        t.ResultDesc,
		MpesaReceipt:      t.MpesaReceipt,
		CreatedAt:         t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !s.allowPush(r.Context(), req.UserID) {
		http.Error(w, "Too many payment attempts, try again shortly", http.StatusTooManyRequests)
		return
	}

	t, err := s.payUC.Initiate(r.Context(), req.UserID, req.Amount, req.Phone, model.Tier(req.Tier), req.DurationDays, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toTransactionResponse(t))
}

type prorateUpgradeRequest struct {
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	NewTier string `json:"new_tier"`
}

func (s *Server) handleProrateUpgrade(w http.ResponseWriter, r *http.Request) {
	var req prorateUpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !s.allowPush(r.Context(), req.UserID) {
		http.Error(w, "Too many payment attempts, try again shortly", http.StatusTooManyRequests)
		return
	}

	t, err := s.payUC.InitiateUpgrade(r.Context(), req.UserID, req.Amount, model.Tier(req.NewTier))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toTransactionResponse(t))
}

// stkCallbackEnvelope mirrors the Daraja webhook body. CallbackMetadata
// is only present on success.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (e *stkCallbackEnvelope) receipt() string {
	for _, item := range e.Body.StkCallback.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// handleCallback is the Daraja webhook. The gateway is always acked with
// ResultCode 0 regardless of processing outcome: Daraja retries on
// anything else and every delivery is reprocessed idempotently anyway.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var env stkCallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.log.Warn().Err(err).Msg("malformed gateway callback body")
		s.ackGateway(w)
		return
	}

	cb := adapter.CallbackResult{
		CheckoutRequestID: env.Body.StkCallback.CheckoutRequestID,
		ResultCode:        env.Body.StkCallback.ResultCode,
		ResultDesc:        env.Body.StkCallback.ResultDesc,
		Receipt:           env.receipt(),
	}
	if err := s.cbUC.HandleCallback(r.Context(), cb); err != nil {
		s.log.Error().Err(err).Str("checkout_id", cb.CheckoutRequestID).Msg("callback processing failed")
	}
	s.ackGateway(w)
}

// handleValidation answers the C2B validation probe. Nothing to check on
// this side, always accept.
func (s *Server) handleValidation(w http.ResponseWriter, _ *http.Request) {
	s.ackGateway(w)
}

func (s *Server) ackGateway(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// handleStatus polls a transaction by id, or by checkoutRequestId for
// older clients that only kept the gateway correlation id.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var (
		t   *model.Transaction
		err error
	)
	if id := r.URL.Query().Get("id"); id != "" {
		t, err = s.payUC.Status(r.Context(), id)
	} else if checkoutID := r.URL.Query().Get("checkoutRequestId"); checkoutID != "" {
		t, err = s.payUC.StatusByCheckoutID(r.Context(), checkoutID)
	} else {
		http.Error(w, "id or checkoutRequestId is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toTransactionResponse(t))
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	list, err := s.payUC.ListByUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	data := make([]transactionResponse, 0, len(list))
	for _, t := range list {
		data = append(data, toTransactionResponse(t))
	}
	response := struct {
		Data []transactionResponse `json:"data"`
	}{Data: data}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

type profileSubmitRequest struct {
	UserID       string               `json:"user_id"`
	Tier         string               `json:"tier"`
	Amount       int64                `json:"amount"`
	DurationDays int                  `json:"duration_days"`
	Profile      model.ProfilePayload `json:"profile"`
}

func (s *Server) handleProfileSubmit(w http.ResponseWriter, r *http.Request) {
	var req profileSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.entUC.SubmitProfile(r.Context(), req.UserID, model.Tier(req.Tier), req.Amount, req.DurationDays, req.Profile)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	response := struct {
		Trial           bool                 `json:"trial"`
		RequiresPayment bool                 `json:"requires_payment"`
		Entitlement     *model.Entitlement   `json:"entitlement,omitempty"`
		Transaction     *transactionResponse `json:"transaction,omitempty"`
	}{
		Trial:           res.Trial,
		RequiresPayment: res.RequiresPayment,
		Entitlement:     res.Entitlement,
	}
	if res.Transaction != nil {
		tr := toTransactionResponse(res.Transaction)
		response.Transaction = &tr
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	ent, err := s.entUC.GetProfile(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ent)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrMissingPhone),
		errors.Is(err, domain.ErrInvalidPhone),
		errors.Is(err, domain.ErrAlreadyOnTier):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoActiveListing):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrPushRejected):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
