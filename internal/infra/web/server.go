package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"marketplace-payments/internal/usecase"
)

// Server is the operator-facing admin API: statistics, transaction
// lookup and the Prometheus scrape endpoint.
type Server struct {
	statsUC usecase.StatsUseCase
	payUC   usecase.PaymentUseCase
	apiKey  string
	auth    *AuthManager
	log     *zerolog.Logger
}

func NewServer(
	statsUC usecase.StatsUseCase,
	payUC usecase.PaymentUseCase,
	apiKey string,
	jwtSecret string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		statsUC: statsUC,
		payUC:   payUC,
		apiKey:  apiKey,
		auth:    NewAuthManager(jwtSecret, true, "", 30*time.Minute),
		log:     logger,
	}
}

// RegisterRoutes sets up the routing for the admin API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/login", s.loginHandler)
	mux.HandleFunc("/api/v1/logout", s.logoutHandler)

	mux.Handle("/api/v1/stats", s.authMiddleware(statsHandler(s.statsUC)))

	txRouter := s.authMiddleware(s.transactionsRouter())
	mux.Handle("/api/v1/transactions", txRouter)
	mux.Handle("/api/v1/transactions/", txRouter)
}

// authMiddleware accepts either the static admin API key as a Bearer
// token or a session JWT minted via /api/v1/login.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if hdr := r.Header.Get("Authorization"); hdr != "" {
			tokenParts := strings.Split(hdr, " ")
			if len(tokenParts) == 2 && strings.ToLower(tokenParts[0]) == "bearer" && tokenParts[1] == s.apiKey {
				next.ServeHTTP(w, r)
				return
			}
		}

		if _, err := s.auth.ParseFromRequest(r); err == nil {
			next.ServeHTTP(w, r)
			return
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hdr := r.Header.Get("Authorization")
	tokenParts := strings.Split(hdr, " ")
	if s.apiKey == "" || len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" || tokenParts[1] != s.apiKey {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if _, err := s.auth.Mint(w); err != nil {
		http.Error(w, "Failed to mint session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// transactionsRouter acts as a sub-router for /api/v1/transactions
func (s *Server) transactionsRouter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/transactions")
		path = strings.TrimSuffix(path, "/")

		if path == "" { // Path is /api/v1/transactions?userId=...
			transactionsListHandler(s.payUC)(w, r)
			return
		}
		// Path is /api/v1/transactions/{id}
		transactionGetHandler(s.payUC)(w, r)
	})
}
