package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"marketplace-payments/internal/config"
	"marketplace-payments/internal/infra/redis"
	"marketplace-payments/internal/usecase"
)

// Server is the public API surface: payment initiation, the gateway
// webhook, status polling and profile submission.
type Server struct {
	cfg     *config.Config
	payUC   usecase.PaymentUseCase
	cbUC    usecase.CallbackUseCase
	entUC   usecase.EntitlementUseCase
	limiter *redis.RateLimiter
	log     *zerolog.Logger
	server  *http.Server
}

func NewServer(
	cfg *config.Config,
	payUC usecase.PaymentUseCase,
	cbUC usecase.CallbackUseCase,
	entUC usecase.EntitlementUseCase,
	limiter *redis.RateLimiter,
	logger *zerolog.Logger,
) *Server {
	compLog := logger.With().Str("component", "APIServer").Logger()
	return &Server{
		cfg:     cfg,
		payUC:   payUC,
		cbUC:    cbUC,
		entUC:   entUC,
		limiter: limiter,
		log:     &compLog,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Post("/initiate", s.handleInitiate)
			r.Post("/prorate-upgrade", s.handleProrateUpgrade)
			r.Post("/callback", s.handleCallback)
			r.Post("/validation", s.handleValidation)
			r.Get("/status", s.handleStatus)
			r.Get("/transactions", s.handleTransactions)
		})
		r.Post("/profile", s.handleProfileSubmit)
		r.Get("/profile", s.handleProfileGet)
	})

	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.API.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", s.cfg.API.Port).Msg("public API listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// allowPush caps how often a single user can trigger an STK push. A
// limiter outage fails open.
func (s *Server) allowPush(ctx context.Context, userID string) bool {
	if s.limiter == nil || userID == "" {
		return true
	}
	ok, err := s.limiter.Allow(ctx, redis.InitiateKey(userID), s.cfg.API.RateLimit, s.cfg.API.RateWindow)
	if err != nil {
		s.log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		return true
	}
	return ok
}
