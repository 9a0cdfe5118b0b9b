package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/provider-webhook/dto"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/provider-webhook/service"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/httpx"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

const endpoint = "provider"

// Handler é o caso de uso consumido pelo endpoint
type Handler interface {
	Handle(ctx context.Context, req dto.ProviderRequest) (service.Result, error)
}

// Server expõe o webhook do provedor de jogos
type Server struct {
	log     *zap.Logger
	svc     Handler
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewServer(log *zap.Logger, svc Handler, m *metrics.Metrics, timeout time.Duration) *Server {
	return &Server{log: log, svc: svc, metrics: m, timeout: timeout}
}

// Routes registra POST /webhooks/provider
func (s *Server) Routes(r chi.Router) {
	r.Post("/webhooks/provider", s.provider)
}

// Router devolve um roteador só com este webhook (CORS aberto)
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithCORS)
	s.Routes(r)
	return r
}

func (s *Server) provider(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var req dto.ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, http.StatusBadRequest, "bad_json", "Invalid JSON", nil)
		return
	}

	res, err := s.svc.Handle(ctx, req)
	var balance *float64
	if res.HasBalance {
		f := res.Balance.InexactFloat64()
		balance = &f
	}

	switch {
	case err == nil && res.Duplicate:
		s.reply(w, http.StatusOK, "duplicate", "Duplicate transaction", balance)
	case err == nil:
		s.reply(w, http.StatusOK, "applied", "Transaction processed", balance)
	case errors.Is(err, service.ErrInvalidRequest):
		s.reply(w, http.StatusBadRequest, "invalid_request", "Missing required fields", nil)
	case errors.Is(err, service.ErrUnauthorized):
		s.log.Warn("provider callback rejected", zap.String("transaction_id", req.TransactionID))
		s.reply(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials", nil)
	case errors.Is(err, repo.ErrAccountNotFound):
		s.reply(w, http.StatusNotFound, "account_not_found", "User not found", nil)
	case errors.Is(err, ledger.ErrInvalidAmount):
		s.reply(w, http.StatusBadRequest, "invalid_amount", "Invalid amount", balance)
	case errors.Is(err, service.ErrUnknownAction):
		s.reply(w, http.StatusBadRequest, "unknown_action", "Unknown action", balance)
	case errors.Is(err, repo.ErrInsufficientFunds):
		s.reply(w, http.StatusBadRequest, "insufficient_funds", "Insufficient balance", balance)
	case errors.Is(err, ledger.ErrReferenceConflict):
		s.log.Warn("provider transaction_id reused for another user",
			zap.String("transaction_id", req.TransactionID),
			zap.String("user_code", req.UserCode))
		s.reply(w, http.StatusConflict, "reference_conflict", "Transaction id already used by another user", balance)
	default:
		s.log.Error("provider callback failed",
			zap.String("transaction_id", req.TransactionID),
			zap.String("action", req.Action),
			zap.Error(err))
		s.reply(w, http.StatusInternalServerError, "error", "Internal server error", nil)
	}
}

func (s *Server) reply(w http.ResponseWriter, status int, outcome, msg string, balance *float64) {
	s.metrics.Webhook(endpoint, outcome)
	resp := dto.ProviderResponse{Status: "success", Msg: msg, Balance: balance}
	if status >= 300 {
		resp.Status = "error"
	}
	httpx.WriteJSON(w, status, resp)
}
