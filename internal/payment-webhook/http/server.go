package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/payment-webhook/dto"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/payment-webhook/signature"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/httpx"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/settlement"
)

const endpoint = "payment"

// Settlement são as transições disparadas pelos eventos do processador
type Settlement interface {
	ConfirmDeposit(ctx context.Context, c settlement.DepositConfirmation) (settlement.Outcome, repo.Deposit, error)
	ExpireDeposit(ctx context.Context, ref settlement.Ref) (settlement.Outcome, error)
	CompleteWithdrawal(ctx context.Context, ref settlement.Ref) (settlement.Outcome, error)
	FailWithdrawal(ctx context.Context, ref settlement.Ref, reason string) (settlement.Outcome, error)
}

type Server struct {
	log     *zap.Logger
	svc     Settlement
	secret  string
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewServer(log *zap.Logger, svc Settlement, secret string, m *metrics.Metrics, timeout time.Duration) *Server {
	return &Server{log: log, svc: svc, secret: secret, metrics: m, timeout: timeout}
}

// Routes registra POST /webhooks/payment atrás da verificação HMAC
func (s *Server) Routes(r chi.Router) {
	r.With(signature.RequireSignature(s.secret, s.rejectSignature)).
		Post("/webhooks/payment", s.payment)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithCORS)
	s.Routes(r)
	return r
}

func (s *Server) rejectSignature(w http.ResponseWriter, r *http.Request) {
	s.log.Warn("payment webhook rejected: invalid signature", zap.String("remote", r.RemoteAddr))
	s.reply(w, http.StatusUnauthorized, "unauthorized", dto.Response{Success: false, Message: "Invalid signature"})
}

func (s *Server) payment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var ev dto.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.reply(w, http.StatusBadRequest, "bad_json", dto.Response{Success: false, Message: "Invalid JSON"})
		return
	}
	s.log.Info("payment webhook received",
		zap.String("event", ev.Event),
		zap.String("transaction_id", ev.TransactionID),
		zap.String("status", ev.Status))

	var (
		outcome  settlement.Outcome
		notFound string
		err      error
	)
	switch {
	case ev.Event == dto.EventPaymentConfirmed && ev.Type == dto.TypeCashIn:
		notFound = "Deposit not found"
		outcome, _, err = s.svc.ConfirmDeposit(ctx, settlement.DepositConfirmation{
			Ref:           settlement.Ref{ExternalID: ev.TransactionID, LocalID: ev.LocalID("deposit_id")},
			ProcessorTxID: ev.TransactionID,
			PixData:       ev.PixData,
		})
	case ev.Event == dto.EventPaymentExpired && ev.Type == dto.TypeCashIn:
		notFound = "Deposit not found"
		outcome, err = s.svc.ExpireDeposit(ctx, settlement.Ref{ExternalID: ev.TransactionID, LocalID: ev.LocalID("deposit_id")})
	case ev.Event == dto.EventWithdrawalCompleted && ev.Type == dto.TypeCashOut:
		notFound = "Withdrawal not found"
		outcome, err = s.svc.CompleteWithdrawal(ctx, settlement.Ref{ExternalID: ev.TransactionID, LocalID: ev.LocalID("withdrawal_id")})
	case ev.Event == dto.EventWithdrawalFailed && ev.Type == dto.TypeCashOut:
		notFound = "Withdrawal not found"
		outcome, err = s.svc.FailWithdrawal(ctx, settlement.Ref{ExternalID: ev.TransactionID, LocalID: ev.LocalID("withdrawal_id")}, ev.Error)
	default:
		s.log.Info("payment webhook event not handled", zap.String("event", ev.Event), zap.String("type", ev.Type))
		s.reply(w, http.StatusOK, "ignored", dto.Response{Success: true, Message: "Event not handled"})
		return
	}

	if err != nil {
		// 5xx faz o processador reenviar; o lock + máquina de estado tornam o reenvio seguro
		s.log.Error("payment webhook failed",
			zap.String("event", ev.Event),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err))
		s.reply(w, http.StatusInternalServerError, "error", dto.Response{Success: false, Message: "Internal server error"})
		return
	}

	switch outcome {
	case settlement.OutcomeNotFound:
		s.reply(w, http.StatusOK, "not_found", dto.Response{Success: true, Message: notFound})
	case settlement.OutcomeConflict:
		s.log.Warn("webhook for record already settled in another state",
			zap.String("event", ev.Event),
			zap.String("transaction_id", ev.TransactionID))
		s.reply(w, http.StatusOK, string(outcome), dto.Response{Success: true, Message: "Already processed"})
	case settlement.OutcomeAlreadyProcessed:
		s.reply(w, http.StatusOK, string(outcome), dto.Response{Success: true, Message: "Already processed"})
	default:
		s.reply(w, http.StatusOK, string(outcome), dto.Response{Success: true})
	}
}

func (s *Server) reply(w http.ResponseWriter, status int, outcome string, resp dto.Response) {
	s.metrics.Webhook(endpoint, outcome)
	httpx.WriteJSON(w, status, resp)
}
