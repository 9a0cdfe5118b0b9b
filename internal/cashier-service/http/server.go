package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/dto"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/processor"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/service"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/auth"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/httpx"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

// Cashier é o caso de uso exposto pela API do caixa
type Cashier interface {
	CreateDeposit(ctx context.Context, accountID string, amount decimal.Decimal, payer service.Payer) (repo.Deposit, error)
	CreateWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, pixKey, pixKeyType string) (repo.Withdrawal, error)
	CheckDeposit(ctx context.Context, accountID, depositID string) (repo.Deposit, error)
	Wallet(ctx context.Context, accountID string) (repo.Account, error)
}

// Server expõe depósitos, saques e carteira para o usuário autenticado
type Server struct {
	log  *zap.Logger
	svc  Cashier
	auth func(http.Handler) http.Handler
}

func NewServer(log *zap.Logger, svc Cashier, authMiddleware func(http.Handler) http.Handler) *Server {
	return &Server{log: log, svc: svc, auth: authMiddleware}
}

func (s *Server) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/deposits", s.createDeposit)
		r.Get("/deposits/{id}/status", s.depositStatus)
		r.Post("/withdrawals", s.createWithdrawal)
		r.Get("/wallet", s.wallet)
	})
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.WithCORS)
	s.Routes(r)
	return r
}

func (s *Server) createDeposit(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountID(r.Context())
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	dep, err := s.svc.CreateDeposit(r.Context(), accountID, req.Amount, service.Payer{Name: req.Name, Document: req.Document, Email: req.Email})
	if err != nil {
		s.writeServiceError(w, "create deposit", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, dto.DepositResponse{
		ID:           dep.ID,
		Amount:       dep.Amount,
		PixCode:      dep.PixCode,
		QRCodeBase64: dep.QRCode,
		ExpiresAt:    dep.ExpiresAt,
	})
}

func (s *Server) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountID(r.Context())
	var req dto.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := req.Validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	wd, err := s.svc.CreateWithdrawal(r.Context(), accountID, req.Amount, req.PixKey, req.PixKeyType)
	if err != nil {
		s.writeServiceError(w, "create withdrawal", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, dto.WithdrawalResponse{
		ID:        wd.ID,
		Amount:    wd.Amount,
		Fee:       wd.Fee,
		NetAmount: wd.NetAmount,
		Status:    string(wd.Status),
	})
}

func (s *Server) depositStatus(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountID(r.Context())
	dep, err := s.svc.CheckDeposit(r.Context(), accountID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, "check deposit", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dto.DepositStatusResponse{ID: dep.ID, Status: string(dep.Status)})
}

func (s *Server) wallet(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountID(r.Context())
	acc, err := s.svc.Wallet(r.Context(), accountID)
	if err != nil {
		s.writeServiceError(w, "wallet", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dto.WalletResponse{
		AccountID:      acc.ID,
		Balance:        acc.Balance,
		BonusBalance:   acc.BonusBalance,
		TotalDeposited: acc.TotalDeposited,
		TotalWithdrawn: acc.TotalWithdrawn,
		TotalWagered:   acc.TotalWagered,
		TotalWon:       acc.TotalWon,
	})
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	var rangeErr *service.AmountRangeError
	switch {
	case errors.As(err, &rangeErr):
		httpx.WriteError(w, http.StatusBadRequest, "Valor deve estar entre R$ "+brl(rangeErr.Min)+" e R$ "+brl(rangeErr.Max))
	case errors.Is(err, ledger.ErrInvalidAmount):
		httpx.WriteError(w, http.StatusBadRequest, "Valor inválido")
	case errors.Is(err, repo.ErrInsufficientFunds):
		httpx.WriteError(w, http.StatusBadRequest, "Saldo insuficiente")
	case errors.Is(err, repo.ErrAccountNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Perfil não encontrado")
	case errors.Is(err, repo.ErrDepositNotFound):
		httpx.WriteError(w, http.StatusNotFound, "Depósito não encontrado")
	case errors.Is(err, processor.ErrExternalProcessor):
		s.log.Error(op+" failed", zap.Error(err))
		httpx.WriteError(w, http.StatusBadGateway, "Erro ao comunicar com o processador de pagamentos")
	default:
		s.log.Error(op+" failed", zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "Erro interno do servidor")
	}
}

// brl formata 899 como "899,00"
func brl(d decimal.Decimal) string {
	s := d.StringFixed(2)
	return s[:len(s)-3] + "," + s[len(s)-2:]
}
