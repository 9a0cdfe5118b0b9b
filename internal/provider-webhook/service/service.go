package service

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/provider-webhook/dto"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

var (
	ErrInvalidRequest = errors.New("missing required fields")
	ErrUnauthorized   = errors.New("invalid credentials")
	ErrUnknownAction  = errors.New("unknown action")
)

type AccountReader interface {
	GetAccount(ctx context.Context, id string) (repo.Account, error)
}

type GameResolver interface {
	Resolve(ctx context.Context, code string) (*string, error)
}

type Mutator interface {
	Apply(ctx context.Context, mut ledger.Mutation) (ledger.Result, error)
}

type Config struct {
	SecretKey string
	// AllowMissingSecret aceita callbacks sem secret_key (integrações legadas)
	AllowMissingSecret bool
}

// Result é o saldo a devolver ao provedor
// Em duplicata, Balance é o saldo gravado na transação original
type Result struct {
	Balance   decimal.Decimal
	Duplicate bool
	// HasBalance indica se Balance pode ser exposto (conta encontrada)
	HasBalance bool
}

// Service processa os callbacks de carteira do provedor de jogos
type Service struct {
	cfg      Config
	accounts AccountReader
	games    GameResolver
	mutator  Mutator
	log      *zap.Logger
}

func New(cfg Config, accounts AccountReader, games GameResolver, mutator Mutator, log *zap.Logger) *Service {
	return &Service{cfg: cfg, accounts: accounts, games: games, mutator: mutator, log: log}
}

// Handle valida, autentica e aplica o callback
func (s *Service) Handle(ctx context.Context, req dto.ProviderRequest) (Result, error) {
	if req.Action == "" || req.UserCode == "" || req.TransactionID == "" {
		return Result{}, ErrInvalidRequest
	}
	if err := s.authenticate(req); err != nil {
		return Result{}, err
	}

	acc, err := s.accounts.GetAccount(ctx, req.UserCode)
	if err != nil {
		return Result{}, err
	}
	current := Result{Balance: acc.Balance, HasBalance: true}

	amount, err := req.ParseAmount()
	if err != nil || amount.IsNegative() {
		return current, ledger.ErrInvalidAmount
	}

	mut := ledger.Mutation{
		AccountID:   acc.ID,
		Source:      repo.SourceProvider,
		ExternalRef: req.TransactionID,
		Metadata: map[string]any{
			"round_id":  req.RoundID,
			"game_code": req.GameCode,
		},
	}
	switch req.Action {
	case dto.ActionBet:
		mut.Type, mut.Amount = repo.TxBet, amount.Neg()
	case dto.ActionWin:
		mut.Type, mut.Amount = repo.TxWin, amount
	case dto.ActionRefund, dto.ActionRollback:
		mut.Type, mut.Amount = repo.TxRefund, amount
		mut.Metadata["action"] = req.Action
	default:
		return current, ErrUnknownAction
	}

	gameID, err := s.games.Resolve(ctx, req.GameCode)
	if err != nil {
		s.log.Warn("game lookup failed", zap.String("game_code", req.GameCode), zap.Error(err))
	}
	mut.GameID = gameID

	res, err := s.mutator.Apply(ctx, mut)
	switch {
	case errors.Is(err, repo.ErrDuplicateTransaction):
		s.log.Info("duplicate provider transaction",
			zap.String("transaction_id", req.TransactionID),
			zap.String("user_code", req.UserCode))
		return Result{Balance: res.NewBalance, Duplicate: true, HasBalance: true}, nil
	case errors.Is(err, repo.ErrInsufficientFunds):
		return Result{Balance: res.NewBalance, HasBalance: true}, err
	case errors.Is(err, ledger.ErrReferenceConflict):
		// o saldo devolvido é sempre o da conta do callback
		return current, err
	case err != nil:
		return current, err
	}
	return Result{Balance: res.NewBalance, HasBalance: true}, nil
}

// authenticate compara o secret_key em tempo constante
func (s *Service) authenticate(req dto.ProviderRequest) error {
	if req.SecretKey == "" {
		if s.cfg.AllowMissingSecret {
			s.log.Warn("provider callback without secret_key accepted", zap.String("transaction_id", req.TransactionID))
			return nil
		}
		return ErrUnauthorized
	}
	if s.cfg.SecretKey == "" || subtle.ConstantTimeCompare([]byte(req.SecretKey), []byte(s.cfg.SecretKey)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
