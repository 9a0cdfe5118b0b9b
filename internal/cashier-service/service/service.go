package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/processor"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/logger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/settlement"
)

// AmountRangeError: valor fora da faixa permitida para a operação
type AmountRangeError struct {
	Min, Max decimal.Decimal
}

func (e *AmountRangeError) Error() string {
	return fmt.Sprintf("amount must be between %s and %s", e.Min.StringFixed(2), e.Max.StringFixed(2))
}

func (e *AmountRangeError) Unwrap() error { return ledger.ErrInvalidAmount }

type Processor interface {
	CreatePayment(ctx context.Context, in processor.PaymentRequest) (processor.Payment, error)
	GetPayment(ctx context.Context, transactionID string) (processor.Payment, error)
	CreateWithdrawal(ctx context.Context, in processor.WithdrawalRequest) (processor.Withdrawal, error)
	GetBalance(ctx context.Context) (processor.Balance, error)
}

type Settlement interface {
	ConfirmDeposit(ctx context.Context, c settlement.DepositConfirmation) (settlement.Outcome, repo.Deposit, error)
	ExpireDeposit(ctx context.Context, ref settlement.Ref) (settlement.Outcome, error)
	CloseDeposit(ctx context.Context, ref settlement.Ref, to repo.Status) (settlement.Outcome, error)
	OpenWithdrawal(ctx context.Context, in settlement.OpenWithdrawal) (repo.Withdrawal, error)
}

type WalletCache interface {
	Get(ctx context.Context, accountID string) (repo.Account, bool, error)
	Set(ctx context.Context, acc repo.Account) error
}

// Limits são as faixas de valor e a tarifa de saque
type Limits struct {
	DepositMin  decimal.Decimal
	DepositMax  decimal.Decimal
	WithdrawMin decimal.Decimal
	WithdrawMax decimal.Decimal
	FeeFixed    decimal.Decimal
	FeeRate     decimal.Decimal
}

// Payer identifica o pagador da cobrança PIX
type Payer struct {
	Name     string
	Document string
	Email    string
}

type Service struct {
	store      repo.Store
	settlement Settlement
	processor  Processor
	cache      WalletCache
	limits     Limits
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

func New(store repo.Store, st Settlement, p Processor, cache WalletCache, limits Limits, m *metrics.Metrics, log *zap.Logger) *Service {
	return &Service{
		store:      store,
		settlement: st,
		processor:  p,
		cache:      cache,
		limits:     limits,
		metrics:    m,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithdrawalFee = tarifa fixa + percentual sobre o valor, em centavos
func WithdrawalFee(amount, fixed, rate decimal.Decimal) decimal.Decimal {
	return fixed.Add(amount.Mul(rate)).Round(2)
}

func inRange(amount, lo, hi decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(lo) && amount.LessThanOrEqual(hi)
}

// CreateDeposit grava o depósito pendente e só depois chama o processador
// Falha do processador deixa o registro pendente para o reconciliador expirar
func (s *Service) CreateDeposit(ctx context.Context, accountID string, amount decimal.Decimal, payer Payer) (repo.Deposit, error) {
	amount = amount.Round(2)
	if !inRange(amount, s.limits.DepositMin, s.limits.DepositMax) {
		return repo.Deposit{}, &AmountRangeError{Min: s.limits.DepositMin, Max: s.limits.DepositMax}
	}
	if _, err := s.store.EnsureAccount(ctx, accountID); err != nil {
		return repo.Deposit{}, err
	}

	dep := repo.Deposit{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Status:    repo.StatusPending,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertDeposit(ctx, dep); err != nil {
		return repo.Deposit{}, fmt.Errorf("insert deposit: %w", err)
	}

	if payer.Name == "" {
		payer.Name = "Cliente"
	}
	if payer.Document == "" {
		payer.Document = "00000000000"
	}
	p, err := s.processor.CreatePayment(ctx, processor.PaymentRequest{
		Amount:      processor.Amount(amount),
		Customer:    processor.Customer{Name: payer.Name, Document: payer.Document, Email: payer.Email},
		Description: "Depósito " + dep.ID,
		Metadata:    map[string]string{"deposit_id": dep.ID, "user_id": accountID},
	})
	if err != nil {
		s.metrics.ProcessorCall("create_payment", "error")
		s.log.Error("create payment failed", zap.String("deposit_id", dep.ID), zap.Error(err))
		return repo.Deposit{}, err
	}
	s.metrics.ProcessorCall("create_payment", "ok")

	data := repo.DepositProcessorData{
		ExternalID: p.TransactionID,
		PixCode:    p.Pix.CopyPaste,
		QRCode:     p.Pix.QRCodeBase64,
		Fee:        p.Fee,
		ExpiresAt:  p.ExpiresAt,
	}
	if err := s.store.AttachDepositProcessor(ctx, dep.ID, data); err != nil {
		return repo.Deposit{}, fmt.Errorf("attach deposit processor data: %w", err)
	}
	dep.ExternalID, dep.PixCode, dep.QRCode, dep.Fee, dep.ExpiresAt = data.ExternalID, data.PixCode, data.QRCode, data.Fee, data.ExpiresAt

	s.log.Info("deposit created",
		zap.String("deposit_id", dep.ID),
		zap.String("account_id", accountID),
		zap.String("external_id", dep.ExternalID),
		zap.String("amount", amount.StringFixed(2)))
	return dep, nil
}

// CreateWithdrawal debita antecipadamente e depois pede o pagamento ao processador
// Se o processador falhar o saque fica pendente para tratamento manual
func (s *Service) CreateWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, pixKey, pixKeyType string) (repo.Withdrawal, error) {
	amount = amount.Round(2)
	if !inRange(amount, s.limits.WithdrawMin, s.limits.WithdrawMax) {
		return repo.Withdrawal{}, &AmountRangeError{Min: s.limits.WithdrawMin, Max: s.limits.WithdrawMax}
	}
	fee := WithdrawalFee(amount, s.limits.FeeFixed, s.limits.FeeRate)
	net := amount.Sub(fee)
	if _, err := s.store.EnsureAccount(ctx, accountID); err != nil {
		return repo.Withdrawal{}, err
	}

	w, err := s.settlement.OpenWithdrawal(ctx, settlement.OpenWithdrawal{
		AccountID:  accountID,
		Amount:     amount,
		Fee:        fee,
		NetAmount:  net,
		PixKey:     pixKey,
		PixKeyType: pixKeyType,
	})
	if err != nil {
		return repo.Withdrawal{}, err
	}

	res, err := s.processor.CreateWithdrawal(ctx, processor.WithdrawalRequest{
		Amount:      processor.Amount(net),
		PixKey:      pixKey,
		PixKeyType:  processor.MapPixKeyType(pixKeyType),
		Description: "Saque " + w.ID,
		Metadata:    map[string]string{"withdrawal_id": w.ID, "user_id": accountID},
	})
	if err != nil {
		s.metrics.ProcessorCall("create_withdrawal", "error")
		s.log.Warn("processor withdrawal failed, kept pending for manual processing",
			zap.String("withdrawal_id", w.ID),
			logger.Masked("pix_key", pixKey),
			zap.Error(err))
		return w, nil
	}
	s.metrics.ProcessorCall("create_withdrawal", "ok")

	if res.TransactionID != "" {
		if err := s.store.AttachWithdrawalExternalID(ctx, w.ID, res.TransactionID); err != nil {
			// o webhook ainda acha o saque pelo withdrawal_id da metadata
			s.log.Error("attach withdrawal external id", zap.String("withdrawal_id", w.ID), zap.Error(err))
		} else {
			w.ExternalID = res.TransactionID
		}
	}
	return w, nil
}

// CheckDeposit consulta o processador quando o webhook ainda não chegou
func (s *Service) CheckDeposit(ctx context.Context, accountID, depositID string) (repo.Deposit, error) {
	if _, err := uuid.Parse(depositID); err != nil {
		return repo.Deposit{}, repo.ErrDepositNotFound
	}
	dep, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return repo.Deposit{}, err
	}
	if dep.AccountID != accountID {
		return repo.Deposit{}, repo.ErrDepositNotFound
	}
	if dep.Status != repo.StatusPending || dep.ExternalID == "" {
		return dep, nil
	}
	if err := s.reconcile(ctx, dep); err != nil {
		// falha de consulta não é erro para o usuário: devolve o status atual
		s.log.Warn("deposit status check failed", zap.String("deposit_id", dep.ID), zap.Error(err))
		return dep, nil
	}
	return s.store.GetDeposit(ctx, dep.ID)
}

// reconcile aplica o status do processador pelo mesmo caminho do webhook
func (s *Service) reconcile(ctx context.Context, dep repo.Deposit) error {
	p, err := s.processor.GetPayment(ctx, dep.ExternalID)
	if err != nil {
		s.metrics.ProcessorCall("get_payment", "error")
		return err
	}
	s.metrics.ProcessorCall("get_payment", "ok")

	ref := settlement.Ref{ExternalID: dep.ExternalID, LocalID: dep.ID}
	var outcome settlement.Outcome
	switch p.Status {
	case processor.PaymentPaid:
		outcome, _, err = s.settlement.ConfirmDeposit(ctx, settlement.DepositConfirmation{Ref: ref, ProcessorTxID: dep.ExternalID})
	case processor.PaymentExpired:
		outcome, err = s.settlement.ExpireDeposit(ctx, ref)
	case processor.PaymentCancelled:
		outcome, err = s.settlement.CloseDeposit(ctx, ref, repo.StatusCancelled)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info("deposit reconciled",
		zap.String("deposit_id", dep.ID),
		zap.String("processor_status", p.Status),
		zap.String("outcome", string(outcome)))
	return nil
}

// Wallet devolve o snapshot da conta, com cache curto no Redis
func (s *Service) Wallet(ctx context.Context, accountID string) (repo.Account, error) {
	if s.cache != nil {
		acc, ok, err := s.cache.Get(ctx, accountID)
		if err != nil {
			s.log.Warn("wallet cache get failed", zap.String("account_id", accountID), zap.Error(err))
		}
		if ok {
			return acc, nil
		}
	}
	// primeiro acesso de um usuário autenticado abre a conta zerada
	acc, err := s.store.EnsureAccount(ctx, accountID)
	if err != nil {
		return repo.Account{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, acc); err != nil {
			s.log.Warn("wallet cache set failed", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	return acc, nil
}

// CheckProcessor confere credenciais e saldo disponível no processador
// Só registra o resultado: o serviço sobe mesmo com o processador fora
func (s *Service) CheckProcessor(ctx context.Context) error {
	b, err := s.processor.GetBalance(ctx)
	if err != nil {
		s.metrics.ProcessorCall("get_balance", "error")
		s.log.Warn("s6xpay check failed", zap.Error(err))
		return err
	}
	s.metrics.ProcessorCall("get_balance", "ok")
	s.log.Info("s6xpay reachable",
		zap.String("available", b.Available.StringFixed(2)),
		zap.String("pending", b.Pending.StringFixed(2)))
	return nil
}
