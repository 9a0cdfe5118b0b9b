package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/pkg/contracts/events"
)

// Outcome é o resultado de um evento do processador
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeConflict: registro já terminal em outro estado (ex.: confirmado depois de expirado)
	OutcomeConflict Outcome = "conflict"
)

const defaultFailureReason = "Falha no processamento"

// Notifier publica avisos ao usuário; é best-effort e roda depois do commit
type Notifier interface {
	Notify(ctx context.Context, n events.NotificationRequested) error
}

// Ref localiza um depósito/saque: primeiro pelo id do processador,
// depois pelo nosso id (o webhook pode chegar antes de gravarmos o external_id)
type Ref struct {
	ExternalID string
	LocalID    string
}

// Service aplica as transições de depósito e saque
// Mudança de status e efeito no ledger commitam juntos
type Service struct {
	store    repo.Store
	mutator  *ledger.Mutator
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store repo.Store, mutator *ledger.Mutator, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		store:    store,
		mutator:  mutator,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DepositConfirmation são os dados do payment.confirmed
type DepositConfirmation struct {
	Ref           Ref
	ProcessorTxID string
	PixData       map[string]any
}

// ConfirmDeposit marca o depósito como completed e credita o valor gravado no depósito
func (s *Service) ConfirmDeposit(ctx context.Context, c DepositConfirmation) (Outcome, repo.Deposit, error) {
	var (
		outcome Outcome
		dep     repo.Deposit
		posted  repo.Transaction
	)
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		d, err := lockDeposit(ctx, tx, c.Ref)
		if errors.Is(err, repo.ErrDepositNotFound) {
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		dep = d

		switch {
		case d.Status == repo.StatusCompleted:
			outcome = OutcomeAlreadyProcessed
			return nil
		case !CanTransitionDeposit(d.Status, repo.StatusCompleted):
			outcome = OutcomeConflict
			return nil
		}

		meta := map[string]any{"deposit_id": d.ID}
		if c.ProcessorTxID != "" {
			meta["s6xpay_transaction_id"] = c.ProcessorTxID
		}
		if len(c.PixData) > 0 {
			meta["pix_data"] = c.PixData
		}
		res, err := s.mutator.ApplyInTx(ctx, tx, ledger.Mutation{
			AccountID:   d.AccountID,
			Type:        repo.TxDeposit,
			Amount:      d.Amount,
			Source:      repo.SourcePayment,
			ExternalRef: depositRef(d),
			Metadata:    meta,
		})
		var dup *ledger.DuplicateError
		switch {
		case errors.As(err, &dup) && dup.Existing.ID != "":
			// crédito já existe no ledger: só alinha o status do depósito
			outcome = OutcomeAlreadyProcessed
		case err != nil:
			return err
		default:
			outcome = OutcomeApplied
			posted = res.Transaction
		}

		now := s.now()
		if err := tx.UpdateDepositStatus(ctx, d.ID, repo.StatusCompleted, now); err != nil {
			return fmt.Errorf("complete deposit: %w", err)
		}
		dep.Status = repo.StatusCompleted
		dep.ConfirmedAt = &now
		return nil
	})
	if err != nil {
		return "", repo.Deposit{}, err
	}

	s.logOutcome("deposit confirmed", outcome, c.Ref)
	if outcome == OutcomeApplied {
		s.mutator.Posted(ctx, posted)
		s.notify(ctx, dep.AccountID, "Depósito confirmado!",
			fmt.Sprintf("Seu depósito de R$ %s foi confirmado e creditado em sua conta.", dep.Amount.StringFixed(2)),
			events.NotificationSuccess)
	}
	return outcome, dep, nil
}

// ExpireDeposit: cobrança vencida sem pagamento, pending -> failed
func (s *Service) ExpireDeposit(ctx context.Context, ref Ref) (Outcome, error) {
	return s.CloseDeposit(ctx, ref, repo.StatusFailed)
}

// CloseDeposit encerra um depósito pendente sem crédito (expired -> failed, cancelled)
func (s *Service) CloseDeposit(ctx context.Context, ref Ref, to repo.Status) (Outcome, error) {
	if to != repo.StatusFailed && to != repo.StatusCancelled {
		return "", transitionError("deposit", ref.ExternalID, repo.StatusPending, to)
	}
	var outcome Outcome
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		d, err := lockDeposit(ctx, tx, ref)
		if errors.Is(err, repo.ErrDepositNotFound) {
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case d.Status == to:
			outcome = OutcomeAlreadyProcessed
			return nil
		case !CanTransitionDeposit(d.Status, to):
			outcome = OutcomeConflict
			return nil
		}
		if err := tx.UpdateDepositStatus(ctx, d.ID, to, s.now()); err != nil {
			return fmt.Errorf("close deposit: %w", err)
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logOutcome("deposit closed", outcome, ref)
	return outcome, nil
}

// OpenWithdrawal grava o saque pendente e o débito antecipado na mesma transação
type OpenWithdrawal struct {
	AccountID  string
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	NetAmount  decimal.Decimal
	PixKey     string
	PixKeyType string
}

func (s *Service) OpenWithdrawal(ctx context.Context, in OpenWithdrawal) (repo.Withdrawal, error) {
	w := repo.Withdrawal{
		ID:         uuid.NewString(),
		AccountID:  in.AccountID,
		Amount:     in.Amount,
		Fee:        in.Fee,
		NetAmount:  in.NetAmount,
		PixKey:     in.PixKey,
		PixKeyType: in.PixKeyType,
		Status:     repo.StatusPending,
		CreatedAt:  s.now(),
	}
	var debit repo.Transaction
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		res, err := s.mutator.ApplyInTx(ctx, tx, ledger.Mutation{
			AccountID:   in.AccountID,
			Type:        repo.TxWithdrawal,
			Amount:      in.Amount.Neg(),
			Source:      repo.SourceCashier,
			ExternalRef: "withdrawal:" + w.ID,
			Status:      repo.StatusPending,
			Metadata: map[string]any{
				"withdrawal_id": w.ID,
				"fee":           in.Fee.StringFixed(2),
				"net_amount":    in.NetAmount.StringFixed(2),
				"pix_key_type":  in.PixKeyType,
			},
		})
		if err != nil {
			return err
		}
		debit = res.Transaction
		w.DebitTransactionID = res.TransactionID
		if err := tx.InsertWithdrawal(ctx, w); err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return repo.Withdrawal{}, err
	}
	s.mutator.Posted(ctx, debit)
	s.log.Info("withdrawal opened",
		zap.String("withdrawal_id", w.ID),
		zap.String("account_id", w.AccountID),
		zap.String("amount", w.Amount.StringFixed(2)))
	return w, nil
}

// CompleteWithdrawal: pending -> completed, débito antecipado vira completed
func (s *Service) CompleteWithdrawal(ctx context.Context, ref Ref) (Outcome, error) {
	var (
		outcome Outcome
		wd      repo.Withdrawal
	)
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		w, err := lockWithdrawal(ctx, tx, ref)
		if errors.Is(err, repo.ErrWithdrawalNotFound) {
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		wd = w
		switch {
		case w.Status == repo.StatusCompleted:
			outcome = OutcomeAlreadyProcessed
			return nil
		case !CanTransitionWithdrawal(w.Status, repo.StatusCompleted):
			outcome = OutcomeConflict
			return nil
		}

		if err := tx.UpdateWithdrawalStatus(ctx, w.ID, repo.StatusCompleted, "", s.now()); err != nil {
			return fmt.Errorf("complete withdrawal: %w", err)
		}
		if err := tx.SetTransactionStatus(ctx, w.DebitTransactionID, repo.StatusPending, repo.StatusCompleted); err != nil {
			return fmt.Errorf("complete withdrawal debit: %w", err)
		}
		if err := tx.AddCounters(ctx, w.AccountID, repo.Counters{Withdrawn: w.Amount}); err != nil {
			return fmt.Errorf("withdrawn counter: %w", err)
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logOutcome("withdrawal completed", outcome, ref)
	if outcome == OutcomeApplied {
		s.mutator.AccountsChanged(ctx, wd.AccountID)
		s.notify(ctx, wd.AccountID, "Saque realizado!",
			fmt.Sprintf("Seu saque de R$ %s foi processado com sucesso.", wd.Amount.StringFixed(2)),
			events.NotificationSuccess)
	}
	return outcome, nil
}

// FailWithdrawal: pending -> failed e estorno compensatório na mesma transação
func (s *Service) FailWithdrawal(ctx context.Context, ref Ref, reason string) (Outcome, error) {
	if reason == "" {
		reason = defaultFailureReason
	}
	var (
		outcome Outcome
		wd      repo.Withdrawal
		refund  repo.Transaction
	)
	err := s.store.WithinTx(ctx, func(tx repo.Tx) error {
		w, err := lockWithdrawal(ctx, tx, ref)
		if errors.Is(err, repo.ErrWithdrawalNotFound) {
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}
		wd = w
		switch {
		case w.Status == repo.StatusFailed:
			outcome = OutcomeAlreadyProcessed
			return nil
		case !CanTransitionWithdrawal(w.Status, repo.StatusFailed):
			outcome = OutcomeConflict
			return nil
		}

		if err := tx.UpdateWithdrawalStatus(ctx, w.ID, repo.StatusFailed, reason, s.now()); err != nil {
			return fmt.Errorf("fail withdrawal: %w", err)
		}
		if err := tx.SetTransactionStatus(ctx, w.DebitTransactionID, repo.StatusPending, repo.StatusFailed); err != nil {
			return fmt.Errorf("fail withdrawal debit: %w", err)
		}
		res, err := s.mutator.ApplyInTx(ctx, tx, ledger.Mutation{
			AccountID:   w.AccountID,
			Type:        repo.TxRefund,
			Amount:      w.Amount,
			Source:      repo.SourceCashier,
			ExternalRef: "withdrawal-refund:" + w.ID,
			Metadata: map[string]any{
				"withdrawal_id": w.ID,
				"reason":        reason,
			},
		})
		if err != nil {
			return fmt.Errorf("refund withdrawal: %w", err)
		}
		refund = res.Transaction
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logOutcome("withdrawal failed", outcome, ref)
	if outcome == OutcomeApplied {
		s.mutator.Posted(ctx, refund)
		s.notify(ctx, wd.AccountID, "Saque falhou",
			fmt.Sprintf("Seu saque de R$ %s não pôde ser processado. O valor foi devolvido ao seu saldo.", wd.Amount.StringFixed(2)),
			events.NotificationError)
	}
	return outcome, nil
}

func (s *Service) notify(ctx context.Context, accountID, title, message, kind string) {
	if s.notifier == nil {
		return
	}
	n := events.NotificationRequested{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Title:     title,
		Message:   message,
		Type:      kind,
		Ts:        s.now(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warn("notification publish failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

func (s *Service) logOutcome(msg string, outcome Outcome, ref Ref) {
	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.String("external_id", ref.ExternalID),
		zap.String("local_id", ref.LocalID),
	}
	if outcome == OutcomeConflict || outcome == OutcomeNotFound {
		s.log.Warn(msg, fields...)
		return
	}
	s.log.Info(msg, fields...)
}

func lockDeposit(ctx context.Context, tx repo.Tx, ref Ref) (repo.Deposit, error) {
	if ref.ExternalID != "" {
		d, err := tx.LockDepositByExternalID(ctx, ref.ExternalID)
		if !errors.Is(err, repo.ErrDepositNotFound) || ref.LocalID == "" {
			return d, err
		}
	}
	if !validID(ref.LocalID) {
		return repo.Deposit{}, repo.ErrDepositNotFound
	}
	return tx.LockDeposit(ctx, ref.LocalID)
}

func lockWithdrawal(ctx context.Context, tx repo.Tx, ref Ref) (repo.Withdrawal, error) {
	if ref.ExternalID != "" {
		w, err := tx.LockWithdrawalByExternalID(ctx, ref.ExternalID)
		if !errors.Is(err, repo.ErrWithdrawalNotFound) || ref.LocalID == "" {
			return w, err
		}
	}
	if !validID(ref.LocalID) {
		return repo.Withdrawal{}, repo.ErrWithdrawalNotFound
	}
	return tx.LockWithdrawal(ctx, ref.LocalID)
}

// validID evita mandar lixo vindo do webhook para uma coluna UUID
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return id != "" && err == nil
}

// depositRef é a referência única do crédito no ledger
// Webhook e poller usam a mesma, então o segundo a chegar vira duplicata
func depositRef(d repo.Deposit) string {
	if d.ExternalID != "" {
		return d.ExternalID
	}
	return "deposit:" + d.ID
}
