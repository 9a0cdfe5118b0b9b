package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	// ErrReferenceConflict: a referência externa já foi gravada para outra conta
	ErrReferenceConflict = errors.New("external reference belongs to another account")
)

// Mutation descreve uma alteração de saldo
// Amount tem sinal: negativo debita, positivo credita
type Mutation struct {
	AccountID   string
	Type        repo.TxType
	Amount      decimal.Decimal
	Source      repo.Source
	ExternalRef string
	Status      repo.Status // vazio = completed
	GameID      *string
	Metadata    map[string]any
}

// Result é o efeito da mutação (ou o registro anterior, em caso de duplicata)
type Result struct {
	NewBalance    decimal.Decimal
	TransactionID string
	Transaction   repo.Transaction
}

// Observer recebe as transações depois do commit (eventos, cache)
// Falhas do observer não desfazem nada: o ledger já está gravado
type Observer interface {
	TransactionsPosted(ctx context.Context, txs ...repo.Transaction)
}

// AccountObserver é avisado de mudanças na conta que não geram transação (contadores)
type AccountObserver interface {
	AccountsChanged(ctx context.Context, accountIDs ...string)
}

// Mutator é o único caminho de escrita de saldo
type Mutator struct {
	store     repo.Store
	guard     Guard
	observers []Observer
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewMutator(store repo.Store, log *zap.Logger, m *metrics.Metrics, observers ...Observer) *Mutator {
	return &Mutator{
		store:     store,
		observers: observers,
		log:       log,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply executa a mutação numa transação própria
// Erros: repo.ErrAccountNotFound, repo.ErrInsufficientFunds, ErrInvalidAmount,
// ErrReferenceConflict (com o saldo atual da conta no Result),
// *DuplicateError (com o registro anterior no Result)
func (m *Mutator) Apply(ctx context.Context, mut Mutation) (Result, error) {
	var res Result
	err := m.store.WithinTx(ctx, func(tx repo.Tx) error {
		var err error
		res, err = m.ApplyInTx(ctx, tx, mut)
		return err
	})
	if err != nil {
		var dup *DuplicateError
		if errors.As(err, &dup) {
			// conflito no insert: a transação abortou, busca o registro vencedor fora dela
			if dup.Existing.ID == "" {
				if existing, ferr := m.store.FindTransactionByRef(ctx, mut.Source, mut.ExternalRef); ferr == nil {
					dup.Existing = existing
				}
			}
			if dup.Existing.AccountID != "" && dup.Existing.AccountID != mut.AccountID {
				err = ErrReferenceConflict
				res = Result{}
				if acc, aerr := m.store.GetAccount(ctx, mut.AccountID); aerr == nil {
					res.NewBalance = acc.Balance
				}
				m.metrics.Mutation(string(mut.Type), resultLabel(err))
				m.logReferenceConflict(mut, dup.Existing.AccountID)
				return res, err
			}
			res = resultOf(dup.Existing)
			m.metrics.Duplicate(string(mut.Source))
			m.metrics.Mutation(string(mut.Type), "duplicate")
			m.log.Info("duplicate ledger reference",
				zap.String("account_id", mut.AccountID),
				zap.String("source", string(mut.Source)),
				zap.String("external_ref", mut.ExternalRef))
			return res, err
		}
		if errors.Is(err, ErrReferenceConflict) {
			m.logReferenceConflict(mut, "")
		}
		m.metrics.Mutation(string(mut.Type), resultLabel(err))
		return res, err
	}

	m.metrics.Mutation(string(mut.Type), "applied")
	m.log.Info("ledger mutation applied",
		zap.String("account_id", mut.AccountID),
		zap.String("type", string(mut.Type)),
		zap.String("amount", res.Transaction.Amount.StringFixed(2)),
		zap.String("balance_after", res.NewBalance.StringFixed(2)),
		zap.String("external_ref", mut.ExternalRef))
	m.Posted(ctx, res.Transaction)
	return res, nil
}

// ApplyInTx executa a mutação dentro de uma transação já aberta
// Usado quando a mudança de saldo precisa commitar junto com outro registro (depósito, saque)
func (m *Mutator) ApplyInTx(ctx context.Context, tx repo.Tx, mut Mutation) (Result, error) {
	amount, err := normalizeAmount(mut.Type, mut.Amount)
	if err != nil {
		return Result{}, err
	}

	acc, err := tx.LockAccount(ctx, mut.AccountID)
	if err != nil {
		return Result{}, err
	}

	dup, existing, err := m.guard.IsDuplicate(ctx, tx, mut.Source, mut.ExternalRef)
	if err != nil {
		return Result{}, err
	}
	if dup {
		if existing.AccountID != acc.ID {
			return Result{NewBalance: acc.Balance}, ErrReferenceConflict
		}
		return resultOf(existing), &DuplicateError{Source: mut.Source, ExternalRef: mut.ExternalRef, Existing: existing}
	}

	newBalance := acc.Balance.Add(amount)
	if newBalance.IsNegative() {
		return Result{NewBalance: acc.Balance}, repo.ErrInsufficientFunds
	}

	status := mut.Status
	if status == "" {
		status = repo.StatusCompleted
	}
	t := repo.Transaction{
		ID:            uuid.NewString(),
		AccountID:     acc.ID,
		Type:          mut.Type,
		Amount:        amount,
		BalanceBefore: acc.Balance,
		BalanceAfter:  newBalance,
		Source:        mut.Source,
		ExternalRef:   mut.ExternalRef,
		Status:        status,
		GameID:        mut.GameID,
		Metadata:      mut.Metadata,
		CreatedAt:     m.now(),
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		if errors.Is(err, repo.ErrDuplicateTransaction) {
			return Result{}, &DuplicateError{Source: mut.Source, ExternalRef: mut.ExternalRef}
		}
		return Result{}, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.UpdateAccountBalance(ctx, acc.ID, newBalance, countersFor(mut.Type, amount)); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}

	return resultOf(t), nil
}

func (m *Mutator) logReferenceConflict(mut Mutation, owner string) {
	fields := []zap.Field{
		zap.String("account_id", mut.AccountID),
		zap.String("source", string(mut.Source)),
		zap.String("external_ref", mut.ExternalRef),
	}
	if owner != "" {
		fields = append(fields, zap.String("owner_account_id", owner))
	}
	m.log.Warn("external reference already used by another account", fields...)
}

// Posted repassa transações já commitadas aos observers
func (m *Mutator) Posted(ctx context.Context, txs ...repo.Transaction) {
	if len(txs) == 0 {
		return
	}
	for _, o := range m.observers {
		o.TransactionsPosted(ctx, txs...)
	}
}

// AccountsChanged repassa, depois do commit, contas alteradas sem nova transação
func (m *Mutator) AccountsChanged(ctx context.Context, accountIDs ...string) {
	if len(accountIDs) == 0 {
		return
	}
	for _, o := range m.observers {
		if ao, ok := o.(AccountObserver); ok {
			ao.AccountsChanged(ctx, accountIDs...)
		}
	}
}

// normalizeAmount arredonda para centavos e confere o sinal esperado para o tipo
func normalizeAmount(t repo.TxType, amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(2)
	switch t {
	case repo.TxBet, repo.TxWithdrawal:
		if amount.IsPositive() {
			return decimal.Zero, ErrInvalidAmount
		}
	case repo.TxDeposit, repo.TxWin, repo.TxBonus, repo.TxRefund:
		if amount.IsNegative() {
			return decimal.Zero, ErrInvalidAmount
		}
	case repo.TxAdjustment:
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown type %q", ErrInvalidAmount, t)
	}
	return amount, nil
}

// countersFor mapeia o tipo para o total de auditoria correspondente
// Saques só entram em total_withdrawn quando o processador confirma
func countersFor(t repo.TxType, amount decimal.Decimal) repo.Counters {
	var c repo.Counters
	switch t {
	case repo.TxBet:
		c.Wagered = amount.Abs()
	case repo.TxWin:
		c.Won = amount
	case repo.TxDeposit:
		c.Deposited = amount
	}
	return c
}

func resultOf(t repo.Transaction) Result {
	return Result{NewBalance: t.BalanceAfter, TransactionID: t.ID, Transaction: t}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, repo.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, repo.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrReferenceConflict):
		return "reference_conflict"
	default:
		return "error"
	}
}
