package repo

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store é o acesso ao ledger fora de transação (leituras e registros sem saldo)
// Toda alteração de saldo passa por WithinTx
type Store interface {
	// WithinTx executa fn numa transação; erro de fn faz rollback de tudo
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, id string) (Account, error)
	EnsureAccount(ctx context.Context, id string) (Account, error)
	FindTransactionByRef(ctx context.Context, source Source, ref string) (Transaction, error)
	ListTransactions(ctx context.Context, accountID string) ([]Transaction, error)

	InsertDeposit(ctx context.Context, d Deposit) error
	AttachDepositProcessor(ctx context.Context, depositID string, data DepositProcessorData) error
	GetDeposit(ctx context.Context, id string) (Deposit, error)
	ListStalePendingDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]Deposit, error)
	ExpireOrphanDeposits(ctx context.Context, createdBefore time.Time) (int64, error)

	AttachWithdrawalExternalID(ctx context.Context, withdrawalID, externalID string) error
	GetWithdrawal(ctx context.Context, id string) (Withdrawal, error)

	FindGameByCode(ctx context.Context, code string) (Game, error)
	InsertNotification(ctx context.Context, n Notification) error
}

// Tx são as operações feitas sob lock dentro de uma transação
type Tx interface {
	// LockAccount faz SELECT ... FOR UPDATE na conta
	LockAccount(ctx context.Context, id string) (Account, error)
	// FindTransactionByRef devolve ErrTransactionNotFound quando não existe
	FindTransactionByRef(ctx context.Context, source Source, ref string) (Transaction, error)
	// InsertTransaction devolve ErrDuplicateTransaction em conflito de (source, external_ref)
	InsertTransaction(ctx context.Context, t Transaction) error
	UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, c Counters) error
	AddCounters(ctx context.Context, id string, c Counters) error
	// SetTransactionStatus só altera se o status atual for from (ErrStaleStatus caso contrário)
	SetTransactionStatus(ctx context.Context, id string, from, to Status) error

	LockDepositByExternalID(ctx context.Context, externalID string) (Deposit, error)
	LockDeposit(ctx context.Context, id string) (Deposit, error)
	UpdateDepositStatus(ctx context.Context, id string, status Status, at time.Time) error

	InsertWithdrawal(ctx context.Context, w Withdrawal) error
	LockWithdrawalByExternalID(ctx context.Context, externalID string) (Withdrawal, error)
	LockWithdrawal(ctx context.Context, id string) (Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, id string, status Status, reason string, at time.Time) error
}
