package repo

import "errors"

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrDepositNotFound      = errors.New("deposit not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrGameNotFound         = errors.New("game not found")
	ErrStaleStatus          = errors.New("status changed concurrently")
)

// Equivalentes das CHECK constraints do schema para o store em memória
var (
	errBalanceCheck    = errors.New("violates check constraint transactions_balance_check")
	errNegativeBalance = errors.New("violates check constraint accounts_balance_non_negative")
)
