package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionPosted é publicado depois do commit de toda linha do ledger
// Key da mensagem: account_id (ordem por conta)
type TransactionPosted struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Source        string          `json:"source"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	Status        string          `json:"status"`
	Ts            time.Time       `json:"ts"`
}
