package dto

import (
	"github.com/shopspring/decimal"
)

// Eventos e direções enviados pelo processador de pagamentos
const (
	EventPaymentConfirmed    = "payment.confirmed"
	EventPaymentExpired      = "payment.expired"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalFailed    = "withdrawal.failed"

	TypeCashIn  = "cash_in"
	TypeCashOut = "cash_out"
)

// Event é o corpo do webhook do processador
// Amount é informativo: o valor creditado/estornado é sempre o gravado localmente
type Event struct {
	Event         string          `json:"event"`
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	PixData       map[string]any  `json:"pix_data,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// LocalID devolve o nosso id enviado como metadata na criação (deposit_id / withdrawal_id)
func (e Event) LocalID(key string) string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[key].(string)
	return s
}

// Response segue o contrato do processador: success + message opcional
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
