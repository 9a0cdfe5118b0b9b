package dto

import (
	"time"

	pdto "github.com/Nasci15k/nasci15kbet-416b2457/internal/payment-webhook/dto"
)

// Envelope é o formato de resposta da API da S6XPay
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Status de saque usados pelo simulador
const (
	WithdrawalProcessing = "processing"
	WithdrawalCompleted  = "completed"
	WithdrawalFailed     = "failed"
)

// Desfechos aceitos em POST /simulate/...
const (
	OutcomePaid      = "paid"
	OutcomeExpired   = "expired"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// MonitorMsg é o que os clientes de /ws recebem a cada webhook disparado
type MonitorMsg struct {
	Event     pdto.Event `json:"event"`
	Delivered bool       `json:"delivered"`
	Error     string     `json:"error,omitempty"`
	Ts        time.Time  `json:"ts"`
}
