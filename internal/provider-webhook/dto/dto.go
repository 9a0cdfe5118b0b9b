package dto

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// Ações aceitas do provedor de jogos
const (
	ActionBet      = "bet"
	ActionWin      = "win"
	ActionRefund   = "refund"
	ActionRollback = "rollback"
)

var errAmountNotNumeric = errors.New("amount is not numeric")

// ProviderRequest é o callback de carteira do provedor (bet/win/refund/rollback)
type ProviderRequest struct {
	Action        string          `json:"action"`
	UserCode      string          `json:"user_code"`
	GameCode      string          `json:"game_code"`
	RoundID       string          `json:"round_id"`
	Amount        json.RawMessage `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	SecretKey     string          `json:"secret_key,omitempty"`
	AgentToken    string          `json:"agent_token,omitempty"`
}

// ParseAmount aceita número ou string numérica; ausente/null vale zero
func (r ProviderRequest) ParseAmount() (decimal.Decimal, error) {
	raw := bytes.TrimSpace(r.Amount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, errAmountNotNumeric
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, errAmountNotNumeric
		}
		return d, nil
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, errAmountNotNumeric
	}
	return d, nil
}

// ProviderResponse segue o contrato do provedor: status/msg/balance
type ProviderResponse struct {
	Status  string   `json:"status"`
	Msg     string   `json:"msg"`
	Balance *float64 `json:"balance,omitempty"`
}
