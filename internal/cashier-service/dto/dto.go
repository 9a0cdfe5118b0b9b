package dto

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// DepositRequest cria uma cobrança PIX; dados do pagador são opcionais
type DepositRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Name     string          `json:"name" validate:"max=120"`
	Document string          `json:"document" validate:"omitempty,numeric,min=11,max=14"`
	Email    string          `json:"email" validate:"omitempty,email"`
}

func (r *DepositRequest) Validate() error {
	return validate.Struct(r)
}

type WithdrawalRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	PixKey     string          `json:"pix_key" validate:"required,max=140"`
	PixKeyType string          `json:"pix_key_type" validate:"required,oneof=cpf cnpj email phone random evp"`
}

// Validate normaliza o tipo da chave antes de validar
func (r *WithdrawalRequest) Validate() error {
	r.PixKey = strings.TrimSpace(r.PixKey)
	r.PixKeyType = strings.ToLower(strings.TrimSpace(r.PixKeyType))
	return validate.Struct(r)
}

type DepositResponse struct {
	ID           string          `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	PixCode      string          `json:"pix_code"`
	QRCodeBase64 string          `json:"qr_code_base64"`
	ExpiresAt    *time.Time      `json:"expires_at"`
}

type WithdrawalResponse struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	NetAmount decimal.Decimal `json:"net_amount"`
	Status    string          `json:"status"`
}

type DepositStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type WalletResponse struct {
	AccountID      string          `json:"account_id"`
	Balance        decimal.Decimal `json:"balance"`
	BonusBalance   decimal.Decimal `json:"bonus_balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalWagered   decimal.Decimal `json:"total_wagered"`
	TotalWon       decimal.Decimal `json:"total_won"`
}
