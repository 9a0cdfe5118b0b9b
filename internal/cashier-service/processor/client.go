package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrExternalProcessor = errors.New("external processor error")

// Error descreve uma falha do processador (HTTP != 2xx, success=false ou rede)
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("s6xpay %s: http %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("s6xpay %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return ErrExternalProcessor }

// Client fala com a API REST da S6XPay (PIX cash-in/cash-out)
type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTP         *http.Client
}

func New(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Amount formata o valor como número JSON com centavos
func Amount(d decimal.Decimal) json.Number { return json.Number(d.StringFixed(2)) }

type Customer struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email"`
}

type PaymentRequest struct {
	Amount      json.Number       `json:"amount"`
	Customer    Customer          `json:"customer"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Payment é a cobrança PIX criada
type Payment struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Fee           decimal.Decimal `json:"fee"`
	ExpiresAt     *time.Time      `json:"expires_at"`
	Pix           struct {
		CopyPaste    string `json:"copy_paste"`
		QRCodeBase64 string `json:"qr_code_base64"`
	} `json:"pix"`
}

type WithdrawalRequest struct {
	Amount      json.Number       `json:"amount"`
	PixKey      string            `json:"pix_key"`
	PixKeyType  string            `json:"pix_key_type"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Withdrawal struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

type Balance struct {
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
}

// Status de cobrança devolvidos pelo GET /payments/{id}
const (
	PaymentPaid      = "paid"
	PaymentPending   = "pending"
	PaymentExpired   = "expired"
	PaymentCancelled = "cancelled"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) CreatePayment(ctx context.Context, in PaymentRequest) (Payment, error) {
	var out Payment
	err := c.do(ctx, "create_payment", http.MethodPost, "/payments", in, &out)
	return out, err
}

func (c *Client) GetPayment(ctx context.Context, transactionID string) (Payment, error) {
	var out Payment
	err := c.do(ctx, "get_payment", http.MethodGet, "/payments/"+url.PathEscape(transactionID), nil, &out)
	return out, err
}

func (c *Client) CreateWithdrawal(ctx context.Context, in WithdrawalRequest) (Withdrawal, error) {
	var out Withdrawal
	err := c.do(ctx, "create_withdrawal", http.MethodPost, "/withdrawals", in, &out)
	return out, err
}

func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var out Balance
	err := c.do(ctx, "get_balance", http.MethodGet, "/balance", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("s6xpay %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Client-Id", c.ClientID)
	req.Header.Set("X-Client-Secret", c.ClientSecret)

	res, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&env); err != nil {
		return &Error{Op: op, StatusCode: res.StatusCode, Message: "invalid response body", Err: err}
	}
	if res.StatusCode >= 300 || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return &Error{Op: op, StatusCode: res.StatusCode, Message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Op: op, StatusCode: res.StatusCode, Message: "invalid response data", Err: err}
		}
	}
	return nil
}

var pixKeyTypes = map[string]string{
	"cpf":    "CPF",
	"cnpj":   "CNPJ",
	"email":  "EMAIL",
	"phone":  "PHONE",
	"random": "EVP",
	"evp":    "EVP",
}

// MapPixKeyType converte o tipo de chave do usuário para o formato da S6XPay
// Tipos desconhecidos caem em CPF
func MapPixKeyType(t string) string {
	if v, ok := pixKeyTypes[strings.ToLower(strings.TrimSpace(t))]; ok {
		return v
	}
	return "CPF"
}
