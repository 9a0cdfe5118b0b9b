package repo

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType classifica cada linha do ledger
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxBet        TxType = "bet"
	TxWin        TxType = "win"
	TxBonus      TxType = "bonus"
	TxRefund     TxType = "refund"
	TxAdjustment TxType = "adjustment"
)

// IsDebit indica os tipos que exigem saldo suficiente
func (t TxType) IsDebit() bool { return t == TxBet || t == TxWithdrawal }

// Source identifica quem originou a referência externa
// O par (source, external_ref) é único no ledger
type Source string

const (
	SourceProvider Source = "provider"
	SourcePayment  Source = "payment"
	SourceCashier  Source = "cashier"
)

// Status de transações, depósitos e saques
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal indica que o registro não aceita mais transições
func (s Status) Terminal() bool { return s != StatusPending }

type Account struct {
	ID             string
	Balance        decimal.Decimal
	BonusBalance   decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
	TotalWagered   decimal.Decimal
	TotalWon       decimal.Decimal
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Counters são incrementos dos totais de auditoria de uma conta
type Counters struct {
	Deposited decimal.Decimal
	Withdrawn decimal.Decimal
	Wagered   decimal.Decimal
	Won       decimal.Decimal
}

// Transaction é uma linha imutável do ledger
// Só o status pode mudar, uma única vez, de pending para terminal
type Transaction struct {
	ID            string
	AccountID     string
	Type          TxType
	Amount        decimal.Decimal // com sinal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Source        Source
	ExternalRef   string // vazio = sem referência
	Status        Status
	GameID        *string
	Metadata      map[string]any
	CreatedAt     time.Time
}

type Deposit struct {
	ID          string
	AccountID   string
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Status      Status
	ExternalID  string
	PixCode     string
	QRCode      string
	ExpiresAt   *time.Time
	ConfirmedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DepositProcessorData são os dados devolvidos pelo processador ao criar a cobrança
type DepositProcessorData struct {
	ExternalID string
	PixCode    string
	QRCode     string
	Fee        decimal.Decimal
	ExpiresAt  *time.Time
}

type Withdrawal struct {
	ID                 string
	AccountID          string
	Amount             decimal.Decimal
	Fee                decimal.Decimal
	NetAmount          decimal.Decimal
	PixKey             string
	PixKeyType         string
	Status             Status
	ExternalID         string
	DebitTransactionID string
	FailureReason      string
	SettledAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Game struct {
	ID           string
	ExternalCode string
	Name         string
}

type Notification struct {
	ID        string
	AccountID string
	Title     string
	Message   string
	Type      string
	Read      bool
	CreatedAt time.Time
}
