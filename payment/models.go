package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the transaction_status enum.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionRefunded  TransactionStatus = "refunded"
)

// Transaction is one deposit attempt reported by the processor.
type Transaction struct {
	ID               string
	DealID           string
	Amount           decimal.Decimal
	Currency         string
	Status           TransactionStatus
	PaymentMethod    *string
	PaymentReference *string
	PaidAt           *time.Time
	CreatedAt        time.Time
}

type SettlementKind string

const (
	SettlementRelease SettlementKind = "release"
	SettlementRefund  SettlementKind = "refund"
)

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
)

// Settlement is the queued fund movement of a terminal deal. There is at
// most one per deal.
type Settlement struct {
	ID            string
	DealID        string
	Kind          SettlementKind
	Amount        decimal.Decimal
	Currency      string
	Beneficiary   string
	Status        SettlementStatus
	Attempts      int
	LastError     *string
	Reference     *string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IdempotencyKey is sent with every processor call for this settlement so
// retries never move funds twice.
func (s Settlement) IdempotencyKey() string {
	return string(s.Kind) + ":" + s.DealID
}

type CallbackStatus string

const (
	CallbackSucceeded CallbackStatus = "success"
	CallbackFailed    CallbackStatus = "failed"
)

// Callback is the processor's deposit notification.
type Callback struct {
	EventID   string          `json:"event_id"`
	DealID    string          `json:"deal_id"`
	Reference string          `json:"reference"`
	Status    CallbackStatus  `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Method    string          `json:"method"`
}

// CallbackOutcome tells the caller what a callback changed.
type CallbackOutcome string

const (
	OutcomeConfirmed CallbackOutcome = "confirmed"
	OutcomeFailed    CallbackOutcome = "failed"
	OutcomeDuplicate CallbackOutcome = "duplicate"
)
