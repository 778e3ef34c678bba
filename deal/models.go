package deal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the deal_status enum.
type Status string

const (
	StatusPendingPayment     Status = "pending_payment"
	StatusFundsSecured       Status = "funds_secured"
	StatusInProgress         Status = "in_progress"
	StatusDelivered          Status = "delivered"
	StatusAwaitingValidation Status = "awaiting_validation"
	StatusCompleted          Status = "completed"
	StatusDispute            Status = "dispute"
	StatusRefunded           Status = "refunded"
)

// Event names a transition request.
type Event string

const (
	EventPaymentConfirmed   Event = "payment_confirmed"
	EventStartWork          Event = "start_work"
	EventMarkDelivered      Event = "mark_delivered"
	EventRequestValidation  Event = "request_validation"
	EventClientValidate     Event = "client_validate"
	EventValidationTimeout  Event = "validation_timeout"
	EventOpenDispute        Event = "open_dispute"
	EventResolveForProvider Event = "resolve_for_provider"
	EventResolveForClient   Event = "resolve_for_client"
	EventResolveResumeWork  Event = "resolve_resume_work"

	// EventCreated labels the creation history row. It is not a transition.
	EventCreated Event = "created"
)

// Deal mirrors the deals table.
type Deal struct {
	ID                    string
	ProviderID            string
	ClientName            string
	ClientEmail           *string
	ClientPhone           *string
	Title                 string
	Description           string
	Amount                decimal.Decimal
	Currency              string
	CustomConditions      *string
	DeliveryDeadline      *time.Time
	ValidationDeadline    *time.Time
	ValidationWindowHours int
	SecureToken           string
	Status                Status
	CommissionRate        decimal.Decimal
	CommissionAmount      decimal.Decimal
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Payout is what the provider receives when funds are released.
func (d Deal) Payout() decimal.Decimal {
	return d.Amount.Sub(d.CommissionAmount)
}

// HistoryEntry is one append-only deal_status_history row. OldStatus is nil
// only for the creation row; ChangedBy is nil for clients and system triggers.
type HistoryEntry struct {
	ID         int64
	DealID     string
	OldStatus  *Status
	NewStatus  Status
	Event      Event
	ChangedBy  *string
	ActorKind  string
	ActorLabel string
	Note       string
	ChangedAt  time.Time
}

// ListFilter narrows deal listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

const (
	// OutboxTopicDealCreated is published once per deal.
	OutboxTopicDealCreated = "deal.created"
	// OutboxTopicStatusChanged is published on every committed transition.
	OutboxTopicStatusChanged = "deal.status_changed"
)
