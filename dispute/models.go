package dispute

import (
	"time"

	"fidexa/deal"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusClosed      Status = "closed"
)

// Active reports statuses that block a second dispute on the same deal.
func (s Status) Active() bool {
	return s == StatusOpen || s == StatusUnderReview
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusUnderReview, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Decision is the admin outcome recorded when a dispute is resolved.
type Decision string

const (
	DecisionFavorProvider Decision = "favor_provider"
	DecisionFavorClient   Decision = "favor_client"
	DecisionResumeWork    Decision = "resume_work"
)

// Event is the deal exit transition a decision drives.
func (d Decision) Event() (deal.Event, bool) {
	switch d {
	case DecisionFavorProvider:
		return deal.EventResolveForProvider, true
	case DecisionFavorClient:
		return deal.EventResolveForClient, true
	case DecisionResumeWork:
		return deal.EventResolveResumeWork, true
	}
	return "", false
}

// Dispute mirrors the disputes table.
type Dispute struct {
	ID             string
	DealID         string
	OpenedBy       *string
	OpenerKind     string
	OpenerLabel    string
	Reason         string
	Status         Status
	Decision       *Decision
	ResolutionNote *string
	ResolvedBy     *string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message is one immutable entry in a dispute thread.
type Message struct {
	ID            string
	DisputeID     string
	SenderID      *string
	SenderLabel   string
	Body          string
	AttachmentURL *string
	CreatedAt     time.Time
}

const (
	OutboxTopicOpened   = "dispute.opened"
	OutboxTopicResolved = "dispute.resolved"
)
