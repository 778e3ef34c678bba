package api

import (
	"time"

	"fidexa/deal"
	"fidexa/dispute"
	"fidexa/notification"
	"fidexa/provider"
	"fidexa/subscription"
)

type dealResponse struct {
	ID                    string  `json:"id"`
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	ClientName            string  `json:"client_name"`
	ClientEmail           *string `json:"client_email,omitempty"`
	ClientPhone           *string `json:"client_phone,omitempty"`
	Amount                string  `json:"amount"`
	Currency              string  `json:"currency"`
	CustomConditions      *string `json:"custom_conditions,omitempty"`
	DeliveryDeadline      *string `json:"delivery_deadline,omitempty"`
	ValidationDeadline    *string `json:"validation_deadline,omitempty"`
	ValidationWindowHours int     `json:"validation_window_hours"`
	Status                string  `json:"status"`
	CommissionRate        string  `json:"commission_rate,omitempty"`
	CommissionAmount      string  `json:"commission_amount,omitempty"`
	Payout                string  `json:"payout,omitempty"`
	ClientLink            string  `json:"client_link,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

// ownerDeal is the provider/admin view; it carries pricing and the client link.
func ownerDeal(d deal.Deal, origin string) dealResponse {
	resp := publicDeal(d)
	resp.CommissionRate = d.CommissionRate.String()
	resp.CommissionAmount = d.CommissionAmount.String()
	resp.Payout = d.Payout().String()
	resp.ClientLink = deal.ClientLink(origin, d.SecureToken)
	return resp
}

// publicDeal is what the token holder sees.
func publicDeal(d deal.Deal) dealResponse {
	return dealResponse{
		ID:                    d.ID,
		Title:                 d.Title,
		Description:           d.Description,
		ClientName:            d.ClientName,
		ClientEmail:           d.ClientEmail,
		ClientPhone:           d.ClientPhone,
		Amount:                d.Amount.String(),
		Currency:              d.Currency,
		CustomConditions:      d.CustomConditions,
		DeliveryDeadline:      formatOptional(d.DeliveryDeadline),
		ValidationDeadline:    formatOptional(d.ValidationDeadline),
		ValidationWindowHours: d.ValidationWindowHours,
		Status:                string(d.Status),
		CreatedAt:             d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             d.UpdatedAt.Format(time.RFC3339),
	}
}

type historyResponse struct {
	OldStatus  *string `json:"old_status"`
	NewStatus  string  `json:"new_status"`
	Event      string  `json:"event"`
	ActorKind  string  `json:"actor_kind"`
	ActorLabel string  `json:"actor_label"`
	ChangedBy  *string `json:"changed_by,omitempty"`
	Note       string  `json:"note,omitempty"`
	ChangedAt  string  `json:"changed_at"`
}

func newHistoryResponse(entries []deal.HistoryEntry, withPrincipal bool) []historyResponse {
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		h := historyResponse{
			NewStatus:  string(e.NewStatus),
			Event:      string(e.Event),
			ActorKind:  e.ActorKind,
			ActorLabel: e.ActorLabel,
			Note:       e.Note,
			ChangedAt:  e.ChangedAt.Format(time.RFC3339),
		}
		if e.OldStatus != nil {
			old := string(*e.OldStatus)
			h.OldStatus = &old
		}
		if withPrincipal {
			h.ChangedBy = e.ChangedBy
		}
		out = append(out, h)
	}
	return out
}

type transitionResponse struct {
	Deal     dealResponse    `json:"deal"`
	Previous string          `json:"previous"`
	Entry    historyResponse `json:"entry"`
}

type disputeResponse struct {
	ID             string  `json:"id"`
	DealID         string  `json:"deal_id"`
	OpenerKind     string  `json:"opener_kind"`
	OpenerLabel    string  `json:"opener_label"`
	Reason         string  `json:"reason"`
	Status         string  `json:"status"`
	Decision       *string `json:"decision,omitempty"`
	ResolutionNote *string `json:"resolution_note,omitempty"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

func newDisputeResponse(d dispute.Dispute) disputeResponse {
	resp := disputeResponse{
		ID:             d.ID,
		DealID:         d.DealID,
		OpenerKind:     d.OpenerKind,
		OpenerLabel:    d.OpenerLabel,
		Reason:         d.Reason,
		Status:         string(d.Status),
		ResolutionNote: d.ResolutionNote,
		ResolvedAt:     formatOptional(d.ResolvedAt),
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      d.UpdatedAt.Format(time.RFC3339),
	}
	if d.Decision != nil {
		decision := string(*d.Decision)
		resp.Decision = &decision
	}
	return resp
}

func newDisputeList(items []dispute.Dispute) []disputeResponse {
	out := make([]disputeResponse, 0, len(items))
	for _, d := range items {
		out = append(out, newDisputeResponse(d))
	}
	return out
}

type messageResponse struct {
	ID            string  `json:"id"`
	SenderLabel   string  `json:"sender_label"`
	Body          string  `json:"body"`
	AttachmentURL *string `json:"attachment_url,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func newMessageList(items []dispute.Message) []messageResponse {
	out := make([]messageResponse, 0, len(items))
	for _, m := range items {
		out = append(out, newMessageResponse(m))
	}
	return out
}

func newMessageResponse(m dispute.Message) messageResponse {
	return messageResponse{
		ID:            m.ID,
		SenderLabel:   m.SenderLabel,
		Body:          m.Body,
		AttachmentURL: m.AttachmentURL,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

type subscriptionResponse struct {
	Tier           string  `json:"tier"`
	Status         string  `json:"status"`
	CommissionRate string  `json:"commission_rate"`
	MaxActiveDeals int     `json:"max_active_deals"`
	Unlimited      bool    `json:"unlimited"`
	StartedAt      string  `json:"started_at"`
	EndsAt         *string `json:"ends_at,omitempty"`
}

func newSubscriptionResponse(s subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Tier:           string(s.Tier),
		Status:         string(s.Status),
		CommissionRate: s.CommissionRate.String(),
		MaxActiveDeals: s.MaxActiveDeals,
		Unlimited:      s.Terms().Unlimited(),
		StartedAt:      s.StartedAt.Format(time.RFC3339),
		EndsAt:         formatOptional(s.EndsAt),
	}
}

type planResponse struct {
	Tier           string `json:"tier"`
	CommissionRate string `json:"commission_rate"`
	MaxActiveDeals int    `json:"max_active_deals"`
	MonthlyPrice   string `json:"monthly_price"`
	Currency       string `json:"currency"`
}

type profileResponse struct {
	UserID      string  `json:"user_id"`
	FullName    string  `json:"full_name"`
	DisplayName string  `json:"display_name"`
	CompanyName *string `json:"company_name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	UpdatedAt   string  `json:"updated_at"`
}

func newProfileResponse(p provider.Profile) profileResponse {
	return profileResponse{
		UserID:      p.UserID,
		FullName:    p.FullName,
		DisplayName: p.DisplayName(),
		CompanyName: p.CompanyName,
		Phone:       p.Phone,
		Bio:         p.Bio,
		AvatarURL:   p.AvatarURL,
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

type notificationResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Link      *string `json:"link,omitempty"`
	Type      string  `json:"type"`
	Read      bool    `json:"read"`
	CreatedAt string  `json:"created_at"`
}

func newNotificationList(items []notification.Notification) []notificationResponse {
	out := make([]notificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, notificationResponse{
			ID:        n.ID,
			Title:     n.Title,
			Message:   n.Message,
			Link:      n.Link,
			Type:      string(n.Type),
			Read:      n.Read,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	return out
}

type summaryResponse struct {
	ByStatus         map[string]int    `json:"by_status"`
	Total            int               `json:"total"`
	InProgress       int               `json:"in_progress"`
	CompletedRevenue map[string]string `json:"completed_revenue"`
	SecuredFunds     map[string]string `json:"secured_funds"`
}

func newSummaryResponse(sum deal.Summary) summaryResponse {
	resp := summaryResponse{
		ByStatus:         make(map[string]int, len(sum.ByStatus)),
		Total:            sum.Total,
		InProgress:       sum.InProgress,
		CompletedRevenue: make(map[string]string, len(sum.CompletedRevenue)),
		SecuredFunds:     make(map[string]string, len(sum.SecuredFunds)),
	}
	for status, n := range sum.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	for currency, v := range sum.CompletedRevenue {
		resp.CompletedRevenue[currency] = v.String()
	}
	for currency, v := range sum.SecuredFunds {
		resp.SecuredFunds[currency] = v.String()
	}
	return resp
}

type overviewResponse struct {
	Deals           summaryResponse `json:"deals"`
	ActiveProviders int             `json:"active_providers"`
	OpenDisputes    int             `json:"open_disputes"`
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
