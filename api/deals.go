package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/auth"
	"fidexa/deal"
	"fidexa/dispute"
)

type createDealRequest struct {
	ClientName            string          `json:"client_name"`
	ClientEmail           *string         `json:"client_email"`
	ClientPhone           *string         `json:"client_phone"`
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	CustomConditions      *string         `json:"custom_conditions"`
	DeliveryDeadline      *time.Time      `json:"delivery_deadline"`
	ValidationWindowHours int             `json:"validation_window_hours"`
}

type transitionRequest struct {
	Event string `json:"event"`
	Note  string `json:"note"`
}

type openDisputeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req createDealRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.dealService.Create(r.Context(), deal.CreateParams{
		ProviderID:            p.UserID,
		ClientName:            req.ClientName,
		ClientEmail:           req.ClientEmail,
		ClientPhone:           req.ClientPhone,
		Title:                 req.Title,
		Description:           req.Description,
		Amount:                req.Amount,
		Currency:              req.Currency,
		CustomConditions:      req.CustomConditions,
		DeliveryDeadline:      req.DeliveryDeadline,
		ValidationWindowHours: req.ValidationWindowHours,
	})
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, ownerDeal(d, s.appOrigin))
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	filter, ok := listFilter(r)
	if !ok {
		respondWithMessage(w, http.StatusBadRequest, "invalid pagination parameters")
		return
	}

	deals, err := s.dealService.ListForProvider(r.Context(), p.UserID, filter)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s.dealList(deals))
}

func (s *Server) handleAdminDeals(w http.ResponseWriter, r *http.Request) {
	filter, ok := listFilter(r)
	if !ok {
		respondWithMessage(w, http.StatusBadRequest, "invalid pagination parameters")
		return
	}

	deals, err := s.dealService.ListAll(r.Context(), filter)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, s.dealList(deals))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	sum, err := s.dealService.ProviderSummary(r.Context(), p.UserID)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newSummaryResponse(sum))
}

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.dealService.AdminOverview(r.Context())
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, overviewResponse{
		Deals:           newSummaryResponse(ov.Summary),
		ActiveProviders: ov.ActiveProviders,
		OpenDisputes:    ov.OpenDisputes,
	})
}

// handleGetDeal serves the owner or an admin. Anyone else gets the same 404
// as an unknown deal.
func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	dealID := chi.URLParam(r, "id")

	actor, err := s.access.ActorFor(r.Context(), p, dealID, "")
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}

	d, history, err := s.dealService.Get(r.Context(), actor, dealID)
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}

	disputes, err := s.disputeService.ForDeal(r.Context(), actor, d.ID)
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, struct {
		Deal     dealResponse      `json:"deal"`
		History  []historyResponse `json:"history"`
		Disputes []disputeResponse `json:"disputes"`
	}{
		Deal:     ownerDeal(d, s.appOrigin),
		History:  newHistoryResponse(history, true),
		Disputes: newDisputeList(disputes),
	})
}

// directEvent refuses events owned by the dispute routes.
func directEvent(event deal.Event) error {
	if t, ok := deal.Lookup(event); ok && t.Internal {
		return apperr.New(apperr.KindInvalidTransition, fmt.Sprintf("%s goes through the dispute routes", event))
	}
	return nil
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	event := deal.Event(strings.TrimSpace(req.Event))
	if err := directEvent(event); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	res, err := s.dealService.Transition(r.Context(), deal.TransitionRequest{
		DealID: chi.URLParam(r, "id"),
		Event:  event,
		Actor:  access.Provider(p.UserID, s.providerLabel(r, p)),
		Note:   req.Note,
	})
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, transitionResponse{
		Deal:     ownerDeal(res.Deal, s.appOrigin),
		Previous: string(res.Previous),
		Entry:    newHistoryResponse([]deal.HistoryEntry{res.Entry}, true)[0],
	})
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req openDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.disputeService.Open(r.Context(), dispute.OpenParams{
		DealID: chi.URLParam(r, "id"),
		Actor:  access.Provider(p.UserID, s.providerLabel(r, p)),
		Reason: req.Reason,
	})
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newDisputeResponse(d))
}

func (s *Server) dealList(deals []deal.Deal) map[string]interface{} {
	items := make([]dealResponse, 0, len(deals))
	for _, d := range deals {
		items = append(items, ownerDeal(d, s.appOrigin))
	}
	return map[string]interface{}{
		"items": items,
		"total": len(items),
	}
}

// providerLabel is the name recorded on history rows and messages. Profile
// lookup failures fall back to the generic label.
func (s *Server) providerLabel(r *http.Request, p auth.Principal) string {
	if s.profileService == nil {
		return string(access.KindProvider)
	}
	card, err := s.profileService.PublicCard(r.Context(), p.UserID, string(access.KindProvider))
	if err != nil {
		s.logger.Warn("provider label lookup failed", "user_id", p.UserID, "error", err)
		return string(access.KindProvider)
	}
	return card.DisplayName
}

func listFilter(r *http.Request) (deal.ListFilter, bool) {
	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		return deal.ListFilter{}, false
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		return deal.ListFilter{}, false
	}
	return deal.ListFilter{
		Status: deal.Status(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}, true
}
