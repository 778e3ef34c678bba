package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"fidexa/access"
	"fidexa/deal"
	"fidexa/dispute"
	"fidexa/provider"
)

type postMessageRequest struct {
	Body          string  `json:"body"`
	AttachmentURL *string `json:"attachment_url"`
}

// clientActor resolves the path token into the client actor of its deal.
func (s *Server) clientActor(w http.ResponseWriter, r *http.Request) (deal.Deal, access.Actor, bool) {
	d, err := s.dealService.GetByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.respondWithDealError(w, r, err)
		return deal.Deal{}, access.Actor{}, false
	}
	return d, access.Client(d.ID, d.ClientName), true
}

func (s *Server) handlePublicDeal(w http.ResponseWriter, r *http.Request) {
	d, actor, ok := s.clientActor(w, r)
	if !ok {
		return
	}

	_, history, err := s.dealService.Get(r.Context(), actor, d.ID)
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
		Deal     dealResponse        `json:"deal"`
		Provider provider.PublicCard `json:"provider"`
		History  []historyResponse   `json:"history"`
		Disputes []disputeResponse   `json:"disputes"`
	}{
		Deal:     publicDeal(d),
		Provider: s.providerCard(r, d.ProviderID),
		History:  newHistoryResponse(history, false),
		Disputes: newDisputeList(disputes),
	})
}

func (s *Server) handlePublicTransition(w http.ResponseWriter, r *http.Request) {
	d, actor, ok := s.clientActor(w, r)
	if !ok {
		return
	}

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
		DealID: d.ID,
		Event:  event,
		Actor:  actor,
		Note:   req.Note,
	})
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, transitionResponse{
		Deal:     publicDeal(res.Deal),
		Previous: string(res.Previous),
		Entry:    newHistoryResponse([]deal.HistoryEntry{res.Entry}, false)[0],
	})
}

func (s *Server) handlePublicOpenDispute(w http.ResponseWriter, r *http.Request) {
	d, actor, ok := s.clientActor(w, r)
	if !ok {
		return
	}

	var req openDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	opened, err := s.disputeService.Open(r.Context(), dispute.OpenParams{DealID: d.ID, Actor: actor, Reason: req.Reason})
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newDisputeResponse(opened))
}

func (s *Server) handlePublicMessages(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := s.clientActor(w, r)
	if !ok {
		return
	}

	messages, err := s.disputeService.Messages(r.Context(), actor, chi.URLParam(r, "disputeID"))
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"items": newMessageList(messages)})
}

func (s *Server) handlePublicPostMessage(w http.ResponseWriter, r *http.Request) {
	_, actor, ok := s.clientActor(w, r)
	if !ok {
		return
	}
	s.postMessage(w, r, actor, chi.URLParam(r, "disputeID"))
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, actor access.Actor, disputeID string) {
	var req postMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := s.disputeService.PostMessage(r.Context(), dispute.MessageParams{
		DisputeID:     disputeID,
		Actor:         actor,
		Body:          req.Body,
		AttachmentURL: req.AttachmentURL,
	})
	if err != nil {
		s.respondWithDealError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newMessageResponse(msg))
}

// providerCard never fails the page: a missing account or profile renders a
// generic card.
func (s *Server) providerCard(r *http.Request, providerID string) provider.PublicCard {
	fallback := string(access.KindProvider)
	if user, err := s.authService.GetUserByID(r.Context(), providerID); err == nil {
		fallback = user.FullName
	}
	if s.profileService == nil {
		return provider.PublicCard{DisplayName: fallback, FullName: fallback}
	}
	card, err := s.profileService.PublicCard(r.Context(), providerID, fallback)
	if err != nil {
		s.logger.Warn("provider card lookup failed", "provider_id", providerID, "error", err)
		return provider.PublicCard{DisplayName: fallback, FullName: fallback}
	}
	return card
}
