package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/dispute"
)

type resolveDisputeRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

// principalActor resolves an authenticated caller outside a known deal. The
// dispute service binds it to the dispute's deal afterwards.
func (s *Server) principalActor(r *http.Request) (access.Actor, error) {
	p, _ := principalFromContext(r.Context())
	admin, err := s.access.IsAdmin(r.Context(), p)
	if err != nil {
		return access.Actor{}, err
	}
	if admin {
		return access.Admin(p.UserID, "admin"), nil
	}
	isProvider, err := s.access.IsProvider(r.Context(), p)
	if err != nil {
		return access.Actor{}, err
	}
	if isProvider {
		return access.Provider(p.UserID, s.providerLabel(r, p)), nil
	}
	return access.Actor{}, apperr.New(apperr.KindForbidden, "api: no role for disputes")
}

func adminActor(r *http.Request) access.Actor {
	p, _ := principalFromContext(r.Context())
	return access.Admin(p.UserID, "admin")
}

func (s *Server) handleDisputeMessages(w http.ResponseWriter, r *http.Request) {
	actor, err := s.principalActor(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	messages, err := s.disputeService.Messages(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"items": newMessageList(messages)})
}

func (s *Server) handlePostDisputeMessage(w http.ResponseWriter, r *http.Request) {
	actor, err := s.principalActor(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.postMessage(w, r, actor, chi.URLParam(r, "id"))
}

func (s *Server) handleAdminDisputes(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		respondWithMessage(w, http.StatusBadRequest, "invalid limit")
		return
	}
	status := dispute.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondWithJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown dispute status", Code: string(apperr.KindValidation), Field: "status"})
		return
	}

	items, err := s.disputeService.List(r.Context(), adminActor(r), status, limit)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": newDisputeList(items),
		"total": len(items),
	})
}

func (s *Server) handleReviewDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputeService.StartReview(r.Context(), adminActor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newDisputeResponse(d))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := s.disputeService.Resolve(r.Context(), dispute.ResolveParams{
		DisputeID: chi.URLParam(r, "id"),
		Actor:     adminActor(r),
		Decision:  dispute.Decision(req.Decision),
		Note:      req.Note,
	})
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newDisputeResponse(d))
}

func (s *Server) handleCloseDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputeService.Close(r.Context(), adminActor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newDisputeResponse(d))
}
