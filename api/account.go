package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"fidexa/auth"
	"fidexa/provider"
	"fidexa/subscription"
)

type authResponse struct {
	Token string       `json:"token,omitempty"`
	User  userResponse `json:"user"`
}

type userResponse struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Roles    []string `json:"roles"`
}

func newUserResponse(u auth.User) userResponse {
	roles := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		roles = append(roles, string(role))
	}
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Roles: roles}
}

type updateProfileRequest struct {
	FullName    string  `json:"full_name"`
	CompanyName *string `json:"company_name"`
	Phone       *string `json:"phone"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

type changePlanRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, authResponse{User: newUserResponse(*user)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, authResponse{Token: result.Token, User: newUserResponse(result.User)})
}

// handleMe reports the caller with grants read from storage rather than the
// token claims.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	user, err := s.authService.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	isAdmin, err := s.access.IsAdmin(r.Context(), p)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	isProvider, err := s.access.IsProvider(r.Context(), p)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, struct {
		User       userResponse `json:"user"`
		IsAdmin    bool         `json:"is_admin"`
		IsProvider bool         `json:"is_provider"`
	}{
		User:       newUserResponse(*user),
		IsAdmin:    isAdmin,
		IsProvider: isProvider,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	profile, err := s.profileService.Get(r.Context(), p.UserID)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newProfileResponse(profile))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := s.profileService.Update(r.Context(), p.UserID, provider.UpdateParams{
		FullName:    req.FullName,
		CompanyName: req.CompanyName,
		Phone:       req.Phone,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newProfileResponse(profile))
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	sub, err := s.subscriptionService.Current(r.Context(), p.UserID)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	var req changePlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := s.subscriptionService.ChangePlan(r.Context(), p.UserID, subscription.Tier(req.Tier))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	catalog := subscription.Catalog()
	items := make([]planResponse, 0, len(catalog))
	for _, plan := range catalog {
		items = append(items, planResponse{
			Tier:           string(plan.Tier),
			CommissionRate: plan.CommissionRate.String(),
			MaxActiveDeals: plan.MaxActiveDeals,
			MonthlyPrice:   plan.MonthlyPrice.String(),
			Currency:       plan.Currency,
		})
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		respondWithMessage(w, http.StatusBadRequest, "invalid limit")
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	items, err := s.notificationService.List(r.Context(), p.UserID, unreadOnly, limit)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"items": newNotificationList(items)})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())

	if err := s.notificationService.MarkRead(r.Context(), p.UserID, chi.URLParam(r, "id")); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
