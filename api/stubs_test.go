package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fidexa/access"
	"fidexa/apperr"
	"fidexa/auth"
	"fidexa/deal"
	"fidexa/dispute"
	"fidexa/notification"
	"fidexa/payment"
	"fidexa/provider"
	"fidexa/subscription"
)

const (
	providerToken = "provider-jwt"
	adminToken    = "admin-jwt"
	strangerToken = "stranger-jwt"
)

type stubAuth struct {
	registerErr error
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return &auth.User{ID: "u-new", Email: req.Email, FullName: req.FullName, Roles: []auth.Role{auth.RoleProvider}}, nil
}

func (s *stubAuth) Login(_ context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if req.Password != "correct-horse" {
		return auth.LoginResult{}, auth.ErrInvalidCredentials
	}
	return auth.LoginResult{Token: providerToken, User: auth.User{ID: "prov-1", Email: req.Email}}, nil
}

func (s *stubAuth) GetUserByID(_ context.Context, userID string) (*auth.User, error) {
	return &auth.User{ID: userID, Email: userID + "@example.test", FullName: "Awa Diop"}, nil
}

func (s *stubAuth) VerifyToken(token string) (auth.Principal, error) {
	switch token {
	case providerToken:
		return auth.Principal{UserID: "prov-1", Roles: []auth.Role{auth.RoleProvider}}, nil
	case adminToken:
		return auth.Principal{UserID: "admin-1", Roles: []auth.Role{auth.RoleAdmin}}, nil
	case strangerToken:
		return auth.Principal{UserID: "prov-2", Roles: []auth.Role{auth.RoleProvider}}, nil
	}
	return auth.Principal{}, errors.New("auth: invalid token")
}

// stubAccess answers from the principal's claims and a fixed owner map.
type stubAccess struct {
	owners map[string]string
}

func (s *stubAccess) IsAdmin(_ context.Context, p auth.Principal) (bool, error) {
	return p.IsAdmin(), nil
}

func (s *stubAccess) IsProvider(_ context.Context, p auth.Principal) (bool, error) {
	return p.IsProvider(), nil
}

func (s *stubAccess) ActorFor(_ context.Context, p auth.Principal, dealID, label string) (access.Actor, error) {
	if s.owners[dealID] == p.UserID && p.IsProvider() {
		return access.Provider(p.UserID, label), nil
	}
	if p.IsAdmin() {
		return access.Admin(p.UserID, "admin"), nil
	}
	return access.Actor{}, access.ErrDealNotFound
}

type stubDeals struct {
	deals        map[string]deal.Deal
	created      deal.CreateParams
	createErr    error
	transitions  []deal.TransitionRequest
	transitionFn func(deal.TransitionRequest) (deal.Result, error)
	listFilter   deal.ListFilter
	summary      deal.Summary
	summaryFor   string
	overview     deal.Overview
}

func (s *stubDeals) Create(_ context.Context, p deal.CreateParams) (deal.Deal, error) {
	s.created = p
	if s.createErr != nil {
		return deal.Deal{}, s.createErr
	}
	return deal.Deal{
		ID: "deal-new", ProviderID: p.ProviderID, Title: p.Title, ClientName: p.ClientName,
		Amount: p.Amount, Currency: "XOF", SecureToken: "tok", Status: deal.StatusPendingPayment,
	}, nil
}

func (s *stubDeals) Transition(_ context.Context, req deal.TransitionRequest) (deal.Result, error) {
	s.transitions = append(s.transitions, req)
	if s.transitionFn != nil {
		return s.transitionFn(req)
	}
	d := s.deals[req.DealID]
	return deal.Result{Deal: d, Previous: d.Status, Entry: deal.HistoryEntry{Event: req.Event, NewStatus: d.Status}}, nil
}

func (s *stubDeals) GetByToken(_ context.Context, token string) (deal.Deal, error) {
	for _, d := range s.deals {
		if d.SecureToken == token {
			return d, nil
		}
	}
	return deal.Deal{}, deal.ErrNotFound
}

func (s *stubDeals) Get(_ context.Context, actor access.Actor, id string) (deal.Deal, []deal.HistoryEntry, error) {
	d, ok := s.deals[id]
	if !ok {
		return deal.Deal{}, nil, deal.ErrNotFound
	}
	if err := access.BindToDeal(actor, d.ID, d.ProviderID); err != nil {
		return deal.Deal{}, nil, deal.ErrNotFound
	}
	by := "prov-1"
	return d, []deal.HistoryEntry{{DealID: d.ID, NewStatus: deal.StatusPendingPayment, Event: deal.EventCreated, ChangedBy: &by, ActorKind: "provider"}}, nil
}

func (s *stubDeals) ListForProvider(_ context.Context, providerID string, f deal.ListFilter) ([]deal.Deal, error) {
	s.listFilter = f
	var out []deal.Deal
	for _, d := range s.deals {
		if d.ProviderID == providerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubDeals) ProviderSummary(_ context.Context, providerID string) (deal.Summary, error) {
	s.summaryFor = providerID
	return s.summary, nil
}

func (s *stubDeals) AdminOverview(_ context.Context) (deal.Overview, error) {
	return s.overview, nil
}

func (s *stubDeals) ListAll(_ context.Context, f deal.ListFilter) ([]deal.Deal, error) {
	s.listFilter = f
	var out []deal.Deal
	for _, d := range s.deals {
		out = append(out, d)
	}
	return out, nil
}

type stubDisputes struct {
	opened   []dispute.OpenParams
	openErr  error
	posted   []dispute.MessageParams
	resolved []dispute.ResolveParams
	err      error
}

func (s *stubDisputes) Open(_ context.Context, p dispute.OpenParams) (dispute.Dispute, error) {
	s.opened = append(s.opened, p)
	if s.openErr != nil {
		return dispute.Dispute{}, s.openErr
	}
	return dispute.Dispute{ID: "disp-1", DealID: p.DealID, OpenerKind: string(p.Actor.Kind), OpenerLabel: p.Actor.DisplayLabel(), Reason: p.Reason, Status: dispute.StatusOpen}, nil
}

func (s *stubDisputes) Get(_ context.Context, _ access.Actor, id string) (dispute.Dispute, error) {
	return dispute.Dispute{ID: id}, s.err
}

func (s *stubDisputes) ForDeal(_ context.Context, _ access.Actor, _ string) ([]dispute.Dispute, error) {
	return nil, s.err
}

func (s *stubDisputes) List(_ context.Context, _ access.Actor, status dispute.Status, _ int) ([]dispute.Dispute, error) {
	return []dispute.Dispute{{ID: "disp-1", Status: dispute.StatusOpen}}, s.err
}

func (s *stubDisputes) Messages(_ context.Context, actor access.Actor, _ string) ([]dispute.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []dispute.Message{{ID: "m1", SenderLabel: actor.DisplayLabel(), Body: "bonjour"}}, nil
}

func (s *stubDisputes) PostMessage(_ context.Context, p dispute.MessageParams) (dispute.Message, error) {
	s.posted = append(s.posted, p)
	if s.err != nil {
		return dispute.Message{}, s.err
	}
	return dispute.Message{ID: "m2", SenderLabel: p.Actor.DisplayLabel(), Body: p.Body}, nil
}

func (s *stubDisputes) StartReview(_ context.Context, _ access.Actor, id string) (dispute.Dispute, error) {
	return dispute.Dispute{ID: id, Status: dispute.StatusUnderReview}, s.err
}

func (s *stubDisputes) Resolve(_ context.Context, p dispute.ResolveParams) (dispute.Dispute, error) {
	s.resolved = append(s.resolved, p)
	if s.err != nil {
		return dispute.Dispute{}, s.err
	}
	decision := p.Decision
	return dispute.Dispute{ID: p.DisputeID, Status: dispute.StatusResolved, Decision: &decision}, nil
}

func (s *stubDisputes) Close(_ context.Context, _ access.Actor, id string) (dispute.Dispute, error) {
	return dispute.Dispute{ID: id, Status: dispute.StatusClosed}, s.err
}

type stubPayments struct {
	callbacks []payment.Callback
	outcome   payment.CallbackOutcome
	err       error
}

func (s *stubPayments) HandleCallback(_ context.Context, cb payment.Callback) (payment.CallbackOutcome, error) {
	s.callbacks = append(s.callbacks, cb)
	return s.outcome, s.err
}

var errUnknownPlan = apperr.Validation("plan", "unknown plan")

type stubSubscriptions struct {
	changed subscription.Tier
}

func (s *stubSubscriptions) Current(_ context.Context, providerID string) (subscription.Subscription, error) {
	plan, _ := subscription.PlanFor(subscription.TierBasic)
	return subscription.Subscription{ProviderID: providerID, Tier: plan.Tier, CommissionRate: plan.CommissionRate, MaxActiveDeals: plan.MaxActiveDeals, Status: subscription.StatusActive}, nil
}

func (s *stubSubscriptions) ChangePlan(ctx context.Context, providerID string, tier subscription.Tier) (subscription.Subscription, error) {
	s.changed = tier
	plan, ok := subscription.PlanFor(tier)
	if !ok {
		return subscription.Subscription{}, errUnknownPlan
	}
	return subscription.Subscription{ProviderID: providerID, Tier: plan.Tier, CommissionRate: plan.CommissionRate, MaxActiveDeals: plan.MaxActiveDeals, Status: subscription.StatusActive}, nil
}

type stubProfiles struct {
	profiles map[string]provider.Profile
}

func (s *stubProfiles) Get(_ context.Context, userID string) (provider.Profile, error) {
	p, ok := s.profiles[userID]
	if !ok {
		return provider.Profile{}, provider.ErrNotFound
	}
	return p, nil
}

func (s *stubProfiles) Update(_ context.Context, userID string, p provider.UpdateParams) (provider.Profile, error) {
	profile := provider.Profile{UserID: userID, FullName: p.FullName, CompanyName: p.CompanyName}
	if s.profiles == nil {
		s.profiles = map[string]provider.Profile{}
	}
	s.profiles[userID] = profile
	return profile, nil
}

func (s *stubProfiles) PublicCard(ctx context.Context, userID, fallback string) (provider.PublicCard, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return provider.PublicCard{DisplayName: fallback, FullName: fallback}, nil
	}
	return p.Public(), nil
}

type stubNotifications struct {
	read []string
}

func (s *stubNotifications) List(_ context.Context, userID string, _ bool, _ int) ([]notification.Notification, error) {
	return []notification.Notification{{ID: "n1", UserID: userID, Title: "Paiement sécurisé", Type: notification.TypeSuccess}}, nil
}

func (s *stubNotifications) MarkRead(_ context.Context, userID, id string) error {
	if id != "n1" {
		return notification.ErrNotFound
	}
	s.read = append(s.read, userID+":"+id)
	return nil
}

type harness struct {
	deals         *stubDeals
	disputes      *stubDisputes
	payments      *stubPayments
	subscriptions *stubSubscriptions
	notifications *stubNotifications
	handler       http.Handler
}

const ownSecureToken = "client-token-1"

func newHarness(t *testing.T) *harness {
	t.Helper()
	company := "Studio Awa"
	h := &harness{
		deals: &stubDeals{deals: map[string]deal.Deal{
			"deal-1": {ID: "deal-1", ProviderID: "prov-1", Title: "Logo", ClientName: "Moussa", SecureToken: ownSecureToken, Status: deal.StatusDelivered},
		}},
		disputes:      &stubDisputes{},
		payments:      &stubPayments{outcome: payment.OutcomeConfirmed},
		subscriptions: &stubSubscriptions{},
		notifications: &stubNotifications{},
	}
	server := NewServer(Services{
		Auth:          &stubAuth{},
		Access:        &stubAccess{owners: map[string]string{"deal-1": "prov-1"}},
		Deals:         h.deals,
		Disputes:      h.disputes,
		Payments:      h.payments,
		Subscriptions: h.subscriptions,
		Profiles:      &stubProfiles{profiles: map[string]provider.Profile{"prov-1": {UserID: "prov-1", FullName: "Awa Diop", CompanyName: &company}}},
		Notifications: h.notifications,
	}, Options{
		AppOrigin:      "https://app.fidexa.test",
		InternalAPIKey: "internal-key",
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.handler = server.Router()
	return h
}

func (h *harness) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}
