// Package api is the HTTP surface of the deal engine.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fidexa/access"
	"fidexa/auth"
	"fidexa/deal"
	"fidexa/dispute"
	"fidexa/notification"
	"fidexa/payment"
	"fidexa/provider"
	"fidexa/subscription"
)

// Authenticator covers account creation and token verification.
type Authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	VerifyToken(token string) (auth.Principal, error)
}

// ActorResolver turns a verified principal into a deal actor. Role checks
// read storage so revoked grants apply immediately.
type ActorResolver interface {
	IsAdmin(ctx context.Context, p auth.Principal) (bool, error)
	IsProvider(ctx context.Context, p auth.Principal) (bool, error)
	ActorFor(ctx context.Context, p auth.Principal, dealID, label string) (access.Actor, error)
}

type DealService interface {
	Create(ctx context.Context, params deal.CreateParams) (deal.Deal, error)
	Transition(ctx context.Context, req deal.TransitionRequest) (deal.Result, error)
	GetByToken(ctx context.Context, token string) (deal.Deal, error)
	Get(ctx context.Context, actor access.Actor, id string) (deal.Deal, []deal.HistoryEntry, error)
	ListForProvider(ctx context.Context, providerID string, f deal.ListFilter) ([]deal.Deal, error)
	ListAll(ctx context.Context, f deal.ListFilter) ([]deal.Deal, error)
	ProviderSummary(ctx context.Context, providerID string) (deal.Summary, error)
	AdminOverview(ctx context.Context) (deal.Overview, error)
}

type DisputeService interface {
	Open(ctx context.Context, p dispute.OpenParams) (dispute.Dispute, error)
	Get(ctx context.Context, actor access.Actor, id string) (dispute.Dispute, error)
	ForDeal(ctx context.Context, actor access.Actor, dealID string) ([]dispute.Dispute, error)
	List(ctx context.Context, actor access.Actor, status dispute.Status, limit int) ([]dispute.Dispute, error)
	Messages(ctx context.Context, actor access.Actor, disputeID string) ([]dispute.Message, error)
	PostMessage(ctx context.Context, p dispute.MessageParams) (dispute.Message, error)
	StartReview(ctx context.Context, actor access.Actor, id string) (dispute.Dispute, error)
	Resolve(ctx context.Context, p dispute.ResolveParams) (dispute.Dispute, error)
	Close(ctx context.Context, actor access.Actor, id string) (dispute.Dispute, error)
}

type PaymentService interface {
	HandleCallback(ctx context.Context, cb payment.Callback) (payment.CallbackOutcome, error)
}

type SubscriptionService interface {
	Current(ctx context.Context, providerID string) (subscription.Subscription, error)
	ChangePlan(ctx context.Context, providerID string, tier subscription.Tier) (subscription.Subscription, error)
}

type ProfileService interface {
	Get(ctx context.Context, userID string) (provider.Profile, error)
	Update(ctx context.Context, userID string, p provider.UpdateParams) (provider.Profile, error)
	PublicCard(ctx context.Context, userID, fallbackName string) (provider.PublicCard, error)
}

type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]notification.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// Options carries the values the handlers need besides the services.
type Options struct {
	AppOrigin      string
	InternalAPIKey string
	Logger         *slog.Logger
}

// Server holds the services the handlers interact with.
type Server struct {
	authService         Authenticator
	access              ActorResolver
	dealService         DealService
	disputeService      DisputeService
	paymentService      PaymentService
	subscriptionService SubscriptionService
	profileService      ProfileService
	notificationService NotificationService

	appOrigin   string
	internalKey string
	logger      *slog.Logger
}

// Services bundles the constructor arguments of NewServer.
type Services struct {
	Auth          Authenticator
	Access        ActorResolver
	Deals         DealService
	Disputes      DisputeService
	Payments      PaymentService
	Subscriptions SubscriptionService
	Profiles      ProfileService
	Notifications NotificationService
}

func NewServer(svc Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authService:         svc.Auth,
		access:              svc.Access,
		dealService:         svc.Deals,
		disputeService:      svc.Disputes,
		paymentService:      svc.Payments,
		subscriptionService: svc.Subscriptions,
		profileService:      svc.Profiles,
		notificationService: svc.Notifications,
		appOrigin:           opts.AppOrigin,
		internalKey:         opts.InternalAPIKey,
		logger:              logger,
	}
}

// Router registers every route on a new chi mux.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.appOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/plans", s.handlePlans)

		r.Route("/public/deals/{token}", func(r chi.Router) {
			r.Get("/", s.handlePublicDeal)
			r.Post("/transitions", s.handlePublicTransition)
			r.Post("/disputes", s.handlePublicOpenDispute)
			r.Get("/disputes/{disputeID}/messages", s.handlePublicMessages)
			r.Post("/disputes/{disputeID}/messages", s.handlePublicPostMessage)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(internalKeyMiddleware(s.internalKey))
			r.Post("/payments/callback", s.handlePaymentCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.handleMe)

			r.Get("/deals/{id}", s.handleGetDeal)
			r.Get("/disputes/{id}/messages", s.handleDisputeMessages)
			r.Post("/disputes/{id}/messages", s.handlePostDisputeMessage)

			r.Group(func(r chi.Router) {
				r.Use(s.requireProvider)
				r.Get("/profile", s.handleGetProfile)
				r.Put("/profile", s.handleUpdateProfile)
				r.Get("/subscription", s.handleGetSubscription)
				r.Put("/subscription", s.handleChangePlan)
				r.Post("/deals", s.handleCreateDeal)
				r.Get("/deals", s.handleListDeals)
				r.Get("/dashboard", s.handleDashboard)
				r.Post("/deals/{id}/transitions", s.handleTransition)
				r.Post("/deals/{id}/disputes", s.handleOpenDispute)
				r.Get("/notifications", s.handleNotifications)
				r.Post("/notifications/{id}/read", s.handleMarkNotificationRead)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/overview", s.handleAdminOverview)
				r.Get("/deals", s.handleAdminDeals)
				r.Get("/disputes", s.handleAdminDisputes)
				r.Post("/disputes/{id}/review", s.handleReviewDispute)
				r.Post("/disputes/{id}/resolve", s.handleResolveDispute)
				r.Post("/disputes/{id}/close", s.handleCloseDispute)
			})
		})
	})

	return r
}
