package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/quotagate/pkg/auth"
	"github.com/platinummonkey/quotagate/pkg/httputil"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/middleware"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/payment"
	"github.com/platinummonkey/quotagate/pkg/predict"
	"github.com/platinummonkey/quotagate/pkg/settlement"
	"github.com/platinummonkey/quotagate/pkg/subscription"
)

// DefaultMaxUploadBytes bounds a prediction upload
const DefaultMaxUploadBytes = 10 << 20

// Accounts manages users and access tokens
type Accounts interface {
	middleware.TokenAuthenticator
	Register(ctx context.Context, email, password string) (*ledger.User, error)
	Login(ctx context.Context, email, password string) (*ledger.User, error)
	GoogleLogin(ctx context.Context, code string) (*ledger.User, error)
	IssueToken(user *ledger.User) (*auth.Token, error)
	CurrentUser(ctx context.Context, userID int64) (*ledger.User, error)
	RecentUsage(ctx context.Context, userID int64) (int, error)
}

// Subscriptions manages plans
type Subscriptions interface {
	GetActive(ctx context.Context, userID int64) (*ledger.Subscription, error)
	History(ctx context.Context, userID int64) ([]*ledger.Subscription, error)
	Plans() []subscription.PlanSpec
	PurchasePlan(ctx context.Context, userID int64, plan string) (*ledger.Subscription, error)
	CancelSubscription(ctx context.Context, userID int64) (*ledger.Subscription, error)
}

// TopupCreator starts wallet top-ups
type TopupCreator interface {
	CreateTopup(ctx context.Context, userID int64, amount ledger.Money) (*payment.TopupResult, error)
}

// WebhookProcessor settles top-ups from provider callbacks
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, body []byte) (*settlement.Acknowledgement, error)
}

// Predictor runs metered classifications
type Predictor interface {
	Predict(ctx context.Context, userID int64, image []byte, threshold float64) (*predict.Prediction, error)
}

// TransactionLister reads a user's transaction history
type TransactionLister interface {
	ListTransactions(ctx context.Context, userID int64, limit int) ([]*ledger.Transaction, error)
}

// Services are the domain components the API exposes
type Services struct {
	Accounts      Accounts
	Subscriptions Subscriptions
	Payments      TopupCreator
	Webhooks      WebhookProcessor
	Predictor     Predictor
	Transactions  TransactionLister
}

// Config configures the API server. Zero values are valid.
type Config struct {
	AppName string
	Version string
	// AppURL is the frontend base URL redirects point at
	AppURL         string
	CORSOrigins    []string
	MaxUploadBytes int64

	// AuthLimiter limits register and login per client IP
	AuthLimiter middleware.Limiter
	// TopupLimiter limits top-up creation per user
	TopupLimiter middleware.Limiter

	Health   *observability.HealthChecker
	Gatherer prometheus.Gatherer
	Metrics  *observability.Metrics
	Logger   *observability.Logger
}

// Server represents our API server
type Server struct {
	cfg     Config
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	metrics *observability.Metrics

	authHandlers         *AuthHandlers
	subscriptionHandlers *SubscriptionHandlers
	paymentHandlers      *PaymentHandlers
	predictHandlers      *PredictHandlers
}

// NewServer creates a new API server
func NewServer(cfg Config, services Services) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		logger:  cfg.Logger.OrDefault(),
		metrics: cfg.Metrics,
	}
	if s.metrics == nil {
		s.metrics = observability.NewNopMetrics()
	}

	authn := middleware.NewAuthMiddleware(services.Accounts, false)
	s.authHandlers = NewAuthHandlers(services.Accounts, cfg.AppURL, s.logger)
	s.subscriptionHandlers = NewSubscriptionHandlers(services.Subscriptions, s.logger)
	s.paymentHandlers = NewPaymentHandlers(services.Payments, services.Webhooks, services.Transactions, cfg.AppURL, s.logger)
	s.predictHandlers = NewPredictHandlers(services.Predictor, cfg.MaxUploadBytes, s.logger)

	s.setupRoutes(authn)

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(s.logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.CORSMiddleware(cfg.CORSOrigins),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "quotagate")
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(authn *middleware.AuthMiddleware) {
	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))

	s.router.HandleFunc("/", s.info).Methods(http.MethodGet)
	if s.cfg.Health != nil {
		s.cfg.Health.RegisterRoutes(s.router)
	}
	if s.cfg.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.cfg.Gatherer)).Methods(http.MethodGet)
	}

	public := s.router.NewRoute().Subrouter()
	protected := s.router.NewRoute().Subrouter()
	protected.Use(authn.Handler)

	s.authHandlers.RegisterRoutes(public, protected, s.limit(s.cfg.AuthLimiter, "auth", middleware.ByIP))
	s.subscriptionHandlers.RegisterRoutes(protected)
	s.paymentHandlers.RegisterRoutes(public, protected, s.limit(s.cfg.TopupLimiter, "topup", middleware.ByUser))
	s.predictHandlers.RegisterRoutes(protected)
}

// limit returns a rate limiting wrapper, or a no-op when limiter is nil
func (s *Server) limit(limiter middleware.Limiter, scope string, key middleware.KeyFunc) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.NewRateLimitMiddleware(limiter, scope, key, s.logger, s.metrics).Handler
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

type infoResponse struct {
	App       string            `json:"app"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, infoResponse{
		App:     s.cfg.AppName,
		Version: s.cfg.Version,
		Status:  "ok",
		Endpoints: map[string]string{
			"auth":         "/api/auth",
			"payment":      "/api/payment",
			"subscription": "/api/subscription",
			"prediction":   "/api/v1",
		},
	})
}
