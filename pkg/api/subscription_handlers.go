package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quotagate/pkg/httputil"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/middleware"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/subscription"
)

// SubscriptionHandlers handles plan HTTP requests
type SubscriptionHandlers struct {
	subscriptions Subscriptions
	logger        *observability.Logger
}

// NewSubscriptionHandlers creates new subscription handlers
func NewSubscriptionHandlers(subscriptions Subscriptions, logger *observability.Logger) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subscriptions: subscriptions,
		logger:        logger.OrDefault(),
	}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandlers) RegisterRoutes(protected *mux.Router) {
	protected.HandleFunc("/api/subscription/current", h.current).Methods(http.MethodGet)
	protected.HandleFunc("/api/subscription/history", h.history).Methods(http.MethodGet)
	protected.HandleFunc("/api/subscription/plans", h.plans).Methods(http.MethodGet)
	protected.HandleFunc("/api/subscription/purchase", h.purchase).Methods(http.MethodPost)
	protected.HandleFunc("/api/subscription/cancel", h.cancel).Methods(http.MethodPost)
}

// subscriptionResponse is the public view of a subscription
type subscriptionResponse struct {
	ID           int64      `json:"id"`
	Plan         string     `json:"plan"`
	Status       string     `json:"status"`
	MonthlyQuota int        `json:"monthly_quota"`
	UsedQuota    int        `json:"used_quota"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

func newSubscriptionResponse(sub *ledger.Subscription) *subscriptionResponse {
	return &subscriptionResponse{
		ID:           sub.ID,
		Plan:         string(sub.Plan),
		Status:       string(sub.Status),
		MonthlyQuota: sub.MonthlyQuota,
		UsedQuota:    sub.UsedQuota,
		ExpiresAt:    sub.ExpiresAt,
		CreatedAt:    sub.CreatedAt,
	}
}

type purchaseRequest struct {
	Plan string `json:"plan"`
}

func (h *SubscriptionHandlers) current(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	sub, err := h.subscriptions.GetActive(r.Context(), userID)
	if errors.Is(err, subscription.ErrNoActiveSubscription) {
		httputil.WriteNotFoundError(w, "No active subscription found")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteSuccess(w, newSubscriptionResponse(sub))
}

func (h *SubscriptionHandlers) history(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	subs, err := h.subscriptions.History(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := make([]*subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		resp = append(resp, newSubscriptionResponse(sub))
	}
	_ = httputil.WriteSuccess(w, resp)
}

func (h *SubscriptionHandlers) plans(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, h.subscriptions.Plans())
}

func (h *SubscriptionHandlers) purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	userID, _ := middleware.UserID(r)
	sub, err := h.subscriptions.PurchasePlan(r.Context(), userID, req.Plan)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteSuccess(w, newSubscriptionResponse(sub))
}

func (h *SubscriptionHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	sub, err := h.subscriptions.CancelSubscription(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteSuccess(w, newSubscriptionResponse(sub))
}
