package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quotagate/pkg/httputil"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/middleware"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/payment"
	"github.com/platinummonkey/quotagate/pkg/settlement"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 100
	maxWebhookBytes         = 64 << 10
)

// PaymentHandlers handles top-up HTTP requests and MoMo callbacks
type PaymentHandlers struct {
	payments     TopupCreator
	webhooks     WebhookProcessor
	transactions TransactionLister
	appURL       string
	logger       *observability.Logger
}

// NewPaymentHandlers creates new payment handlers
func NewPaymentHandlers(payments TopupCreator, webhooks WebhookProcessor, transactions TransactionLister, appURL string, logger *observability.Logger) *PaymentHandlers {
	return &PaymentHandlers{
		payments:     payments,
		webhooks:     webhooks,
		transactions: transactions,
		appURL:       strings.TrimSuffix(appURL, "/"),
		logger:       logger.OrDefault(),
	}
}

// RegisterRoutes registers payment routes. limit wraps top-up creation.
func (h *PaymentHandlers) RegisterRoutes(public, protected *mux.Router, limit func(http.Handler) http.Handler) {
	public.Handle("/api/payment/momo/ipn", httputil.MaxBytesMiddleware(maxWebhookBytes)(http.HandlerFunc(h.ipn))).Methods(http.MethodPost)
	public.HandleFunc("/api/payment/success", h.successRedirect).Methods(http.MethodGet)

	protected.Handle("/api/payment/topup", limit(http.HandlerFunc(h.topup))).Methods(http.MethodPost)
	protected.HandleFunc("/api/payment/transactions", h.listTransactions).Methods(http.MethodGet)
}

type topupRequest struct {
	Amount int64 `json:"amount"`
}

func (h *PaymentHandlers) topup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	userID, _ := middleware.UserID(r)
	result, err := h.payments.CreateTopup(r.Context(), userID, ledger.Money(req.Amount))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// ipn answers every delivery with an acknowledgement body. Rejected deliveries
// get a 4xx, persistence failures a 5xx so that MoMo retries them.
func (h *PaymentHandlers) ipn(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		_ = httputil.WriteJSON(w, http.StatusBadRequest, &settlement.Acknowledgement{ResultCode: 1, Message: "Invalid JSON"})
		return
	}

	ack, err := h.webhooks.ProcessWebhook(r.Context(), body)
	switch {
	case err == nil:
		_ = httputil.WriteSuccess(w, ack)
	case errors.Is(err, payment.ErrMalformedPayload):
		_ = httputil.WriteJSON(w, http.StatusBadRequest, &settlement.Acknowledgement{ResultCode: 1, Message: "Invalid JSON"})
	case ledger.IsClientError(err):
		_ = httputil.WriteJSON(w, http.StatusBadRequest, &settlement.Acknowledgement{
			ResultCode: 1,
			Message:    "Validation failed: " + ledger.Message(err),
		})
	default:
		observability.FromContext(r.Context(), h.logger).WithError(err).Error("IPN processing failed")
		_ = httputil.WriteJSON(w, http.StatusInternalServerError, &settlement.Acknowledgement{ResultCode: 1, Message: "Processing failed"})
	}
}

// successRedirect sends the user back to the frontend after paying on MoMo
func (h *PaymentHandlers) successRedirect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	for _, key := range []string{"orderId", "requestId", "resultCode"} {
		if !httputil.RequireNonEmpty(w, query.Get(key), key) {
			return
		}
	}

	// parameter order is kept stable for the frontend
	var params []string
	for _, key := range []string{"orderId", "requestId", "resultCode", "amount", "transId", "message"} {
		if v := query.Get(key); v != "" {
			params = append(params, key+"="+url.QueryEscape(v))
		}
	}
	http.Redirect(w, r, h.appURL+"/payment/success?"+strings.Join(params, "&"), http.StatusFound)
}

func (h *PaymentHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultTransactionLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit < 1 || limit > maxTransactionLimit {
		httputil.WriteBadRequest(w, "limit must be between 1 and 100")
		return
	}

	userID, _ := middleware.UserID(r)
	txns, err := h.transactions.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if txns == nil {
		txns = []*ledger.Transaction{}
	}
	_ = httputil.WriteSuccess(w, txns)
}
