package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/signature"
)

// MoMoClient creates MoMo captureWallet payments for wallet top-ups
type MoMoClient struct {
	store      ledger.Store
	cfg        Config
	signer     *signature.Signer
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// Option configures a MoMoClient
type Option func(*MoMoClient)

// WithHTTPClient replaces the HTTP client used to reach MoMo
func WithHTTPClient(client *http.Client) Option {
	return func(c *MoMoClient) { c.httpClient = client }
}

// WithLogger sets the client logger
func WithLogger(logger *observability.Logger) Option {
	return func(c *MoMoClient) { c.logger = logger }
}

// WithMetrics sets the metrics the client records into
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *MoMoClient) { c.metrics = metrics }
}

// NewMoMoClient creates a MoMo client. Zero MinTopup and Timeout fall back to
// DefaultMinTopup and DefaultTimeout.
func NewMoMoClient(store ledger.Store, cfg Config, opts ...Option) *MoMoClient {
	if cfg.MinTopup <= 0 {
		cfg.MinTopup = DefaultMinTopup
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &MoMoClient{
		store:  store,
		cfg:    cfg,
		signer: signature.NewSigner(cfg.SecretKey),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	c.logger = c.logger.OrDefault()
	if c.metrics == nil {
		c.metrics = observability.NewNopMetrics()
	}
	return c
}

// CreateTopup starts a top-up of amount for userID and returns the payment link.
//
// The pending transaction is written before MoMo is called. If MoMo cannot be
// reached, times out or answers 5xx the row stays pending and
// ErrGatewayUnavailable is returned. A non-zero resultCode or a 4xx status is a
// definitive refusal: the row is marked failed and ErrProviderRejected is
// returned. Nothing is retried.
func (c *MoMoClient) CreateTopup(ctx context.Context, userID int64, amount ledger.Money) (res *TopupResult, err error) {
	if amount < c.cfg.MinTopup {
		c.metrics.TopupsTotal.WithLabelValues("invalid").Inc()
		return nil, ledger.Detailf(ErrAmountTooSmall, "Minimum topup amount is %d VND", int64(c.cfg.MinTopup))
	}

	ctx, span := observability.Tracer().Start(ctx, "payment.create_topup")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	orderID := fmt.Sprintf("TOPUP_%d_%s", userID, newHexID()[:8])
	requestID := "REQ_" + newHexID()
	orderInfo := fmt.Sprintf("Topup %d VND", int64(amount))
	span.SetAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("payment.amount", int64(amount)),
		attribute.String("payment.request_id", requestID),
	)

	txn := &ledger.Transaction{
		UserID:            userID,
		Amount:            amount,
		Type:              ledger.TransactionTopup,
		Status:            ledger.TransactionPending,
		ProviderRequestID: requestID,
		Description:       orderInfo,
	}
	if err := c.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	req := &createRequest{
		PartnerCode: c.cfg.PartnerCode,
		AccessKey:   c.cfg.AccessKey,
		RequestID:   requestID,
		Amount:      amount,
		OrderID:     orderID,
		OrderInfo:   orderInfo,
		RedirectURL: c.cfg.RedirectURL,
		IPNURL:      c.cfg.IPNURL,
		ExtraData:   "",
		RequestType: requestTypeCaptureWallet,
		Lang:        langVietnamese,
	}
	req.Signature = c.signer.SignFields(signature.CreateRequestFields, req.signatureValues())

	logger := c.logger.WithFields(map[string]interface{}{
		"user_id":    userID,
		"amount":     int64(amount),
		"order_id":   orderID,
		"request_id": requestID,
	})

	resp, err := c.post(ctx, req)
	var status *statusError
	switch {
	case errors.As(err, &status) && status.definitive():
		logger.WithError(err).Error("MoMo refused create payment")
		return nil, c.reject(ctx, txn, fmt.Sprintf("HTTP %d", status.code))
	case err != nil:
		c.metrics.TopupsTotal.WithLabelValues("unavailable").Inc()
		logger.WithError(err).Error("MoMo create payment failed, top-up left pending")
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if resp.ResultCode != 0 {
		logger.WithFields(map[string]interface{}{
			"result_code": resp.ResultCode,
			"message":     resp.Message,
		}).Error("MoMo rejected create payment")
		return nil, c.reject(ctx, txn, resp.Message)
	}

	c.metrics.TopupsTotal.WithLabelValues("created").Inc()
	logger.WithField("transaction_id", txn.ID).Info("Top-up created")

	return &TopupResult{
		PayURL:    resp.PayURL,
		QRCodeURL: resp.QRCodeURL,
		RequestID: requestID,
		OrderID:   orderID,
	}, nil
}

// reject marks the pending row failed and returns ErrProviderRejected
func (c *MoMoClient) reject(ctx context.Context, txn *ledger.Transaction, reason string) error {
	c.metrics.TopupsTotal.WithLabelValues("rejected").Inc()
	if _, err := c.store.TransitionTransaction(ctx, txn.ID, ledger.TransactionPending, ledger.TransactionFailed, ""); err != nil {
		return fmt.Errorf("failed to mark rejected top-up %d: %w", txn.ID, err)
	}
	return ledger.Detailf(ErrProviderRejected, "MoMo error: %s", reason)
}

// statusError is a non-2xx reply from MoMo
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("MoMo returned HTTP %d: %s", e.code, e.body)
}

// definitive reports whether MoMo refused the request for good. 408 and 429
// may succeed later, so those rows stay pending.
func (e *statusError) definitive() bool {
	if e.code == http.StatusRequestTimeout || e.code == http.StatusTooManyRequests {
		return false
	}
	return e.code >= 400 && e.code < 500
}

// post sends a create request. Any transport failure, non-2xx status or
// undecodable body is returned as an error.
func (c *MoMoClient) post(ctx context.Context, req *createRequest) (*createResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	c.metrics.ProviderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &statusError{code: httpResp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	var resp createResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode MoMo response: %w", err)
	}
	return &resp, nil
}

// newHexID returns a random UUID as 32 hex characters
func newHexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
