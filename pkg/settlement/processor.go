package settlement

import (
	"bytes"
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/payment"
	"github.com/platinummonkey/quotagate/pkg/signature"
)

// Processor verifies IPN callbacks and settles the top-ups they refer to
type Processor struct {
	store     ledger.Store
	signer    *signature.Signer
	accessKey string
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the processor logger
func WithLogger(logger *observability.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithMetrics sets the metrics the processor records into
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = metrics }
}

// NewProcessor creates a processor that trusts callbacks signed with cfg.SecretKey
func NewProcessor(store ledger.Store, cfg payment.Config, opts ...Option) *Processor {
	p := &Processor{
		store:     store,
		signer:    signature.NewSigner(cfg.SecretKey),
		accessKey: cfg.AccessKey,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.OrDefault()
	if p.metrics == nil {
		p.metrics = observability.NewNopMetrics()
	}
	return p
}

// ProcessWebhook handles one IPN delivery.
//
// An empty body is a readiness probe. A payload that fails to parse, carries a
// bad signature or names an unknown request is rejected with an error and
// changes nothing. Any other error is a persistence failure and the delivery
// should be retried by MoMo.
func (p *Processor) ProcessWebhook(ctx context.Context, body []byte) (ack *Acknowledgement, err error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return &Acknowledgement{ResultCode: 0, Message: ackReady}, nil
	}

	n, err := payment.ParseNotification(body)
	if err != nil {
		p.metrics.WebhooksTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}

	logger := observability.FromContext(ctx, p.logger).WithFields(map[string]interface{}{
		"request_id":  n.RequestID,
		"order_id":    n.OrderID,
		"result_code": n.ResultCode.String(),
	})

	if err := p.signer.VerifyFields(signature.IPNFields, n.SignatureValues(p.accessKey), n.Signature); err != nil {
		p.metrics.WebhooksTotal.WithLabelValues("invalid_signature").Inc()
		logger.Warn("IPN signature mismatch, possible tampering")
		return nil, ledger.Detailf(err, "Invalid IPN signature")
	}

	ctx, span := observability.Tracer().Start(ctx, "settlement.process_webhook")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("payment.request_id", n.RequestID),
		attribute.String("payment.result_code", n.ResultCode.String()),
	)

	txn, err := p.store.GetTransactionByRequestID(ctx, n.RequestID)
	if ledger.IsNotFound(err) {
		p.metrics.WebhooksTotal.WithLabelValues("not_found").Inc()
		logger.Warn("IPN for unknown transaction")
		return nil, ledger.Detailf(ErrTransactionNotFound, "Transaction not found for request_id: %s", n.RequestID)
	}
	if err != nil {
		p.metrics.WebhooksTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	logger = logger.WithFields(map[string]interface{}{
		"transaction_id": txn.ID,
		"user_id":        txn.UserID,
	})

	if txn.Status != ledger.TransactionPending {
		p.metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
		logger.WithField("status", txn.Status).Info("IPN for already settled transaction ignored")
		return acknowledge(n, true), nil
	}

	if !n.Succeeded() {
		if _, err := p.store.TransitionTransaction(ctx, txn.ID, ledger.TransactionPending, ledger.TransactionFailed, ""); err != nil {
			p.metrics.WebhooksTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		p.metrics.WebhooksTotal.WithLabelValues("failed").Inc()
		logger.WithField("message", n.Message).Info("Top-up failed")
		return acknowledge(n, false), nil
	}

	var applied bool
	err = p.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		applied, err = tx.TransitionTransaction(ctx, txn.ID, ledger.TransactionPending, ledger.TransactionSuccess, n.TransID.String())
		if err != nil || !applied {
			return err
		}
		if err := tx.AdjustCredits(ctx, txn.UserID, txn.Amount); err != nil {
			return fmt.Errorf("failed to credit user %d: %w", txn.UserID, err)
		}
		return nil
	})
	if err != nil {
		p.metrics.WebhooksTotal.WithLabelValues("error").Inc()
		logger.WithError(err).Error("Failed to settle top-up")
		return nil, err
	}

	if !applied {
		p.metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
		logger.Info("Concurrent IPN delivery already settled transaction")
		return acknowledge(n, true), nil
	}

	p.metrics.WebhooksTotal.WithLabelValues("settled").Inc()
	p.metrics.CreditsSettledTotal.Add(float64(txn.Amount))
	logger.WithFields(map[string]interface{}{
		"amount":   int64(txn.Amount),
		"trans_id": n.TransID.String(),
	}).Info("Top-up settled")
	return acknowledge(n, true), nil
}

func acknowledge(n *payment.Notification, ok bool) *Acknowledgement {
	ack := &Acknowledgement{
		PartnerCode: n.PartnerCode,
		RequestID:   n.RequestID,
		OrderID:     n.OrderID,
		ResultCode:  0,
		Message:     ackSuccess,
	}
	if !ok {
		ack.ResultCode = 1
		ack.Message = ackFailed
	}
	return ack
}
