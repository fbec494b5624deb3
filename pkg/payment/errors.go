package payment

import "github.com/platinummonkey/quotagate/pkg/ledger"

var (
	ErrAmountTooSmall     = ledger.NewError(ledger.ErrValidation, "Minimum topup amount is 10,000 VND")
	ErrGatewayUnavailable = ledger.NewError(ledger.ErrUpstream, "Payment gateway unavailable")
	ErrProviderRejected   = ledger.NewError(ledger.ErrUpstream, "Payment rejected by MoMo")
	ErrMalformedPayload   = ledger.NewError(ledger.ErrValidation, "Invalid JSON")
)
