package predict

import "github.com/platinummonkey/quotagate/pkg/ledger"

var (
	ErrQuotaExceeded         = ledger.NewError(ledger.ErrStateConflict, "Quota exceeded")
	ErrInvalidThreshold      = ledger.NewError(ledger.ErrValidation, "Threshold must be in (0, 1)")
	ErrInvalidImage          = ledger.NewError(ledger.ErrValidation, "Invalid image format")
	ErrClassifierUnavailable = ledger.NewError(ledger.ErrUpstream, "Inference failed")
)
