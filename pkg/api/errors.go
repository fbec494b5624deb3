package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/quotagate/pkg/httputil"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/predict"
)

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	if errors.Is(err, predict.ErrQuotaExceeded) {
		return http.StatusForbidden
	}
	switch ledger.KindOf(err) {
	case ledger.ErrValidation, ledger.ErrStateConflict:
		return http.StatusBadRequest
	case ledger.ErrSecurity:
		return http.StatusUnauthorized
	case ledger.ErrNotFound:
		return http.StatusNotFound
	case ledger.ErrUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err to the client. Unclassified errors are logged
// and hidden behind a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context(), logger).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("Request failed")
		httputil.WriteInternalError(w)
		return
	}

	message := ledger.Message(err)
	if message == "" {
		message = err.Error()
	}
	if status == http.StatusUnauthorized {
		httputil.WriteUnauthorized(w, message)
		return
	}
	httputil.WriteErrorMessage(w, status, message)
}
