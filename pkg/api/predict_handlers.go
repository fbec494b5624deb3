package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quotagate/pkg/httputil"
	"github.com/platinummonkey/quotagate/pkg/middleware"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/predict"
)

// PredictHandlers handles the metered prediction endpoint
type PredictHandlers struct {
	predictor Predictor
	maxBytes  int64
	logger    *observability.Logger
}

// NewPredictHandlers creates new prediction handlers. Uploads larger than
// maxBytes are rejected.
func NewPredictHandlers(predictor Predictor, maxBytes int64, logger *observability.Logger) *PredictHandlers {
	return &PredictHandlers{
		predictor: predictor,
		maxBytes:  maxBytes,
		logger:    logger.OrDefault(),
	}
}

// RegisterRoutes registers prediction routes
func (h *PredictHandlers) RegisterRoutes(protected *mux.Router) {
	protected.Handle("/api/v1/predict", httputil.MaxBytesMiddleware(h.maxBytes)(http.HandlerFunc(h.predict))).Methods(http.MethodPost)
}

// predict expects a multipart upload in the "file" field and an optional
// threshold query parameter
func (h *PredictHandlers) predict(w http.ResponseWriter, r *http.Request) {
	threshold, err := httputil.ParseQueryFloat(r, "threshold", predict.DefaultThreshold)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "Failed to read image")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		httputil.WriteBadRequest(w, "Failed to read image")
		return
	}

	userID, _ := middleware.UserID(r)
	prediction, err := h.predictor.Predict(r.Context(), userID, image, threshold)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteSuccess(w, prediction)
}
