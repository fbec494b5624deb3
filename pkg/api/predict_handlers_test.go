package api

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quotagate/pkg/auth"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/predict"
)

var testImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// predictRequest builds a multipart upload of image to the predict endpoint
func predictRequest(t *testing.T, query string, image []byte, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		part, err := mw.CreateFormFile("file", "image.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict"+query, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func (e *testEnv) predict(t *testing.T, query string, image []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, predictRequest(t, query, image, token))
	return rec
}

func (e *testEnv) usedQuota(t *testing.T, userID int64) int {
	t.Helper()
	sub, err := e.store.CurrentSubscription(context.Background(), userID, false)
	require.NoError(t, err)
	return sub.UsedQuota
}

func TestPredictHandlers_Predict(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")

	rec := env.predict(t, "?threshold=0.5", testImage, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var prediction predict.Prediction
	decode(t, rec, &prediction)
	assert.Equal(t, []string{"0", "1", "2", "3"}, prediction.Classes)
	assert.Equal(t, []string{"0", "2"}, prediction.Active)
	assert.Equal(t, 99, prediction.QuotaRemaining)
	assert.Equal(t, 1, env.usedQuota(t, user.ID))
}

func TestPredictHandlers_QuotaExhausted(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")

	sub, err := env.store.CurrentSubscription(context.Background(), user.ID, false)
	require.NoError(t, err)
	_, err = env.store.DB().Exec("UPDATE subscriptions SET used_quota = monthly_quota WHERE id = ?", sub.ID)
	require.NoError(t, err)

	rec := env.predict(t, "", testImage, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Quota exceeded", detail(t, rec))
	assert.Zero(t, env.classifier.calls.Load())
}

func TestPredictHandlers_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")

	tests := []struct {
		name   string
		query  string
		image  []byte
		detail string
	}{
		{"threshold out of range", "?threshold=1", testImage, "Threshold must be in (0, 1)"},
		{"threshold not a number", "?threshold=high", testImage, "invalid number for threshold: high"},
		{"missing file", "", nil, "Failed to read image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.predict(t, tt.query, tt.image, token)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.detail, detail(t, rec))
		})
	}
	assert.Zero(t, env.usedQuota(t, user.ID))
}

func TestPredictHandlers_ClassifierErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"invalid image", predict.ErrInvalidImage, http.StatusBadRequest, "Invalid image format"},
		{"model down", ledger.Detailf(predict.ErrClassifierUnavailable, "Inference failed: connection refused"), http.StatusBadGateway, "Inference failed: connection refused"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			token, user := env.register(t, "an@example.com")
			env.classifier.err = tt.err

			rec := env.predict(t, "", testImage, token)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.detail, detail(t, rec))
			assert.Zero(t, env.usedQuota(t, user.ID))
		})
	}
}

func TestPredictHandlers_UploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.MaxUploadBytes = 64 })
	token, _ := env.register(t, "an@example.com")

	rec := env.predict(t, "", bytes.Repeat(testImage, 32), token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.classifier.calls.Load())
}

func TestPredictHandlers_UsageLogged(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")
	since := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		rec := env.predict(t, "", testImage, token)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	env.server.predictHandlers.predictor.(*predict.Service).Wait()

	n, err := env.store.UsageSince(context.Background(), user.ID, since)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	me := env.do(t, http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, me.Code)
	var profile auth.Profile
	decode(t, me, &profile)
	assert.Equal(t, 3, profile.RecentPredictions)
}
