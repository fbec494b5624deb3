package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/quotagate/pkg/auth"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/ledger/ledgertest"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/payment"
	"github.com/platinummonkey/quotagate/pkg/predict"
	"github.com/platinummonkey/quotagate/pkg/settlement"
	"github.com/platinummonkey/quotagate/pkg/subscription"
)

const testAppURL = "http://localhost:3000/fe"

// stubClassifier returns a fixed result and counts calls
type stubClassifier struct {
	calls  atomic.Int32
	result *predict.Result
	err    error
}

func (c *stubClassifier) Predict(ctx context.Context, image []byte, threshold float64) (*predict.Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

type testEnv struct {
	store      *ledger.SQLStore
	server     *Server
	momo       *httptest.Server
	momoCfg    payment.Config
	classifier *stubClassifier
	registry   *prometheus.Registry
}

// newTestEnv wires the real services over a SQLite ledger, a fake MoMo
// endpoint that accepts every payment and a stub classifier
func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	nop := observability.NopLogger()
	store := ledgertest.NewStore(t)

	momo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"resultCode":0,"message":"Successful.","payUrl":"https://test-payment.momo.vn/pay/1","qrCodeUrl":"momo://pay/1"}`)
	}))
	t.Cleanup(momo.Close)
	momoCfg := payment.Config{
		PartnerCode: "MOMO",
		AccessKey:   "F8BBA842ECF85",
		SecretKey:   "K951B6PE1waDMi640xX08PD3vg6EkVlz",
		Endpoint:    momo.URL,
		RedirectURL: "http://localhost:8000/api/payment/success",
		IPNURL:      "http://localhost:8000/api/payment/momo/ipn",
		MinTopup:    payment.DefaultMinTopup,
	}

	catalogue, err := subscription.NewCatalogue(
		subscription.PlanSpec{Plan: ledger.PlanFree, Quota: 100},
		subscription.PlanSpec{Plan: ledger.PlanPlus, Quota: 5000, Price: 99000},
		subscription.PlanSpec{Plan: ledger.PlanPro, Quota: 999999, Price: 299000},
	)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	engine := subscription.NewEngine(store, catalogue, subscription.WithLogger(nop))
	accounts := auth.NewService(store, engine, auth.NewBcryptHasher(bcrypt.MinCost), auth.NewTokenManager([]byte("api-test-secret"), 0), auth.WithLogger(nop))
	classifier := &stubClassifier{result: &predict.Result{
		Classes:       predict.DefaultClasses,
		Probabilities: []float64{0.9, 0.1, 0.6, 0.2},
		Active:        []string{"0", "2"},
	}}
	predictor := predict.NewService(engine, store, classifier, predict.WithLogger(nop))
	t.Cleanup(predictor.Wait)

	cfg := Config{
		AppName:  "Dangerous Objects AI API",
		Version:  "2.0.0",
		AppURL:   testAppURL,
		Health:   observability.NewHealthChecker(store.DB(), nil, "2.0.0"),
		Gatherer: registry,
		Metrics:  metrics,
		Logger:   nop,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	server := NewServer(cfg, Services{
		Accounts:      accounts,
		Subscriptions: engine,
		Payments:      payment.NewMoMoClient(store, momoCfg, payment.WithLogger(nop)),
		Webhooks:      settlement.NewProcessor(store, momoCfg, settlement.WithLogger(nop)),
		Predictor:     predictor,
		Transactions:  store,
	})

	return &testEnv{
		store:      store,
		server:     server,
		momo:       momo,
		momoCfg:    momoCfg,
		classifier: classifier,
		registry:   registry,
	}
}

// do sends a request through the full middleware stack. body is encoded as
// JSON unless it is already a []byte.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

// register creates an account and returns its token and user
func (e *testEnv) register(t *testing.T, email string) (string, *ledger.User) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", credentialsRequest{Email: email, Password: "secret1"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var token auth.Token
	decode(t, rec, &token)
	user, err := e.store.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	return token.AccessToken, user
}

func (e *testEnv) fund(t *testing.T, userID int64, amount ledger.Money) {
	t.Helper()
	require.NoError(t, e.store.AdjustCredits(context.Background(), userID, amount))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	decode(t, rec, &body)
	return body.Detail
}

func TestServer_Info(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info infoResponse
	decode(t, rec, &info)
	assert.Equal(t, "Dangerous Objects AI API", info.App)
	assert.Equal(t, "2.0.0", info.Version)
	assert.Equal(t, "ok", info.Status)
	assert.Equal(t, "/api/v1", info.Endpoints["prediction"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quotagate_http_requests_total")
}

func TestServer_ProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/subscription/current"},
		{http.MethodGet, "/api/subscription/history"},
		{http.MethodGet, "/api/subscription/plans"},
		{http.MethodPost, "/api/subscription/purchase"},
		{http.MethodPost, "/api/subscription/cancel"},
		{http.MethodPost, "/api/payment/topup"},
		{http.MethodGet, "/api/payment/transactions"},
		{http.MethodPost, "/api/v1/predict"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := env.do(t, route.method, route.path, nil, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Not authenticated", detail(t, rec))

			rec = env.do(t, route.method, route.path, nil, "not-a-jwt")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Invalid or expired token", detail(t, rec))
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/auth/login", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.CORSOrigins = []string{"http://localhost:3000"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
