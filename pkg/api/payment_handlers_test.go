package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/payment"
	"github.com/platinummonkey/quotagate/pkg/settlement"
	"github.com/platinummonkey/quotagate/pkg/signature"
)

// topup creates a pending top-up through the API and returns its result
func (e *testEnv) topup(t *testing.T, token string, amount int64) *payment.TopupResult {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/payment/topup", topupRequest{Amount: amount}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result payment.TopupResult
	decode(t, rec, &result)
	return &result
}

// ipnBody builds a signed IPN callback for a top-up
func (e *testEnv) ipnBody(t *testing.T, result *payment.TopupResult, amount int64, resultCode string) []byte {
	t.Helper()
	n := &payment.Notification{
		PartnerCode:  e.momoCfg.PartnerCode,
		OrderID:      result.OrderID,
		RequestID:    result.RequestID,
		Amount:       json.Number(strconv.FormatInt(amount, 10)),
		OrderInfo:    "Topup",
		OrderType:    "momo_wallet",
		TransID:      "4088878653",
		ResultCode:   json.Number(resultCode),
		Message:      "Successful.",
		PayType:      "qr",
		ResponseTime: "1721720663942",
	}
	n.Signature = signature.NewSigner(e.momoCfg.SecretKey).SignFields(signature.IPNFields, n.SignatureValues(e.momoCfg.AccessKey))
	body, err := json.Marshal(n)
	require.NoError(t, err)
	return body
}

func (e *testEnv) credits(t *testing.T, userID int64) ledger.Money {
	t.Helper()
	user, err := e.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return user.Credits
}

func TestPaymentHandlers_Topup(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")

	result := env.topup(t, token, 50000)
	assert.Equal(t, "https://test-payment.momo.vn/pay/1", result.PayURL)
	assert.Equal(t, "momo://pay/1", result.QRCodeURL)

	txn, err := env.store.GetTransactionByRequestID(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, txn.UserID)
	assert.Equal(t, ledger.TransactionPending, txn.Status)

	t.Run("below minimum", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/payment/topup", topupRequest{Amount: 9999}, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Minimum topup amount is 10000 VND", detail(t, rec))
	})
}

func TestPaymentHandlers_TopupGatewayDown(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "an@example.com")
	env.momo.Close()

	rec := env.do(t, http.MethodPost, "/api/payment/topup", topupRequest{Amount: 50000}, token)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Payment gateway unavailable", detail(t, rec))
}

func TestPaymentHandlers_IPN(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")
	result := env.topup(t, token, 50000)
	body := env.ipnBody(t, result, 50000, "0")

	rec := env.do(t, http.MethodPost, "/api/payment/momo/ipn", body, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ack settlement.Acknowledgement
	decode(t, rec, &ack)
	assert.Equal(t, settlement.Acknowledgement{
		PartnerCode: "MOMO",
		RequestID:   result.RequestID,
		OrderID:     result.OrderID,
		ResultCode:  0,
		Message:     "Success",
	}, ack)
	assert.Equal(t, ledger.Money(50000), env.credits(t, user.ID))

	// redelivery is acknowledged and credits nothing
	rec = env.do(t, http.MethodPost, "/api/payment/momo/ipn", body, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger.Money(50000), env.credits(t, user.ID))

	rec = env.do(t, http.MethodGet, "/api/payment/transactions", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var txns []ledger.Transaction
	decode(t, rec, &txns)
	require.Len(t, txns, 1)
	assert.Equal(t, ledger.TransactionSuccess, txns[0].Status)
	assert.Equal(t, "4088878653", txns[0].ProviderTransactionID)
}

func TestPaymentHandlers_IPNConcurrentDeliveries(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")
	body := env.ipnBody(t, env.topup(t, token, 50000), 50000, "0")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := env.do(t, http.MethodPost, "/api/payment/momo/ipn", body, "")
			assert.Equal(t, http.StatusOK, rec.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, ledger.Money(50000), env.credits(t, user.ID))
}

func TestPaymentHandlers_IPNRejections(t *testing.T) {
	env := newTestEnv(t)
	token, user := env.register(t, "an@example.com")
	result := env.topup(t, token, 50000)

	tampered := env.ipnBody(t, result, 50000, "1006")
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(tampered, &raw))
	raw["resultCode"] = 0
	tampered, _ = json.Marshal(raw)

	unknown := env.ipnBody(t, &payment.TopupResult{RequestID: "REQ_missing", OrderID: "TOPUP_x"}, 50000, "0")

	tests := []struct {
		name    string
		body    []byte
		status  int
		message string
	}{
		{"ready probe", []byte(""), http.StatusOK, "IPN endpoint is ready"},
		{"invalid json", []byte(`{"requestId":`), http.StatusBadRequest, "Invalid JSON"},
		{"tampered", tampered, http.StatusBadRequest, "Validation failed: Invalid IPN signature"},
		{"unknown request", unknown, http.StatusBadRequest, "Validation failed: Transaction not found for request_id: REQ_missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/payment/momo/ipn", tt.body, "")
			assert.Equal(t, tt.status, rec.Code)

			var ack settlement.Acknowledgement
			decode(t, rec, &ack)
			assert.Equal(t, tt.message, ack.Message)
		})
	}

	txn, err := env.store.GetTransactionByRequestID(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TransactionPending, txn.Status)
	assert.Equal(t, ledger.Money(0), env.credits(t, user.ID))
}

func TestPaymentHandlers_IPNPersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "an@example.com")
	body := env.ipnBody(t, env.topup(t, token, 50000), 50000, "0")
	require.NoError(t, env.store.Close())

	rec := env.do(t, http.MethodPost, "/api/payment/momo/ipn", body, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var ack settlement.Acknowledgement
	decode(t, rec, &ack)
	assert.Equal(t, 1, ack.ResultCode)
	assert.Equal(t, "Processing failed", ack.Message)
}

func TestPaymentHandlers_SuccessRedirect(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/payment/success?resultCode=0&orderId=TOPUP_1_ab&requestId=REQ_1&amount=50000&message=Th%C3%A0nh+c%C3%B4ng", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t,
		testAppURL+"/payment/success?orderId=TOPUP_1_ab&requestId=REQ_1&resultCode=0&amount=50000&message=Th%C3%A0nh+c%C3%B4ng",
		rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/api/payment/success?orderId=TOPUP_1_ab", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "requestId is required", detail(t, rec))
}

func TestPaymentHandlers_Transactions(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "an@example.com")

	rec := env.do(t, http.MethodGet, "/api/payment/transactions", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for i := 0; i < 3; i++ {
		env.topup(t, token, 10000)
	}
	rec = env.do(t, http.MethodGet, "/api/payment/transactions?limit=2", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var txns []ledger.Transaction
	decode(t, rec, &txns)
	assert.Len(t, txns, 2)

	for _, limit := range []string{"0", "101", "abc"} {
		rec = env.do(t, http.MethodGet, "/api/payment/transactions?limit="+limit, nil, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}
}
