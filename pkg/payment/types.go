package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

const (
	// DefaultMinTopup is the smallest top-up MoMo accepts
	DefaultMinTopup ledger.Money = 10000

	// DefaultTimeout bounds a create-payment call
	DefaultTimeout = 30 * time.Second

	requestTypeCaptureWallet = "captureWallet"
	langVietnamese           = "vi"
)

// Config holds MoMo partner credentials and endpoints
type Config struct {
	PartnerCode string        `yaml:"partner_code"`
	AccessKey   string        `yaml:"access_key"`
	SecretKey   string        `yaml:"secret_key"`
	Endpoint    string        `yaml:"endpoint"`
	RedirectURL string        `yaml:"redirect_url"`
	IPNURL      string        `yaml:"ipn_url"`
	MinTopup    ledger.Money  `yaml:"min_topup"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TopupResult is what the user needs to complete a top-up
type TopupResult struct {
	PayURL    string `json:"pay_url"`
	QRCodeURL string `json:"qr_code_url,omitempty"`
	RequestID string `json:"request_id"`
	OrderID   string `json:"order_id"`
}

type createRequest struct {
	PartnerCode string       `json:"partnerCode"`
	AccessKey   string       `json:"accessKey"`
	RequestID   string       `json:"requestId"`
	Amount      ledger.Money `json:"amount"`
	OrderID     string       `json:"orderId"`
	OrderInfo   string       `json:"orderInfo"`
	RedirectURL string       `json:"redirectUrl"`
	IPNURL      string       `json:"ipnUrl"`
	ExtraData   string       `json:"extraData"`
	RequestType string       `json:"requestType"`
	Signature   string       `json:"signature"`
	Lang        string       `json:"lang"`
}

func (r *createRequest) signatureValues() map[string]string {
	return map[string]string{
		"accessKey":   r.AccessKey,
		"amount":      fmt.Sprint(int64(r.Amount)),
		"extraData":   r.ExtraData,
		"ipnUrl":      r.IPNURL,
		"orderId":     r.OrderID,
		"orderInfo":   r.OrderInfo,
		"partnerCode": r.PartnerCode,
		"redirectUrl": r.RedirectURL,
		"requestId":   r.RequestID,
		"requestType": r.RequestType,
	}
}

type createResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
	QRCodeURL  string `json:"qrCodeUrl"`
}

// Notification is an IPN callback body. MoMo sends amount, transId, resultCode
// and responseTime as JSON numbers; they are kept as json.Number so the
// canonical string reproduces the digits MoMo signed.
type Notification struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	Amount       json.Number `json:"amount"`
	OrderInfo    string      `json:"orderInfo"`
	OrderType    string      `json:"orderType"`
	TransID      json.Number `json:"transId"`
	ResultCode   json.Number `json:"resultCode"`
	Message      string      `json:"message"`
	PayType      string      `json:"payType"`
	ResponseTime json.Number `json:"responseTime"`
	ExtraData    string      `json:"extraData"`
	Signature    string      `json:"signature"`
}

// ParseNotification decodes an IPN body
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, ledger.Detailf(ErrMalformedPayload, "Invalid JSON: %v", err)
	}
	return &n, nil
}

// Succeeded reports whether MoMo reported the payment as paid
func (n *Notification) Succeeded() bool {
	return strings.TrimSpace(n.ResultCode.String()) == "0"
}

// SignatureValues returns the fields MoMo signs. accessKey is not part of the
// callback body and comes from the partner configuration.
func (n *Notification) SignatureValues(accessKey string) map[string]string {
	return map[string]string{
		"accessKey":    accessKey,
		"amount":       n.Amount.String(),
		"extraData":    n.ExtraData,
		"message":      n.Message,
		"orderId":      n.OrderID,
		"orderInfo":    n.OrderInfo,
		"orderType":    n.OrderType,
		"partnerCode":  n.PartnerCode,
		"payType":      n.PayType,
		"requestId":    n.RequestID,
		"responseTime": n.ResponseTime.String(),
		"resultCode":   n.ResultCode.String(),
		"transId":      n.TransID.String(),
	}
}
