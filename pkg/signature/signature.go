package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

// ErrInvalidSignature is returned when a supplied signature does not match
var ErrInvalidSignature = ledger.NewError(ledger.ErrSecurity, "invalid signature")

// CreateRequestFields is the canonical field order of a create-payment request
var CreateRequestFields = []string{
	"accessKey",
	"amount",
	"extraData",
	"ipnUrl",
	"orderId",
	"orderInfo",
	"partnerCode",
	"redirectUrl",
	"requestId",
	"requestType",
}

// IPNFields is the canonical field order of an IPN callback
var IPNFields = []string{
	"accessKey",
	"amount",
	"extraData",
	"message",
	"orderId",
	"orderInfo",
	"orderType",
	"partnerCode",
	"payType",
	"requestId",
	"responseTime",
	"resultCode",
	"transId",
}

// Field is one key=value pair of a canonical string
type Field struct {
	Key   string
	Value string
}

// Fields arranges values in the given order. Keys absent from values are emitted
// with an empty value.
func Fields(order []string, values map[string]string) []Field {
	fields := make([]Field, len(order))
	for i, key := range order {
		fields[i] = Field{Key: key, Value: values[key]}
	}
	return fields
}

// CanonicalString joins fields as key=value pairs separated by '&'. Values are not
// escaped.
func CanonicalString(fields []Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	return b.String()
}

// Signer signs and verifies canonical strings with a shared secret
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the given secret key
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex-encoded HMAC-SHA256 of canonical
func (s *Signer) Sign(canonical string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks supplied against the signature of canonical
func (s *Signer) Verify(canonical, supplied string) error {
	expected := s.Sign(canonical)
	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return ErrInvalidSignature
	}
	return nil
}

// SignFields signs values laid out in order
func (s *Signer) SignFields(order []string, values map[string]string) string {
	return s.Sign(CanonicalString(Fields(order, values)))
}

// VerifyFields verifies supplied against values laid out in order
func (s *Signer) VerifyFields(order []string, values map[string]string, supplied string) error {
	return s.Verify(CanonicalString(Fields(order, values)), supplied)
}
