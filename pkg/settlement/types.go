package settlement

const (
	ackSuccess = "Success"
	ackFailed  = "Failed"
	ackReady   = "IPN endpoint is ready"
)

// Acknowledgement is the body returned to MoMo for an IPN delivery
type Acknowledgement struct {
	PartnerCode string `json:"partnerCode,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
}

// Succeeded reports whether the acknowledgement tells MoMo the delivery was accepted
func (a *Acknowledgement) Succeeded() bool {
	return a.ResultCode == 0
}
