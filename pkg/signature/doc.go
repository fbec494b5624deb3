// Package signature implements the MoMo request signing protocol.
//
// A signature is the hex-encoded HMAC-SHA256 of a canonical string. The canonical
// string joins key=value pairs with '&' in an order fixed by the provider contract.
// The order is neither alphabetical nor insertion order, and empty values are kept
// (for example "&extraData=&ipnUrl=...").
//
// Outbound create requests and inbound IPN callbacks use different field orders:
//
//	signer := signature.NewSigner(cfg.MoMo.SecretKey)
//	sig := signer.SignFields(signature.CreateRequestFields, map[string]string{
//		"accessKey": cfg.MoMo.AccessKey,
//		"amount":    "50000",
//		// ...
//	})
//
//	if err := signer.VerifyFields(signature.IPNFields, values, payload.Signature); err != nil {
//		// err wraps ErrInvalidSignature; do not touch the ledger
//	}
//
// Verify compares signatures in constant time.
package signature
