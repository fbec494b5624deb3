// Package payment talks to the MoMo payment gateway.
//
// CreateTopup records a pending top-up in the ledger before it asks MoMo for a
// payment link, so every provider-side order has a local row the IPN callback
// can settle against:
//
//	client := payment.NewMoMoClient(store, cfg, payment.WithLogger(logger))
//	res, err := client.CreateTopup(ctx, userID, 50000)
//	// redirect the user to res.PayURL
//
// IPN callbacks are parsed with ParseNotification and settled by the
// settlement package.
package payment
