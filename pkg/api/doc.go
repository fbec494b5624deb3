// Package api provides the HTTP REST API server for quotagate.
//
// # Overview
//
// The API exposes accounts, subscriptions, MoMo top-ups and the metered
// prediction endpoint. It is built on gorilla/mux and organized into handler
// groups, each registering its own routes:
//
//   - AuthHandlers: register, login, Google login, current profile
//   - SubscriptionHandlers: current plan, history, catalogue, purchase, cancel
//   - PaymentHandlers: top-up creation, MoMo IPN webhook, payment redirect,
//     transaction history
//   - PredictHandlers: metered image classification
//
// # Usage
//
//	server := api.NewServer(api.Config{AppURL: cfg.Server.AppURL}, api.Services{
//		Accounts:      accounts,
//		Subscriptions: engine,
//		Payments:      momo,
//		Webhooks:      processor,
//		Predictor:     predictor,
//		Transactions:  store,
//	})
//	http.ListenAndServe(":8000", server)
//
// # Errors
//
// Every error response has the body {"detail": "..."}. Domain errors are mapped
// to a status code by their ledger kind: validation and state conflicts are 400,
// security failures 401, missing records 404 and upstream failures 502. An
// exhausted quota is 403. Anything unclassified is logged and reported as a
// generic 500.
//
// The MoMo IPN endpoint is the exception: it always answers with the
// acknowledgement shape MoMo expects, and only the status code reflects the
// failure class.
package api
