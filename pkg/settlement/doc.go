// Package settlement applies MoMo IPN callbacks to the ledger.
//
// A callback is settled at most once. The transaction row is the idempotency
// key: only a delivery that moves it out of pending through a conditional
// update credits the wallet, and the status change and the credit commit in
// the same database transaction. Repeated or concurrent deliveries of the same
// callback are acknowledged as successful without side effects.
package settlement
