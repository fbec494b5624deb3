package settlement

import "github.com/platinummonkey/quotagate/pkg/ledger"

var ErrTransactionNotFound = ledger.NewError(ledger.ErrNotFound, "Transaction not found")
