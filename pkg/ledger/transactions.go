package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const transactionColumns = `id, user_id, amount, type, status, provider_request_id, provider_transaction_id, description, created_at, updated_at`

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		txn                                  Transaction
		requestID, providerTxID, description sql.NullString
	)
	err := row.Scan(&txn.ID, &txn.UserID, &txn.Amount, &txn.Type, &txn.Status, &requestID, &providerTxID, &description, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	txn.ProviderRequestID = requestID.String
	txn.ProviderTransactionID = providerTxID.String
	txn.Description = description.String
	return &txn, nil
}

// CreateTransaction inserts a transaction row
func (s *SQLStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	if txn.Status == "" {
		txn.Status = TransactionPending
	}
	now := s.timestamp()
	query := `
		INSERT INTO transactions (user_id, amount, type, status, provider_request_id, provider_transaction_id, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := s.queryRow(ctx, query,
		txn.UserID,
		txn.Amount,
		txn.Type,
		txn.Status,
		nullString(txn.ProviderRequestID),
		nullString(txn.ProviderTransactionID),
		nullString(txn.Description),
		now,
		now,
	).Scan(&txn.ID)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", mapError(err))
	}

	txn.CreatedAt = now
	txn.UpdatedAt = now
	return nil
}

// GetTransactionByRequestID looks up a transaction by its provider request ID
func (s *SQLStore) GetTransactionByRequestID(ctx context.Context, requestID string) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE provider_request_id = ?`

	txn, err := scanTransaction(s.queryRow(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction request_id=%s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// ListTransactions returns a user's transactions, newest first
func (s *SQLStore) ListTransactions(ctx context.Context, userID int64, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`

	return s.listTransactions(ctx, query, userID, limit)
}

// TransitionTransaction moves a transaction from one status to another. The update
// only applies while the row is still in `from`, which makes it safe under
// concurrent callers: exactly one of them observes applied == true.
// providerTxID is recorded when non-empty.
func (s *SQLStore) TransitionTransaction(ctx context.Context, id int64, from, to TransactionStatus, providerTxID string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = ?, provider_transaction_id = COALESCE(?, provider_transaction_id), updated_at = ?
		WHERE id = ? AND status = ?`

	res, err := s.exec(ctx, query, to, nullString(providerTxID), s.timestamp(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition transaction: %w", mapError(err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// StalePendingTopups returns top-ups still pending that were created before olderThan
func (s *SQLStore) StalePendingTopups(ctx context.Context, olderThan time.Time) ([]*Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE type = ? AND status = ? AND created_at < ?
		ORDER BY id`

	return s.listTransactions(ctx, query, TransactionTopup, TransactionPending, olderThan.UTC())
}

func (s *SQLStore) listTransactions(ctx context.Context, query string, args ...interface{}) ([]*Transaction, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
