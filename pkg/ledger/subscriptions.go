package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const subscriptionColumns = `id, user_id, plan, status, monthly_quota, used_quota, expires_at, created_at, updated_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		sub       Subscription
		expiresAt sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.MonthlyQuota, &sub.UsedQuota, &expiresAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		sub.ExpiresAt = &t
	}
	return &sub, nil
}

// CreateSubscription inserts a subscription row. Status defaults to active.
func (s *SQLStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.Status == "" {
		sub.Status = SubscriptionActive
	}
	now := s.timestamp()
	query := `
		INSERT INTO subscriptions (user_id, plan, status, monthly_quota, used_quota, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := s.queryRow(ctx, query,
		sub.UserID,
		sub.Plan,
		sub.Status,
		sub.MonthlyQuota,
		sub.UsedQuota,
		nullTime(sub.ExpiresAt),
		now,
		now,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", mapError(err))
	}

	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

// CurrentSubscription returns the most recent active or cancelled subscription.
// With forUpdate inside a transaction the row is locked until commit.
func (s *SQLStore) CurrentSubscription(ctx context.Context, userID int64, forUpdate bool) (*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY id DESC
		LIMIT 1` + s.lockClause(forUpdate)

	sub, err := scanSubscription(s.queryRow(ctx, query, userID, SubscriptionActive, SubscriptionCancelled))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("current subscription for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns every subscription for a user, newest first
func (s *SQLStore) ListSubscriptions(ctx context.Context, userID int64) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY id DESC`

	rows, err := s.query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SetSubscriptionStatus moves a subscription to status `to` if it is currently in one
// of `from`. An empty `from` makes the update unconditional. It reports whether
// the row changed.
func (s *SQLStore) SetSubscriptionStatus(ctx context.Context, id int64, from []SubscriptionStatus, to SubscriptionStatus) (bool, error) {
	query := `UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?`
	args := []interface{}{to, s.timestamp(), id}
	if len(from) > 0 {
		query += ` AND status IN (` + placeholders(len(from)) + `)`
		for _, st := range from {
			args = append(args, st)
		}
	}

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update subscription status: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementUsage atomically adds n to used_quota
func (s *SQLStore) IncrementUsage(ctx context.Context, id int64, n int) error {
	query := `
		UPDATE subscriptions
		SET used_quota = used_quota + ?, updated_at = ?
		WHERE id = ?`

	res, err := s.exec(ctx, query, n, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	affected, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return nil
}
