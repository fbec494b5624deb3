package ledger

import (
	"context"
	"fmt"
	"time"
)

// RecordUsage appends a usage log entry
func (s *SQLStore) RecordUsage(ctx context.Context, entry *UsageLog) error {
	now := s.timestamp()
	query := `
		INSERT INTO usage_logs (user_id, endpoint, method, status_code, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := s.queryRow(ctx, query,
		entry.UserID,
		entry.Endpoint,
		entry.Method,
		entry.StatusCode,
		entry.ResponseTimeMs,
		now,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	entry.CreatedAt = now
	return nil
}

// UsageSince counts usage log entries for a user since the given time
func (s *SQLStore) UsageSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM usage_logs WHERE user_id = ? AND created_at >= ?`
	if err := s.queryRow(ctx, query, userID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}
