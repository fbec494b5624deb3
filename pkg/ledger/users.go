package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const userColumns = `id, email, name, avatar, hashed_password, google_id, credits, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u                                      User
		name, avatar, hashedPassword, googleID sql.NullString
	)
	err := row.Scan(&u.ID, &u.Email, &name, &avatar, &hashedPassword, &googleID, &u.Credits, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.Avatar = avatar.String
	u.HashedPassword = hashedPassword.String
	u.GoogleID = googleID.String
	return &u, nil
}

// CreateUser inserts a user and fills in ID and timestamps
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	now := s.timestamp()
	query := `
		INSERT INTO users (email, name, avatar, hashed_password, google_id, credits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := s.queryRow(ctx, query,
		user.Email,
		nullString(user.Name),
		nullString(user.Avatar),
		nullString(user.HashedPassword),
		nullString(user.GoogleID),
		user.Credits,
		now,
		now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *SQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.getUserBy(ctx, "id", id, false)
}

// LockUser retrieves a user and, inside a Postgres transaction, holds a row lock
// on it until the transaction ends. Balance-changing flows call it first so that
// concurrent requests for the same user run one after another.
func (s *SQLStore) LockUser(ctx context.Context, id int64) (*User, error) {
	return s.getUserBy(ctx, "id", id, true)
}

// GetUserByEmail retrieves a user by email address
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserBy(ctx, "email", email, false)
}

// GetUserByGoogleID retrieves a user by linked Google account ID
func (s *SQLStore) GetUserByGoogleID(ctx context.Context, googleID string) (*User, error) {
	return s.getUserBy(ctx, "google_id", googleID, false)
}

func (s *SQLStore) getUserBy(ctx context.Context, column string, value interface{}, forUpdate bool) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?` + s.lockClause(forUpdate)

	u, err := scanUser(s.queryRow(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s=%v: %w", column, value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// LinkGoogleAccount attaches a Google identity to an existing user. The avatar is
// only replaced when a new one is supplied.
func (s *SQLStore) LinkGoogleAccount(ctx context.Context, userID int64, googleID, avatar string) error {
	query := `
		UPDATE users
		SET google_id = ?, avatar = COALESCE(?, avatar), updated_at = ?
		WHERE id = ?`

	res, err := s.exec(ctx, query, googleID, nullString(avatar), s.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("failed to link google account: %w", mapError(err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// AdjustCredits applies a signed delta to a user's balance in a single statement.
// Debits are guarded so the balance can never go negative.
func (s *SQLStore) AdjustCredits(ctx context.Context, userID int64, delta Money) error {
	var (
		res sql.Result
		err error
	)
	if delta >= 0 {
		res, err = s.exec(ctx, `
			UPDATE users SET credits = credits + ?, updated_at = ?
			WHERE id = ?`, delta, s.timestamp(), userID)
	} else {
		res, err = s.exec(ctx, `
			UPDATE users SET credits = credits - ?, updated_at = ?
			WHERE id = ? AND credits >= ?`, -delta, s.timestamp(), userID, -delta)
	}
	if err != nil {
		return fmt.Errorf("failed to adjust credits: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either the user is missing or the debit guard tripped
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	return ErrInsufficientCredits
}
