package auth

import (
	"time"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

const (
	// MinPasswordLength is the shortest password accepted at registration
	MinPasswordLength = 6

	// DefaultTokenTTL is how long an access token stays valid
	DefaultTokenTTL = 7 * 24 * time.Hour

	// TokenTypeBearer is the token_type reported to clients
	TokenTypeBearer = "bearer"
)

var (
	ErrEmailTaken         = ledger.NewError(ledger.ErrStateConflict, "Email already registered")
	ErrInvalidEmail       = ledger.NewError(ledger.ErrValidation, "Invalid email address")
	ErrPasswordTooShort   = ledger.NewError(ledger.ErrValidation, "Password must be at least 6 characters")
	ErrInvalidCredentials = ledger.NewError(ledger.ErrSecurity, "Incorrect email or password")
	ErrInvalidToken       = ledger.NewError(ledger.ErrSecurity, "Invalid or expired token")
	ErrUserNotFound       = ledger.NewError(ledger.ErrNotFound, "User not found")
)

// Token is the response body of a successful login
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Profile is the public view of a user. RecentPredictions counts logged
// predictions over UsageWindow.
type Profile struct {
	ID                int64        `json:"id"`
	Email             string       `json:"email"`
	Name              *string      `json:"name"`
	Avatar            *string      `json:"avatar"`
	Credits           ledger.Money `json:"credits"`
	CreatedAt         time.Time    `json:"created_at"`
	RecentPredictions int          `json:"recent_predictions"`
}

// UsageWindow is the span RecentUsage counts over
const UsageWindow = 30 * 24 * time.Hour

// NewProfile builds the public view of user. Empty name and avatar are
// reported as null.
func NewProfile(user *ledger.User) *Profile {
	p := &Profile{
		ID:        user.ID,
		Email:     user.Email,
		Credits:   user.Credits,
		CreatedAt: user.CreatedAt,
	}
	if user.Name != "" {
		p.Name = &user.Name
	}
	if user.Avatar != "" {
		p.Avatar = &user.Avatar
	}
	return p
}
