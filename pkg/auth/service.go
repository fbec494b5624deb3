package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/sso"
)

// FreeProvisioner creates the FREE subscription every new account starts with
type FreeProvisioner interface {
	ProvisionFree(ctx context.Context, store ledger.Store, userID int64) (*ledger.Subscription, error)
}

// Service manages accounts
type Service struct {
	store    ledger.Store
	plans    FreeProvisioner
	hasher   PasswordHasher
	tokens   *TokenManager
	identity sso.IdentityProvider
	logger   *observability.Logger
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithIdentityProvider enables Google login
func WithIdentityProvider(p sso.IdentityProvider) Option {
	return func(s *Service) { s.identity = p }
}

// WithClock sets the time source for usage windows
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates an account service
func NewService(store ledger.Store, plans FreeProvisioner, hasher PasswordHasher, tokens *TokenManager, opts ...Option) *Service {
	s := &Service{
		store:  store,
		plans:  plans,
		hasher: hasher,
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.OrDefault()
	return s
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Register creates a password account on the FREE plan
func (s *Service) Register(ctx context.Context, email, password string) (*ledger.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &ledger.User{Email: email, HashedPassword: hash}
	err = s.store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return ErrEmailTaken
			}
			return err
		}
		_, err := s.plans.ProvisionFree(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("User registered")
	return user, nil
}

// Login checks an email and password. Every mismatch, including an unknown
// email or a Google-only account, returns ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*ledger.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if ledger.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(password, user.HashedPassword) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GoogleLogin signs a user in with a Google authorization code. An account
// already linked to the Google ID is used as is; otherwise an account with the
// same email is linked; otherwise a new account is created on the FREE plan.
func (s *Service) GoogleLogin(ctx context.Context, code string) (*ledger.User, error) {
	if s.identity == nil {
		return nil, sso.ErrNotConfigured
	}

	identity, err := s.identity.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))

	var (
		user   *ledger.User
		action string
	)
	err = s.store.WithTx(ctx, func(tx ledger.Store) error {
		var err error
		user, err = tx.GetUserByGoogleID(ctx, identity.ExternalID)
		if err == nil {
			action = "login"
			return nil
		}
		if !ledger.IsNotFound(err) {
			return err
		}

		user, err = tx.GetUserByEmail(ctx, email)
		if err == nil {
			action = "linked"
			if err := tx.LinkGoogleAccount(ctx, user.ID, identity.ExternalID, identity.AvatarURL); err != nil {
				return err
			}
			user, err = tx.GetUser(ctx, user.ID)
			return err
		}
		if !ledger.IsNotFound(err) {
			return err
		}

		action = "created"
		user = &ledger.User{
			Email:    email,
			Name:     identity.Name,
			Avatar:   identity.AvatarURL,
			GoogleID: identity.ExternalID,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		_, err = s.plans.ProvisionFree(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"action":  action,
	}).Info("Google login")
	return user, nil
}

// IssueToken returns an access token for user
func (s *Service) IssueToken(user *ledger.User) (*Token, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: token, TokenType: TokenTypeBearer}, nil
}

// Authenticate validates an access token and returns its user ID
func (s *Service) Authenticate(token string) (int64, error) {
	return s.tokens.Parse(token)
}

// CurrentUser loads the user an access token was issued for
func (s *Service) CurrentUser(ctx context.Context, userID int64) (*ledger.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if ledger.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// RecentUsage counts the user's logged predictions over the last UsageWindow
func (s *Service) RecentUsage(ctx context.Context, userID int64) (int, error) {
	return s.store.UsageSince(ctx, userID, s.now().Add(-UsageWindow))
}
