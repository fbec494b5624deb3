package sso

import (
	"fmt"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

// Google endpoints
const (
	GoogleIssuerURL   = "https://accounts.google.com"
	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

var (
	ErrAuthenticationFailed = ledger.NewError(ledger.ErrValidation, "Google authentication failed")
	ErrNotConfigured        = ledger.NewError(ledger.ErrValidation, "Google login is not configured")
)

// Identity is the profile an identity provider vouches for
type Identity struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// Config holds OAuth client settings. IssuerURL selects OIDC discovery;
// without it AuthURL, TokenURL and UserInfoURL are used directly.
type Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	IssuerURL    string   `yaml:"issuer_url"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"user_info_url"`
	Scopes       []string `yaml:"scopes"`
}

// GoogleConfig returns a userinfo-based Google configuration
func GoogleConfig(clientID, clientSecret, redirectURL string) Config {
	return Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      GoogleAuthURL,
		TokenURL:     GoogleTokenURL,
		UserInfoURL:  GoogleUserInfoURL,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

// Enabled reports whether a client has been configured
func (c Config) Enabled() bool {
	return c.ClientID != ""
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(c.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}
	if c.IssuerURL != "" {
		for _, scope := range c.Scopes {
			if scope == "openid" {
				return nil
			}
		}
		return fmt.Errorf("'openid' scope is required for OIDC")
	}
	if c.AuthURL == "" {
		return fmt.Errorf("auth_url is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("token_url is required")
	}
	if c.UserInfoURL == "" {
		return fmt.Errorf("user_info_url is required")
	}
	return nil
}
