package sso

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/quotagate/pkg/ledger"
)

// IdentityProvider turns an authorization code into a verified identity
type IdentityProvider interface {
	// AuthCodeURL returns the consent page URL for state
	AuthCodeURL(state string) string

	// Exchange redeems code and returns the user's identity
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// NewProvider creates an OIDC provider when cfg.IssuerURL is set and an OAuth2
// userinfo provider otherwise
func NewProvider(ctx context.Context, cfg Config) (IdentityProvider, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sso config: %w", err)
	}
	if cfg.IssuerURL != "" {
		return NewOIDCProvider(ctx, cfg)
	}
	return NewOAuth2Provider(cfg)
}

// defaultHTTPClient traces outbound identity provider calls
func defaultHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// withClient makes the oauth2 package use client for token and userinfo calls
func withClient(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func authFailed(format string, args ...interface{}) error {
	return ledger.Detailf(ErrAuthenticationFailed, "Google authentication failed: "+format, args...)
}

func getStringValue(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
