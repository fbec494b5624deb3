package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider implements OpenID Connect login against a discovered issuer
type OIDCProvider struct {
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// NewOIDCProvider discovers cfg.IssuerURL and creates a provider for it
func NewOIDCProvider(ctx context.Context, cfg Config) (*OIDCProvider, error) {
	httpClient := defaultHTTPClient()

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCProvider{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		httpClient: httpClient,
	}, nil
}

// AuthCodeURL returns the consent page URL
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange redeems code, verifies the ID token and returns its identity. The
// userinfo endpoint is consulted only when the token carries no email.
func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, authFailed("missing authorization code")
	}

	ctx = oidc.ClientContext(ctx, p.httpClient)
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, authFailed("failed to exchange token: %v", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, authFailed("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, authFailed("failed to verify ID token: %v", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, authFailed("failed to parse claims: %v", err)
	}

	identity := &Identity{
		ExternalID: idToken.Subject,
		Email:      getStringValue(claims, "email"),
		Name:       getStringValue(claims, "name"),
		AvatarURL:  getStringValue(claims, "picture"),
	}

	if identity.Email == "" {
		userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err == nil {
			var extra map[string]interface{}
			if err := userInfo.Claims(&extra); err == nil {
				identity.Email = getStringValue(extra, "email")
				if identity.Name == "" {
					identity.Name = getStringValue(extra, "name")
				}
				if identity.AvatarURL == "" {
					identity.AvatarURL = getStringValue(extra, "picture")
				}
			}
		}
	}

	if identity.ExternalID == "" {
		return nil, authFailed("missing user ID in OIDC token")
	}
	if identity.Email == "" {
		return nil, authFailed("missing email in OIDC token")
	}
	return identity, nil
}
