// Package sso exchanges Google OAuth authorization codes for user identities.
//
// # Protocols
//
// OAuth2Provider performs the authorization code exchange and reads the
// profile from a userinfo endpoint. OIDCProvider discovers the issuer, verifies
// the returned ID token and reads the profile from its claims. NewProvider picks
// OIDC when an issuer URL is configured.
//
// # Usage Example
//
//	provider, err := sso.NewProvider(ctx, sso.GoogleConfig(clientID, clientSecret, redirectURL))
//	if err != nil {
//		return err
//	}
//	identity, err := provider.Exchange(ctx, code)
//
// Account linking and provisioning on first login live in pkg/auth.
package sso
