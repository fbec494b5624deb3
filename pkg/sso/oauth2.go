package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuth2Provider exchanges codes at a token endpoint and reads the profile from
// a userinfo endpoint shaped like Google's v2 userinfo (id, email, name, picture)
type OAuth2Provider struct {
	config       Config
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// NewOAuth2Provider creates an OAuth2 provider
func NewOAuth2Provider(cfg Config) (*OAuth2Provider, error) {
	if cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("user_info_url is required")
	}
	return &OAuth2Provider{
		config: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		httpClient: defaultHTTPClient(),
	}, nil
}

// AuthCodeURL returns the consent page URL
func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange redeems code and fetches the user's profile
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, authFailed("missing authorization code")
	}

	ctx = withClient(ctx, p.httpClient)
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, authFailed("failed to exchange token: %v", err)
	}

	resp, err := p.oauth2Config.Client(ctx, token).Get(p.config.UserInfoURL)
	if err != nil {
		return nil, authFailed("failed to fetch user info: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, authFailed("user info request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, authFailed("failed to decode user info: %v", err)
	}

	identity := &Identity{
		ExternalID: getStringValue(userInfo, "id"),
		Email:      getStringValue(userInfo, "email"),
		Name:       getStringValue(userInfo, "name"),
		AvatarURL:  getStringValue(userInfo, "picture"),
	}
	if identity.ExternalID == "" {
		identity.ExternalID = getStringValue(userInfo, "sub")
	}
	if identity.ExternalID == "" {
		return nil, authFailed("missing user ID in user info")
	}
	if identity.Email == "" {
		return nil, authFailed("missing email in user info")
	}
	return identity, nil
}
