package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oidcServer is a minimal OpenID provider: discovery, JWKS, token and userinfo
type oidcServer struct {
	*httptest.Server
	key      *rsa.PrivateKey
	claims   jwt.MapClaims
	userInfo map[string]interface{}
}

func newOIDCServer(t *testing.T, claims jwt.MapClaims, userInfo map[string]interface{}) *oidcServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	s := &oidcServer{key: key, claims: claims, userInfo: userInfo}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"issuer":                                s.URL,
			"authorization_endpoint":                s.URL + "/auth",
			"token_endpoint":                        s.URL + "/token",
			"jwks_uri":                              s.URL + "/keys",
			"userinfo_endpoint":                     s.URL + "/userinfo",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"kid": "test-key",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		claims := jwt.MapClaims{
			"iss": s.URL,
			"aud": "client-id",
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		for k, v := range s.claims {
			claims[k] = v
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = "test-key"
		idToken, err := token.SignedString(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"access_token": "at-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.userInfo)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func oidcConfig(issuer string) Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8000/api/auth/google/callback",
		IssuerURL:    issuer,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

func TestOIDCProvider_Exchange(t *testing.T) {
	srv := newOIDCServer(t, jwt.MapClaims{
		"sub":     "109876543210",
		"email":   "an@example.com",
		"name":    "An Nguyen",
		"picture": "https://lh3.googleusercontent.com/a/avatar",
	}, nil)

	provider, err := NewProvider(context.Background(), oidcConfig(srv.URL))
	require.NoError(t, err)
	require.IsType(t, &OIDCProvider{}, provider)

	identity, err := provider.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "109876543210", identity.ExternalID)
	assert.Equal(t, "an@example.com", identity.Email)
	assert.Equal(t, "An Nguyen", identity.Name)
	assert.Equal(t, "https://lh3.googleusercontent.com/a/avatar", identity.AvatarURL)
}

func TestOIDCProvider_EmailFromUserInfo(t *testing.T) {
	srv := newOIDCServer(t, jwt.MapClaims{"sub": "42"}, map[string]interface{}{
		"sub":   "42",
		"email": "binh@example.com",
		"name":  "Binh",
	})

	provider, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL))
	require.NoError(t, err)

	identity, err := provider.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "binh@example.com", identity.Email)
	assert.Equal(t, "Binh", identity.Name)
}

func TestOIDCProvider_Failures(t *testing.T) {
	t.Run("wrong audience", func(t *testing.T) {
		srv := newOIDCServer(t, jwt.MapClaims{"sub": "1", "email": "a@example.com", "aud": "someone-else"}, nil)
		provider, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(context.Background(), "good-code")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("rejected code", func(t *testing.T) {
		srv := newOIDCServer(t, jwt.MapClaims{"sub": "1", "email": "a@example.com"}, nil)
		provider, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(context.Background(), "bad-code")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("discovery failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := NewOIDCProvider(context.Background(), oidcConfig(srv.URL))
		assert.Error(t, err)
	})
}
