package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeTokens accepts exactly one token
type fakeTokens struct {
	token  string
	userID int64
}

func (f fakeTokens) Authenticate(token string) (int64, error) {
	if token != f.token {
		return 0, errors.New("invalid token")
	}
	return f.userID, nil
}

func TestAuthMiddleware(t *testing.T) {
	tokens := fakeTokens{token: "good-token", userID: 42}

	tests := []struct {
		name       string
		optional   bool
		header     string
		wantStatus int
		wantUser   int64
		wantDetail string
	}{
		{"valid token", false, "Bearer good-token", http.StatusOK, 42, ""},
		{"lowercase scheme", false, "bearer good-token", http.StatusOK, 42, ""},
		{"missing header", false, "", http.StatusUnauthorized, 0, "Not authenticated"},
		{"wrong scheme", false, "Basic dXNlcjpwYXNz", http.StatusUnauthorized, 0, "Not authenticated"},
		{"empty token", false, "Bearer ", http.StatusUnauthorized, 0, "Not authenticated"},
		{"invalid token", false, "Bearer bad-token", http.StatusUnauthorized, 0, "Invalid or expired token"},
		{"optional without header", true, "", http.StatusOK, 0, ""},
		{"optional with invalid token", true, "Bearer bad-token", http.StatusUnauthorized, 0, "Invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser int64
			handler := NewAuthMiddleware(tokens, tt.optional).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserID(r)
			}))

			req := httptest.NewRequest("GET", "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotUser != tt.wantUser {
				t.Errorf("user = %d, want %d", gotUser, tt.wantUser)
			}
			if tt.wantDetail != "" {
				want := `{"detail":"` + tt.wantDetail + `"}` + "\n"
				if w.Body.String() != want {
					t.Errorf("body = %q, want %q", w.Body.String(), want)
				}
				if w.Header().Get("WWW-Authenticate") != "Bearer" {
					t.Error("missing WWW-Authenticate challenge")
				}
			}
		})
	}
}
