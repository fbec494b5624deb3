package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quotagate/pkg/auth"
	"github.com/platinummonkey/quotagate/pkg/httputil"
	"github.com/platinummonkey/quotagate/pkg/ledger"
	"github.com/platinummonkey/quotagate/pkg/middleware"
	"github.com/platinummonkey/quotagate/pkg/observability"
	"github.com/platinummonkey/quotagate/pkg/sso"
)

const googleFailurePrefix = "Google authentication failed"

// AuthHandlers handles account HTTP requests
type AuthHandlers struct {
	accounts Accounts
	appURL   string
	logger   *observability.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(accounts Accounts, appURL string, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		accounts: accounts,
		appURL:   strings.TrimSuffix(appURL, "/"),
		logger:   logger.OrDefault(),
	}
}

// RegisterRoutes registers auth routes. limit wraps the credential endpoints.
func (h *AuthHandlers) RegisterRoutes(public, protected *mux.Router, limit func(http.Handler) http.Handler) {
	public.Handle("/api/auth/register", limit(http.HandlerFunc(h.register))).Methods(http.MethodPost)
	public.Handle("/api/auth/login", limit(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	public.HandleFunc("/api/auth/google", h.googleLogin).Methods(http.MethodPost)
	public.HandleFunc("/api/auth/google/callback", h.googleCallback).Methods(http.MethodGet)

	protected.HandleFunc("/api/auth/me", h.me).Methods(http.MethodGet)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleAuthRequest struct {
	Code string `json:"code"`
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeToken(w, r, http.StatusCreated, user)
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.writeToken(w, r, http.StatusOK, user)
}

// googleLogin exchanges an authorization code sent by an API client
func (h *AuthHandlers) googleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleAuthRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Code, "code") {
		return
	}

	user, err := h.accounts.GoogleLogin(r.Context(), req.Code)
	if err != nil {
		if !ledger.IsClientError(err) {
			writeServiceError(w, r, h.logger, err)
			return
		}
		message := ledger.Message(err)
		if !errors.Is(err, sso.ErrAuthenticationFailed) {
			message = googleFailurePrefix + ": " + message
		}
		httputil.WriteBadRequest(w, message)
		return
	}
	h.writeToken(w, r, http.StatusOK, user)
}

// googleCallback forwards the code from Google's redirect to the frontend
func (h *AuthHandlers) googleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if !httputil.RequireNonEmpty(w, code, "code") {
		return
	}
	http.Redirect(w, r, h.appURL+"/auth/callback?code="+url.QueryEscape(code), http.StatusFound)
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserID(r)
	user, err := h.accounts.CurrentUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	profile := auth.NewProfile(user)
	if profile.RecentPredictions, err = h.accounts.RecentUsage(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteSuccess(w, profile)
}

func (h *AuthHandlers) writeToken(w http.ResponseWriter, r *http.Request, status int, user *ledger.User) {
	token, err := h.accounts.IssueToken(user)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, status, token)
}
