package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/liamwears/reelstream/internal/auth"
	"github.com/liamwears/reelstream/internal/middleware"
	"github.com/liamwears/reelstream/internal/models"
	"github.com/liamwears/reelstream/internal/services"
	"github.com/sirupsen/logrus"
)

// StateStore issues and consumes one-time OAuth state tokens
type StateStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, state string) (bool, error)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	CallbackHost       string
}

// oauthProfile is the subset of a provider's user info we keep
type oauthProfile struct {
	ID    string
	Email string
	Name  string
}

// oauthProvider is one configured sign-in provider
type oauthProvider struct {
	provider models.Provider
	config   *oauth2.Config
	opts     []oauth2.AuthCodeOption
	profile  func(ctx context.Context, client *http.Client) (*oauthProfile, error)
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	accountService *services.AccountService
	states         StateStore
	providers      map[string]*oauthProvider
	responder
}

// NewAuthHandler creates a new auth handler. Providers without a client ID
// are left out and their routes answer 404.
func NewAuthHandler(accountService *services.AccountService, states StateStore, cfg AuthConfig, logger *logrus.Entry, production bool) *AuthHandler {
	h := &AuthHandler{
		accountService: accountService,
		states:         states,
		providers:      map[string]*oauthProvider{},
		responder:      responder{logger: logger, production: production},
	}

	if cfg.GitHubClientID != "" {
		h.providers["github"] = &oauthProvider{
			provider: models.ProviderGitHub,
			config: &oauth2.Config{
				ClientID:     cfg.GitHubClientID,
				ClientSecret: cfg.GitHubClientSecret,
				RedirectURL:  fmt.Sprintf("%s/api/auth/github/callback", cfg.CallbackHost),
				Scopes:       []string{"user:email"},
				Endpoint:     github.Endpoint,
			},
			profile: githubProfile("https://api.github.com"),
		}
	}

	if cfg.GoogleClientID != "" {
		h.providers["google"] = &oauthProvider{
			provider: models.ProviderGoogle,
			config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				RedirectURL:  fmt.Sprintf("%s/api/auth/google/callback", cfg.CallbackHost),
				Scopes:       []string{"profile", "email"},
				Endpoint:     google.Endpoint,
			},
			opts:    []oauth2.AuthCodeOption{oauth2.AccessTypeOnline},
			profile: googleProfile("https://www.googleapis.com/oauth2/v2/userinfo"),
		}
	}

	for name, p := range h.providers {
		logger.WithFields(logrus.Fields{
			"provider":     name,
			"callback_url": p.config.RedirectURL,
		}).Debug("OAuth provider configured")
	}

	return h
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input models.RegisterInput
	if err := decodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.accountService.Register(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusCreated, resp)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input models.LoginInput
	if err := decodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}

	resp, err := h.accountService.Login(r.Context(), input)
	if errors.Is(err, auth.ErrUnauthorized) {
		h.json(w, http.StatusUnauthorized, errorBody{Error: "Invalid email or password"})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, resp)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accountService.Logout(r.Context(), middleware.IdentityFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	h.message(w, http.StatusOK, "Logged out successfully")
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.Me(r.Context(), middleware.IdentityFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, account)
}

// OAuthLogin handles GET /api/auth/{provider}/login
func (h *AuthHandler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers[r.PathValue("provider")]
	if !ok {
		h.json(w, http.StatusNotFound, errorBody{Error: "Unknown sign-in provider"})
		return
	}

	// Generate state token for CSRF protection
	state, err := h.states.Issue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	http.Redirect(w, r, p.config.AuthCodeURL(state, p.opts...), http.StatusTemporaryRedirect)
}

// OAuthCallback handles GET /api/auth/{provider}/callback
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers[r.PathValue("provider")]
	if !ok {
		h.json(w, http.StatusNotFound, errorBody{Error: "Unknown sign-in provider"})
		return
	}

	valid, err := h.states.Consume(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !valid {
		h.json(w, http.StatusBadRequest, errorBody{Error: "Invalid or expired OAuth state"})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.json(w, http.StatusBadRequest, errorBody{Error: "No code provided"})
		return
	}

	// Exchange code for token
	token, err := p.config.Exchange(r.Context(), code)
	if err != nil {
		h.logger.WithError(err).WithField("provider", p.provider).Warn("Failed to exchange OAuth code")
		h.json(w, http.StatusUnauthorized, errorBody{Error: "Failed to exchange code"})
		return
	}

	profile, err := p.profile(r.Context(), p.config.Client(r.Context(), token))
	if err != nil {
		h.fail(w, r, fmt.Errorf("fetch %s profile: %w", p.provider, err))
		return
	}

	resp, err := h.accountService.SignInWithProvider(r.Context(), p.provider, profile.ID, profile.Email, profile.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.json(w, http.StatusOK, resp)
}

func googleProfile(userInfoURL string) func(context.Context, *http.Client) (*oauthProfile, error) {
	return func(ctx context.Context, client *http.Client) (*oauthProfile, error) {
		var info struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := getJSON(ctx, client, userInfoURL, &info); err != nil {
			return nil, err
		}
		return &oauthProfile{ID: info.ID, Email: info.Email, Name: info.Name}, nil
	}
}

func githubProfile(apiBase string) func(context.Context, *http.Client) (*oauthProfile, error) {
	return func(ctx context.Context, client *http.Client) (*oauthProfile, error) {
		var info struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
			Login string `json:"login"`
		}
		if err := getJSON(ctx, client, apiBase+"/user", &info); err != nil {
			return nil, err
		}

		// GitHub omits private emails from the user object.
		if info.Email == "" {
			var emails []struct {
				Email    string `json:"email"`
				Primary  bool   `json:"primary"`
				Verified bool   `json:"verified"`
			}
			if err := getJSON(ctx, client, apiBase+"/user/emails", &emails); err == nil {
				for _, e := range emails {
					if e.Primary && e.Verified {
						info.Email = e.Email
						break
					}
				}
			}
		}

		if info.Name == "" {
			info.Name = info.Login
		}
		return &oauthProfile{ID: strconv.FormatInt(info.ID, 10), Email: info.Email, Name: info.Name}, nil
	}
}

func getJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
