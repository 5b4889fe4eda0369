package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const (
	stateCookieName = "nookmark_oauth_state"
	stateTTL        = 10 * time.Minute
	discoveryTimeout = 10 * time.Second
)

var errUnknownProvider = errors.New("unknown provider")

// Handler handles OAuth/OIDC sign-in
type Handler struct {
	db        *gorm.DB
	sessions  *auth.Sessions
	baseURL   string
	configs   map[string]config.OAuthProvider
	logger    *zap.Logger
	providers map[string]*providerConfig
	mu        sync.RWMutex
}

type providerConfig struct {
	config   oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// StateData is carried through the provider round trip in the state
// parameter and mirrored in a short-lived cookie.
type StateData struct {
	Provider  string `json:"provider"`
	ReturnURL string `json:"return_url,omitempty"`
	Nonce     string `json:"nonce"`
}

// NewHandler creates a new OIDC handler. Only providers with credentials
// configured are offered; discovery happens on first use.
func NewHandler(db *gorm.DB, sessions *auth.Sessions, cfg config.OAuthConfig, baseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	configs := make(map[string]config.OAuthProvider)
	for name, p := range cfg.Providers {
		if p.Enabled() {
			configs[name] = p
		}
	}
	return &Handler{
		db:        db,
		sessions:  sessions,
		baseURL:   strings.TrimRight(baseURL, "/"),
		configs:   configs,
		logger:    logger,
		providers: make(map[string]*providerConfig),
	}
}

// provider returns the initialised provider, running discovery once
func (h *Handler) provider(ctx context.Context, name string) (*providerConfig, error) {
	h.mu.RLock()
	pc, ok := h.providers[name]
	h.mu.RUnlock()
	if ok {
		return pc, nil
	}

	p, ok := h.configs[name]
	if !ok {
		return nil, errUnknownProvider
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if pc, ok := h.providers[name]; ok {
		return pc, nil
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, p.Issuer)
	if err != nil {
		return nil, err
	}

	scopes := strings.Fields(p.Scopes)
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	pc = &providerConfig{
		config: oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  h.callbackURL(name),
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: p.ClientID}),
	}
	h.providers[name] = pc
	return pc, nil
}

func (h *Handler) callbackURL(name string) string {
	return h.baseURL + "/api/auth/oauth/" + name + "/callback"
}

// ProviderResponse represents a sign-in option in API responses
type ProviderResponse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	LoginURL    string `json:"login_url"`
}

// ListProviders returns the configured sign-in providers
// @Summary List OAuth providers
// @Tags auth
// @Produce json
// @Success 200 {array} ProviderResponse
// @Router /auth/oauth/providers [get]
func (h *Handler) ListProviders(c *gin.Context) {
	names := make([]string, 0, len(h.configs))
	for name := range h.configs {
		names = append(names, name)
	}
	sort.Strings(names)

	responses := make([]ProviderResponse, len(names))
	for i, name := range names {
		display := h.configs[name].DisplayName
		if display == "" {
			display = name
		}
		responses[i] = ProviderResponse{
			Name:        name,
			DisplayName: display,
			LoginURL:    "/api/auth/oauth/" + name + "/login",
		}
	}
	c.JSON(http.StatusOK, responses)
}

// Login starts the authorization code flow. Browsers are redirected to the
// provider; clients asking for JSON get the URL instead.
// @Summary Start OAuth sign-in
// @Tags auth
// @Produce json
// @Param provider path string true "Provider name"
// @Param return_url query string false "Relative path to return to after sign-in"
// @Success 200 {object} map[string]string "auth_url"
// @Success 302 "Redirect to provider"
// @Failure 404 {object} map[string]string
// @Router /auth/oauth/{provider}/login [get]
func (h *Handler) Login(c *gin.Context) {
	name := c.Param("provider")
	pc, err := h.provider(c.Request.Context(), name)
	if err != nil {
		h.providerError(c, name, err)
		return
	}

	nonce, err := randomString(32)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start sign-in"})
		return
	}
	state, err := encodeState(StateData{
		Provider:  name,
		ReturnURL: safeReturnURL(c.Query("return_url")),
		Nonce:     nonce,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start sign-in"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, int(stateTTL.Seconds()), "/api/auth/oauth", "", h.sessions.CookieSecure, true)

	authURL := pc.config.AuthCodeURL(state, oidc.Nonce(nonce))
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, gin.H{"auth_url": authURL})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback completes the flow, signs the user in and either redirects to
// the return URL or answers with the session token.
// @Summary OAuth callback
// @Tags auth
// @Produce json
// @Param provider path string true "Provider name"
// @Param code query string true "Authorization code"
// @Param state query string true "State"
// @Success 200 {object} auth.AuthResponse
// @Success 302 "Redirect to return_url"
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string "Email belongs to an existing account"
// @Router /auth/oauth/{provider}/callback [get]
func (h *Handler) Callback(c *gin.Context) {
	name := c.Param("provider")

	stateParam := c.Query("state")
	cookie, _ := c.Cookie(stateCookieName)
	if stateParam == "" || cookie != stateParam {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state"})
		return
	}
	c.SetCookie(stateCookieName, "", -1, "/api/auth/oauth", "", h.sessions.CookieSecure, true)

	stateData, err := decodeState(stateParam)
	if err != nil || stateData.Provider != name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		errorDesc := c.Query("error_description")
		if errorDesc == "" {
			errorDesc = c.Query("error")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authentication failed: " + errorDesc})
		return
	}

	ctx := c.Request.Context()
	pc, err := h.provider(ctx, name)
	if err != nil {
		h.providerError(c, name, err)
		return
	}

	oauth2Token, err := pc.config.Exchange(ctx, code)
	if err != nil {
		h.logger.Warn("oauth token exchange failed", zap.String("provider", name), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to exchange token"})
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		c.JSON(http.StatusBadGateway, gin.H{"error": "No ID token in response"})
		return
	}

	idToken, err := pc.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		h.logger.Warn("id token verification failed", zap.String("provider", name), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify ID token"})
		return
	}
	if idToken.Nonce != stateData.Nonce {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid nonce"})
		return
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to parse claims"})
		return
	}
	if claims.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email not provided by identity provider"})
		return
	}

	user, err := findOrCreateUser(ctx, h.db, name, idToken.Subject, claims)
	if errors.Is(err, ErrUnverifiedEmail) {
		c.JSON(http.StatusConflict, gin.H{"error": "An account with this email already exists"})
		return
	}
	if err != nil {
		h.logger.Error("oauth user provisioning failed", zap.String("provider", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process user"})
		return
	}

	token, err := h.sessions.Issue(c, user.ID, user.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	h.logger.Info("oauth sign-in", zap.String("provider", name), zap.Uint("user_id", user.ID))

	// The session cookie is already set, so the token stays out of the URL
	if stateData.ReturnURL != "" {
		c.Redirect(http.StatusFound, stateData.ReturnURL)
		return
	}
	c.JSON(http.StatusOK, auth.AuthResponse{
		Token: token,
		User:  auth.NewUserResponse(*user),
	})
}

func (h *Handler) providerError(c *gin.Context, name string, err error) {
	if errors.Is(err, errUnknownProvider) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return
	}
	h.logger.Error("oidc discovery failed", zap.String("provider", name), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "Provider unavailable"})
}

// RegisterRoutes registers the OAuth routes on the /auth group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	oauth := rg.Group("/oauth")
	{
		oauth.GET("/providers", h.ListProviders)
		oauth.GET("/:provider/login", h.Login)
		oauth.GET("/:provider/callback", h.Callback)
	}
}

func encodeState(s StateData) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeState(state string) (StateData, error) {
	var s StateData
	b, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}

// safeReturnURL keeps only same-origin paths
func safeReturnURL(u string) string {
	if !strings.HasPrefix(u, "/") || strings.HasPrefix(u, "//") || strings.HasPrefix(u, "/\\") {
		return ""
	}
	return u
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
