package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/config"
	"github.com/mikepea/nookmark/pkg/nookmark/database"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testSessions = auth.NewSessions(auth.NewTokens("test-secret", time.Hour), "nookmark_session", false)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

// discoveryServer serves just enough of an OpenID provider for discovery
func discoveryServer(t *testing.T) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/auth"))
	return r
}

func TestListProvidersOnlyEnabled(t *testing.T) {
	cfg := config.OAuthConfig{Providers: map[string]config.OAuthProvider{
		"google": {DisplayName: "Google", Issuer: "https://accounts.google.com", ClientID: "id", ClientSecret: "secret"},
		"gitlab": {Issuer: "https://gitlab.com", ClientID: "id", ClientSecret: "secret"},
		"github": {DisplayName: "GitHub", Issuer: "https://github.com"},
	}}
	r := setupRouter(NewHandler(setupTestDB(t), testSessions, cfg, "http://localhost:8080", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/oauth/providers", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var providers []ProviderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &providers))
	require.Len(t, providers, 2)
	assert.Equal(t, "gitlab", providers[0].Name)
	assert.Equal(t, "gitlab", providers[0].DisplayName)
	assert.Equal(t, "Google", providers[1].DisplayName)
	assert.Equal(t, "/api/auth/oauth/google/login", providers[1].LoginURL)
}

func TestLoginUnknownProvider(t *testing.T) {
	r := setupRouter(NewHandler(setupTestDB(t), testSessions, config.OAuthConfig{}, "http://localhost:8080", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/oauth/nope/login", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoginRedirectsToProvider(t *testing.T) {
	idp := discoveryServer(t)
	cfg := config.OAuthConfig{Providers: map[string]config.OAuthProvider{
		"test": {Issuer: idp.URL, ClientID: "client", ClientSecret: "secret"},
	}}
	r := setupRouter(NewHandler(setupTestDB(t), testSessions, cfg, "http://localhost:8080/", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/oauth/test/login?return_url=/bookmarks", nil))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, idp.URL+"/authorize", loc.Scheme+"://"+loc.Host+loc.Path)

	q := loc.Query()
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/api/auth/oauth/test/callback", q.Get("redirect_uri"))
	assert.Equal(t, "openid profile email", q.Get("scope"))

	state, err := decodeState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "test", state.Provider)
	assert.Equal(t, "/bookmarks", state.ReturnURL)
	assert.Equal(t, state.Nonce, q.Get("nonce"))

	var stateCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, q.Get("state"), stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)
}

func TestLoginJSON(t *testing.T) {
	idp := discoveryServer(t)
	cfg := config.OAuthConfig{Providers: map[string]config.OAuthProvider{
		"test": {Issuer: idp.URL, ClientID: "client", ClientSecret: "secret", Scopes: "openid email"},
	}}
	r := setupRouter(NewHandler(setupTestDB(t), testSessions, cfg, "http://localhost:8080", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/oauth/test/login", nil)
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	loc, err := url.Parse(resp["auth_url"])
	require.NoError(t, err)
	assert.Equal(t, "openid email", loc.Query().Get("scope"))
}

func TestCallbackRejectsBadState(t *testing.T) {
	cfg := config.OAuthConfig{Providers: map[string]config.OAuthProvider{
		"test": {Issuer: "http://127.0.0.1:0", ClientID: "client", ClientSecret: "secret"},
	}}
	r := setupRouter(NewHandler(setupTestDB(t), testSessions, cfg, "http://localhost:8080", nil))

	state, err := encodeState(StateData{Provider: "test", Nonce: "n"})
	require.NoError(t, err)
	otherState, err := encodeState(StateData{Provider: "other", Nonce: "n"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		query  string
		cookie string
		want   int
	}{
		{"missing state", "?code=abc", "", http.StatusBadRequest},
		{"no cookie", "?code=abc&state=" + state, "", http.StatusBadRequest},
		{"cookie mismatch", "?code=abc&state=" + state, otherState, http.StatusBadRequest},
		{"provider mismatch", "?code=abc&state=" + otherState, otherState, http.StatusBadRequest},
		{"provider error", "?error=access_denied&state=" + state, state, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/oauth/test/callback"+tt.query, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: stateCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestStateRoundTrip(t *testing.T) {
	in := StateData{Provider: "google", ReturnURL: "/x?y=1", Nonce: "abc"}
	s, err := encodeState(in)
	require.NoError(t, err)
	out, err := decodeState(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeState("%%%")
	assert.Error(t, err)
}

func TestSafeReturnURL(t *testing.T) {
	assert.Equal(t, "/bookmarks?page=2", safeReturnURL("/bookmarks?page=2"))
	assert.Equal(t, "", safeReturnURL("https://evil.example"))
	assert.Equal(t, "", safeReturnURL("//evil.example"))
	assert.Equal(t, "", safeReturnURL("/\\evil.example"))
	assert.Equal(t, "", safeReturnURL(""))
}

func TestFindOrCreateUserCreates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := findOrCreateUser(ctx, db, "google", "sub-1", Claims{
		Email: "New@Example.com", EmailVerified: true, GivenName: "Ada", FamilyName: "Lovelace",
		Picture: "https://example.com/ada.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.True(t, user.EmailVerified)
	require.NotNil(t, user.Image)

	// Same identity resolves to the same user
	again, err := findOrCreateUser(ctx, db, "google", "sub-1", Claims{Email: "changed@example.com"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	var count int64
	db.Model(&models.OIDCIdentity{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestFindOrCreateUserLinksVerifiedEmail(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	existing := models.User{Email: "alice@example.com", Name: "Alice", PasswordHash: "x"}
	require.NoError(t, db.Create(&existing).Error)

	user, err := findOrCreateUser(ctx, db, "google", "sub-a", Claims{Email: "alice@example.com", EmailVerified: true})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, existing.ID).Error)
	assert.True(t, reloaded.EmailVerified)
	assert.Equal(t, "Alice", reloaded.Name)

	var identity models.OIDCIdentity
	require.NoError(t, db.Where("provider = ? AND subject = ?", "google", "sub-a").First(&identity).Error)
	assert.Equal(t, existing.ID, identity.UserID)
}

func TestFindOrCreateUserRefusesUnverifiedEmail(t *testing.T) {
	db := setupTestDB(t)
	existing := models.User{Email: "bob@example.com", Name: "Bob"}
	require.NoError(t, db.Create(&existing).Error)

	_, err := findOrCreateUser(context.Background(), db, "gitlab", "sub-b", Claims{Email: "bob@example.com"})
	assert.ErrorIs(t, err, ErrUnverifiedEmail)

	var count int64
	db.Model(&models.OIDCIdentity{}).Count(&count)
	assert.Zero(t, count)
}

func TestClaimsDisplayName(t *testing.T) {
	assert.Equal(t, "Full Name", Claims{Name: "Full Name", GivenName: "x"}.displayName())
	assert.Equal(t, "Given", Claims{GivenName: "Given"}.displayName())
	assert.Equal(t, "carol", Claims{Email: "carol@example.com"}.displayName())
}
