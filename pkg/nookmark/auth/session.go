package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Sessions ties tokens to the session cookie. Browsers carry the token in
// the cookie; other clients send it as a bearer token.
type Sessions struct {
	Tokens       *Tokens
	CookieName   string
	CookieSecure bool
}

// NewSessions creates a Sessions using the given tokens and cookie settings
func NewSessions(tokens *Tokens, cookieName string, secure bool) *Sessions {
	return &Sessions{Tokens: tokens, CookieName: cookieName, CookieSecure: secure}
}

// Issue generates a token for the user and sets the session cookie
func (s *Sessions) Issue(c *gin.Context, userID uint, email string) (string, error) {
	token, err := s.Tokens.Generate(userID, email)
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.CookieName, token, int(s.Tokens.TTL().Seconds()), "/", "", s.CookieSecure, true)
	return token, nil
}

// Clear removes the session cookie
func (s *Sessions) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.CookieName, "", -1, "/", "", s.CookieSecure, true)
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the session cookie. ok is false when the header is
// present but malformed.
func (s *Sessions) TokenFromRequest(c *gin.Context) (token string, ok bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if cookie, err := c.Cookie(s.CookieName); err == nil && cookie != "" {
		return cookie, true
	}
	return "", true
}
