package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/database"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	return db
}

func testSessions() *Sessions {
	return NewSessions(NewTokens(testSecret, time.Hour), "nookmark_session", false)
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db, testSessions())
	auth := r.Group("/auth")
	handler.RegisterRoutes(auth)
	return r
}

func register(t *testing.T, router *gin.Engine, email, password string) *httptest.ResponseRecorder {
	body := RegisterRequest{Email: email, Password: password, Name: "Test User"}
	jsonBody, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", "/auth/register", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestPasswordHashing(t *testing.T) {
	password := "testpassword123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == password {
		t.Error("Hash should not equal plain password")
	}
	if !CheckPassword(password, hash) {
		t.Error("CheckPassword should return true for correct password")
	}
	if CheckPassword("wrongpassword", hash) {
		t.Error("CheckPassword should return false for incorrect password")
	}
	if CheckPassword(password, "") {
		t.Error("CheckPassword should reject users without a password")
	}
}

func TestJWTToken(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	token, err := tokens.Generate(1, "test@example.com")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := tokens.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != 1 {
		t.Errorf("Expected UserID 1, got %d", claims.UserID)
	}
	if claims.Email != "test@example.com" {
		t.Errorf("Expected email test@example.com, got %s", claims.Email)
	}

	if _, err := NewTokens("other-secret", time.Hour).Validate(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	tokens := NewTokens(testSecret, -time.Minute)
	token, err := tokens.Generate(1, "test@example.com")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := tokens.Validate(token); err != ErrExpiredToken {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidToken(t *testing.T) {
	_, err := NewTokens(testSecret, time.Hour).Validate("invalid-token")
	if err == nil {
		t.Error("Expected error for invalid token")
	}
}

func TestRegister(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	resp := register(t, router, "Test@Example.com", "password123")
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var response AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	if response.Token == "" {
		t.Error("Expected token in response")
	}
	if response.User.Email != "test@example.com" {
		t.Errorf("Expected normalized email test@example.com, got %s", response.User.Email)
	}

	var found bool
	for _, c := range resp.Result().Cookies() {
		if c.Name == "nookmark_session" && c.Value == response.Token && c.HttpOnly {
			found = true
		}
	}
	if !found {
		t.Error("Expected httpOnly session cookie carrying the token")
	}
}

func TestRegisterValidation(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	resp := register(t, router, "not-an-email", "short")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", resp.Code)
	}

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Fields["email"] == "" || body.Fields["password"] == "" {
		t.Errorf("Expected field errors for email and password, got %v", body.Fields)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	register(t, router, "test@example.com", "password123")
	resp := register(t, router, "test@example.com", "password123")

	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", resp.Code)
	}
}

func TestLogin(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	register(t, router, "test@example.com", "password123")

	loginBody := LoginRequest{Email: "test@example.com", Password: "password123"}
	jsonBody, _ := json.Marshal(loginBody)
	req, _ := http.NewRequest("POST", "/auth/login", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var response AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	if response.Token == "" {
		t.Error("Expected token in response")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	register(t, router, "test@example.com", "password123")

	loginBody := LoginRequest{Email: "test@example.com", Password: "wrongpassword"}
	jsonBody, _ := json.Marshal(loginBody)
	req, _ := http.NewRequest("POST", "/auth/login", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}

func TestMe(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	resp := register(t, router, "test@example.com", "password123")
	var authResponse AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &authResponse)

	req, _ := http.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+authResponse.Token)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var userResponse UserResponse
	json.Unmarshal(resp.Body.Bytes(), &userResponse)
	if userResponse.Email != "test@example.com" {
		t.Errorf("Expected email test@example.com, got %s", userResponse.Email)
	}
}

func TestMeWithCookie(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	resp := register(t, router, "test@example.com", "password123")
	var authResponse AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &authResponse)

	req, _ := http.NewRequest("GET", "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "nookmark_session", Value: authResponse.Token})
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestMeWithoutAuth(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	for _, header := range []string{"", "Basic abc", "Bearer"} {
		req, _ := http.NewRequest("GET", "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: expected status 401, got %d", header, resp.Code)
		}
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)

	req, _ := http.NewRequest("POST", "/auth/logout", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Errorf("Expected expired session cookie, got %v", cookies)
	}
}
