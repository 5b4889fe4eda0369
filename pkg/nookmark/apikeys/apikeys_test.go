package apikeys

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/nookmark/pkg/nookmark/auth"
	"github.com/mikepea/nookmark/pkg/nookmark/database"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
)

const testKey = "nk_abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"

var testSessions = auth.NewSessions(auth.NewTokens("test-secret", time.Hour), "nookmark_session", false)

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

func createTestUser(t *testing.T, db *gorm.DB, email string) models.User {
	hash, _ := auth.HashPassword("password123")
	user := models.User{Email: email, PasswordHash: hash, Name: "Test User"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func createTestKey(t *testing.T, db *gorm.DB, userID uint, key string) models.APIKey {
	apiKey := models.APIKey{UserID: userID, KeyHash: hashAPIKey(key), KeyPrefix: key[:KeyPrefixLength]}
	if err := db.Create(&apiKey).Error; err != nil {
		t.Fatalf("Failed to create API key: %v", err)
	}
	return apiKey
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", auth.AuthMiddleware(testSessions))
	NewHandler(db).RegisterRoutes(api)
	return r
}

func getAuthHeader(user models.User) string {
	token, _ := testSessions.Tokens.Generate(user.ID, user.Email)
	return "Bearer " + token
}

func TestCreateAPIKey(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")

	jsonBody, _ := json.Marshal(CreateAPIKeyRequest{Description: "Browser extension"})
	req, _ := http.NewRequest("POST", "/api/api-keys", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var response CreateAPIKeyResponse
	json.Unmarshal(resp.Body.Bytes(), &response)

	if !IsAPIKey(response.Key) {
		t.Errorf("Expected key with %q prefix, got %q", KeyPrefix, response.Key)
	}
	if len(response.Key) != len(KeyPrefix)+KeyLength*2 {
		t.Errorf("Expected key length %d, got %d", len(KeyPrefix)+KeyLength*2, len(response.Key))
	}
	if response.KeyPrefix != response.Key[:KeyPrefixLength] {
		t.Error("Key prefix should match the start of the key")
	}
	if response.Description != "Browser extension" {
		t.Errorf("Expected description 'Browser extension', got '%s'", response.Description)
	}

	// Only the hash is stored
	var stored models.APIKey
	db.First(&stored, response.ID)
	if stored.KeyHash == response.Key || stored.KeyHash != hashAPIKey(response.Key) {
		t.Error("Expected the stored hash to be the SHA-256 of the key")
	}
}

func TestCreateAPIKeyWithoutBody(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")

	req, _ := http.NewRequest("POST", "/api/api-keys", nil)
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListAPIKeysOnlyShowsOwnKeys(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user1 := createTestUser(t, db, "user1@example.com")
	user2 := createTestUser(t, db, "user2@example.com")

	createTestKey(t, db, user1.ID, testKey)
	createTestKey(t, db, user2.ID, "nk_"+strings.Repeat("f", 64))

	req, _ := http.NewRequest("GET", "/api/api-keys", nil)
	req.Header.Set("Authorization", getAuthHeader(user1))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var response []APIKeyResponse
	json.Unmarshal(resp.Body.Bytes(), &response)

	if len(response) != 1 {
		t.Fatalf("Expected 1 API key, got %d", len(response))
	}
	if response[0].KeyPrefix != testKey[:KeyPrefixLength] {
		t.Error("Should only see own API key")
	}
}

func TestDeleteAPIKey(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "test@example.com")
	other := createTestUser(t, db, "other@example.com")
	apiKey := createTestKey(t, db, user.ID, testKey)

	// Another user cannot revoke it
	req, _ := http.NewRequest("DELETE", "/api/api-keys/1", nil)
	req.Header.Set("Authorization", getAuthHeader(other))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}

	req, _ = http.NewRequest("DELETE", "/api/api-keys/1", nil)
	req.Header.Set("Authorization", getAuthHeader(user))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var count int64
	db.Model(&models.APIKey{}).Where("id = ?", apiKey.ID).Count(&count)
	if count != 0 {
		t.Error("API key should be deleted")
	}

	// A revoked key no longer authenticates
	if _, err := Validate(context.Background(), db, testKey); err != ErrInvalidKey {
		t.Errorf("Expected ErrInvalidKey for revoked key, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db, "test@example.com")
	apiKey := createTestKey(t, db, user.ID, testKey)

	result, err := Validate(context.Background(), db, testKey)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.ID != apiKey.ID {
		t.Error("Expected to find the API key")
	}
	if result.LastUsedAt == nil {
		t.Error("Expected LastUsedAt to be recorded")
	}

	for _, bad := range []string{"wrongkey", "nk_wrong"} {
		if _, err := Validate(context.Background(), db, bad); err != ErrInvalidKey {
			t.Errorf("%q: expected ErrInvalidKey, got %v", bad, err)
		}
	}
}

func TestTouchThrottled(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db, "test@example.com")
	apiKey := createTestKey(t, db, user.ID, testKey)

	first := time.Now()
	if err := touch(context.Background(), db, &apiKey, first); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if err := touch(context.Background(), db, &apiKey, first.Add(10*time.Second)); err != nil {
		t.Fatalf("touch failed: %v", err)
	}
	if !apiKey.LastUsedAt.Equal(first) {
		t.Error("Expected second use within a minute not to be written")
	}

	later := first.Add(2 * time.Minute)
	touch(context.Background(), db, &apiKey, later)
	var stored models.APIKey
	db.First(&stored, apiKey.ID)
	if stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(later) {
		t.Errorf("Expected last_used_at %v, got %v", later, stored.LastUsedAt)
	}
}

func TestCombinedAuthMiddleware(t *testing.T) {
	db := setupTestDB(t)
	user := createTestUser(t, db, "test@example.com")
	createTestKey(t, db, user.ID, testKey)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CombinedAuthMiddleware(db, testSessions))
	r.GET("/test", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})

	tests := []struct {
		name   string
		header string
		cookie string
		want   int
	}{
		{"api key", "Bearer " + testKey, "", http.StatusOK},
		{"session token", getAuthHeader(user), "", http.StatusOK},
		{"session cookie", "", strings.TrimPrefix(getAuthHeader(user), "Bearer "), http.StatusOK},
		{"unknown api key", "Bearer nk_invalid", "", http.StatusUnauthorized},
		{"garbage token", "Bearer invalidkey", "", http.StatusUnauthorized},
		{"no credentials", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "nookmark_session", Value: tt.cookie})
			}
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != tt.want {
				t.Fatalf("Expected status %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
			if tt.want == http.StatusOK {
				var response map[string]any
				json.Unmarshal(resp.Body.Bytes(), &response)
				if uint(response["user_id"].(float64)) != user.ID {
					t.Error("User ID should be set in context")
				}
			}
		})
	}
}
