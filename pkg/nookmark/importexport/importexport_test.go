package importexport

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
	"github.com/mikepea/nookmark/pkg/nookmark/bookmarks"
	"github.com/mikepea/nookmark/pkg/nookmark/database"
	"github.com/mikepea/nookmark/pkg/nookmark/models"
	"gorm.io/gorm"
)

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
	user := models.User{Email: email, Name: "Test User"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func setupTestRouter(svc *bookmarks.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api", auth.AuthMiddleware(testSessions))
	NewHandler(svc, nil).RegisterRoutes(api)
	return r
}

func getAuthHeader(user models.User) string {
	token, _ := testSessions.Tokens.Generate(user.ID, user.Email)
	return "Bearer " + token
}

func doImport(t *testing.T, router *gin.Engine, user models.User, body []byte) (*httptest.ResponseRecorder, ImportResult) {
	t.Helper()
	req, _ := http.NewRequest("POST", "/api/import", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var result ImportResult
	json.Unmarshal(resp.Body.Bytes(), &result)
	return resp, result
}

func TestImportBookmarks(t *testing.T) {
	db := setupTestDB(t)
	svc := bookmarks.NewService(db, bookmarks.DefaultOptions())
	router := setupTestRouter(svc)
	user := createTestUser(t, db, "test@example.com")

	body, _ := json.Marshal(ImportRequest{Bookmarks: []PinboardBookmark{
		{
			Href:        "https://example.com",
			Description: "Example Site",
			Extended:    "This is an example",
			Tags:        "test example",
			Time:        "2024-01-15T10:30:00Z",
			Shared:      "yes",
		},
		{
			Href:        "https://golang.org",
			Description: "Go Programming",
			Tags:        "golang test",
			Time:        "2024-01-16T14:00:00Z",
			ToRead:      "yes",
		},
	}})

	resp, result := doImport(t, router, user, body)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if result.Imported != 2 || result.Skipped != 0 {
		t.Errorf("Expected 2 imported and 0 skipped, got %+v", result)
	}

	var tagCount int64
	db.Model(&models.Tag{}).Where("user_id = ?", user.ID).Count(&tagCount)
	if tagCount != 3 {
		t.Errorf("Expected 3 tags, got %d", tagCount)
	}

	// The original timestamp is kept
	var b models.Bookmark
	db.Where("url = ?", "https://example.com").First(&b)
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if !b.CreatedAt.Equal(want) {
		t.Errorf("Expected created_at %v, got %v", want, b.CreatedAt)
	}
	if b.Description == nil || *b.Description != "This is an example" {
		t.Errorf("Expected description to be imported, got %v", b.Description)
	}
}

func TestImportBareArray(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(bookmarks.NewService(db, bookmarks.DefaultOptions()))
	user := createTestUser(t, db, "test@example.com")

	body := []byte(`[{"href":"https://example.com","description":"","tags":""}]`)
	resp, result := doImport(t, router, user, body)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if result.Imported != 1 {
		t.Errorf("Expected 1 imported, got %+v", result)
	}

	// Untitled entries fall back to the URL
	var b models.Bookmark
	db.First(&b)
	if b.Title != "https://example.com" {
		t.Errorf("Expected title to fall back to url, got %q", b.Title)
	}
}

func TestImportSkipsInvalidAndDuplicates(t *testing.T) {
	db := setupTestDB(t)
	svc := bookmarks.NewService(db, bookmarks.DefaultOptions())
	router := setupTestRouter(svc)
	user := createTestUser(t, db, "test@example.com")

	if _, err := svc.Create(context.Background(), bookmarks.CreateParams{UserID: user.ID, URL: "https://exists.com", Title: "Exists"}); err != nil {
		t.Fatalf("Failed to create bookmark: %v", err)
	}

	body, _ := json.Marshal([]PinboardBookmark{
		{Href: "https://exists.com", Description: "Dup"},
		{Href: "not a url", Description: "Bad"},
		{Href: "https://ok.com", Description: "Bad time", Time: "yesterday"},
		{Href: "https://new.com", Description: "New"},
		{Href: "https://new.com", Description: "New again"},
	})

	resp, result := doImport(t, router, user, body)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if result.Imported != 1 {
		t.Errorf("Expected 1 imported, got %d", result.Imported)
	}
	if result.Skipped != 4 || len(result.Errors) != 4 {
		t.Fatalf("Expected 4 skipped with reasons, got %+v", result)
	}
	if !strings.HasPrefix(result.Errors[0], "bookmark 0: already exists") {
		t.Errorf("Unexpected first error %q", result.Errors[0])
	}
	if !strings.Contains(result.Errors[1], "href") {
		t.Errorf("Expected url validation error, got %q", result.Errors[1])
	}
	if result.Errors[2] != "bookmark 2: invalid time format" {
		t.Errorf("Unexpected time error %q", result.Errors[2])
	}
}

func TestImportRejectsEmptyAndMalformed(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(bookmarks.NewService(db, bookmarks.DefaultOptions()))
	user := createTestUser(t, db, "test@example.com")

	for _, body := range []string{`{"bookmarks":[]}`, `[]`, `{not json`, ``} {
		resp, _ := doImport(t, router, user, []byte(body))
		if resp.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected status 400, got %d", body, resp.Code)
		}
	}
}

func TestExportBookmarks(t *testing.T) {
	db := setupTestDB(t)
	svc := bookmarks.NewService(db, bookmarks.DefaultOptions())
	router := setupTestRouter(svc)
	user := createTestUser(t, db, "test@example.com")
	other := createTestUser(t, db, "other@example.com")

	ctx := context.Background()
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.Create(ctx, bookmarks.CreateParams{UserID: user.ID, URL: "https://old.com", Title: "Old", Description: "desc", Tags: []string{"b", "a"}, CreatedAt: &older})
	svc.Create(ctx, bookmarks.CreateParams{UserID: user.ID, URL: "https://new.com", Title: "New"})
	svc.Create(ctx, bookmarks.CreateParams{UserID: other.ID, URL: "https://theirs.com", Title: "Theirs"})

	req, _ := http.NewRequest("GET", "/api/export?download=true", nil)
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	if cd := resp.Header().Get("Content-Disposition"); !strings.Contains(cd, "nookmark-export.json") {
		t.Errorf("Expected attachment header, got %q", cd)
	}

	var out []PinboardBookmark
	json.Unmarshal(resp.Body.Bytes(), &out)
	if len(out) != 2 {
		t.Fatalf("Expected 2 bookmarks, got %d", len(out))
	}
	if out[0].Href != "https://new.com" {
		t.Errorf("Expected newest first, got %s", out[0].Href)
	}
	if out[1].Tags != "a b" || out[1].Extended != "desc" || out[1].Time != "2024-01-01T00:00:00Z" {
		t.Errorf("Unexpected export of old bookmark: %+v", out[1])
	}
	if out[1].Shared != "no" || out[1].ToRead != "no" {
		t.Errorf("Expected shared/toread no, got %+v", out[1])
	}
}

func TestExportSingle(t *testing.T) {
	db := setupTestDB(t)
	svc := bookmarks.NewService(db, bookmarks.DefaultOptions())
	router := setupTestRouter(svc)
	user := createTestUser(t, db, "test@example.com")
	other := createTestUser(t, db, "other@example.com")

	item, err := svc.Create(context.Background(), bookmarks.CreateParams{UserID: user.ID, URL: "https://example.com", Title: "Example", Tags: []string{"go"}})
	if err != nil {
		t.Fatalf("Failed to create bookmark: %v", err)
	}

	req, _ := http.NewRequest("GET", "/api/export/"+item.ID, nil)
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.Code)
	}
	var out PinboardBookmark
	json.Unmarshal(resp.Body.Bytes(), &out)
	if out.Href != "https://example.com" || out.Tags != "go" {
		t.Errorf("Unexpected export %+v", out)
	}

	// Another user's bookmark is not visible
	req, _ = http.NewRequest("GET", "/api/export/"+item.ID, nil)
	req.Header.Set("Authorization", getAuthHeader(other))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}

	req, _ = http.NewRequest("GET", "/api/export/not-a-uuid", nil)
	req.Header.Set("Authorization", getAuthHeader(user))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a malformed id, got %d", resp.Code)
	}
}

func TestImportRejectsOversizedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	user := createTestUser(t, db, "test@example.com")

	h := NewHandler(bookmarks.NewService(db, bookmarks.DefaultOptions()), nil)
	h.maxBytes = 64
	r := gin.New()
	h.RegisterRoutes(r.Group("/api", auth.AuthMiddleware(testSessions)))

	body := `[{"href":"https://example.com","description":"` + strings.Repeat("x", 100) + `"}]`
	resp, _ := doImport(t, r, user, []byte(body))
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d: %s", resp.Code, resp.Body.String())
	}

	var count int64
	db.Model(&models.Bookmark{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected nothing imported, got %d", count)
	}
}

func TestImportRequiresAuth(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(bookmarks.NewService(db, bookmarks.DefaultOptions()))

	req, _ := http.NewRequest("POST", "/api/import", strings.NewReader(`[]`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}
}
