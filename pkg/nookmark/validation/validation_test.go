package validation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	URL   string   `json:"url" binding:"required,url" validate:"required,url"`
	Title string   `json:"title" binding:"max=5" validate:"max=5"`
	Tags  []string `json:"tags" binding:"max=2" validate:"max=2"`
}

func TestValidate(t *testing.T) {
	v := New()

	err := v.Validate(sample{URL: "https://example.com", Title: "ok"})
	assert.NoError(t, err)

	err = v.Validate(sample{Title: "far too long", Tags: []string{"a", "b", "c"}})
	require.Error(t, err)

	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Fields["url"])
	assert.Equal(t, "must not exceed 5 characters", verr.Fields["title"])
	assert.Equal(t, "must not contain more than 2 items", verr.Fields["tags"])
	assert.Contains(t, err.Error(), "Validation failed")
}

func TestRespondUsesJSONNames(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var req sample
		if err := c.ShouldBindJSON(&req); err != nil {
			Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	body, _ := json.Marshal(map[string]any{"url": "not a url"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "must be a valid URL", resp.Fields["url"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
}
