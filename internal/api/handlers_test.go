// internal/api/handlers_test.go
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/StoryboardForge/internal/services"
)

func newSanitizeTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &Handler{
		SanitizerService: services.NewSanitizerService(nil),
		Response:         NewResponseHelper(),
	}

	r := gin.New()
	r.POST("/api/sanitize", h.SanitizePrompt)
	return r
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSanitizePrompt_Analyze(t *testing.T) {
	r := newSanitizeTestRouter(t)

	w := postJSON(t, r, "/api/sanitize", gin.H{"prompt": "a man pointing a gun at the camera"})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			IsProblematic   bool     `json:"is_problematic"`
			Issues          []string `json:"issues"`
			SanitizedPrompt string   `json:"sanitized_prompt"`
			Confidence      float64  `json:"confidence"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Data.IsProblematic)
	assert.NotContains(t, resp.Data.SanitizedPrompt, "gun")
	assert.NotEmpty(t, resp.Data.Issues)
	assert.Greater(t, resp.Data.Confidence, 0.0)
}

func TestSanitizePrompt_Aggressive(t *testing.T) {
	r := newSanitizeTestRouter(t)

	w := postJSON(t, r, "/api/sanitize", gin.H{"prompt": "blood everywhere", "aggressive": true})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Sanitized string `json:"sanitized"`
			Escalated bool   `json:"escalated"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Escalated)
	assert.NotContains(t, resp.Data.Sanitized, "blood")
}

func TestSanitizePrompt_EmptyPrompt(t *testing.T) {
	r := newSanitizeTestRouter(t)

	w := postJSON(t, r, "/api/sanitize", gin.H{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestSanitizePrompt_MalformedBody(t *testing.T) {
	r := newSanitizeTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sanitize", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// 明文请求重定向后不得继续执行后续处理器
func TestHTTPSRedirect_AbortsChain(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handlerRan := false
	r := gin.New()
	r.Use(httpsRedirectMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		handlerRan = true
		c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusPermanentRedirect, w.Code)
	assert.False(t, handlerRan)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, handlerRan)
}
