package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/reports/stats", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestCORSWildcardWithoutAllowlist(t *testing.T) {
	r := newRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/reports/stats", nil)
	req.Header.Set("Origin", "https://anywhere.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	r := newRouter([]string{"https://app.example.org/"})

	req := httptest.NewRequest(http.MethodGet, "/reports/stats", nil)
	req.Header.Set("Origin", "https://app.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSIgnoresUnlistedOrigin(t *testing.T) {
	r := newRouter([]string{"https://app.example.org"})

	req := httptest.NewRequest(http.MethodGet, "/reports/stats", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(nil)

	req := httptest.NewRequest(http.MethodOptions, "/reports/stats", nil)
	req.Header.Set("Origin", "https://anywhere.example.org")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
