package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(Options{
		AdminPrefix:  "/api/v1/admin/",
		AdminOrigins: []string{"https://admin.example.org/"},
		MaxAge:       10 * time.Minute,
	}))
	r.GET("/api/v1/courses", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/v1/admin/populate", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func serve(r *gin.Engine, method, path, origin string, preflight bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPublicRoutesAllowAnyOrigin(t *testing.T) {
	w := serve(newTestRouter(), http.MethodGet, "/api/v1/courses", "https://faculty.example.org", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Preterm-Token")
}

func TestAdminRoutesEchoListedOrigin(t *testing.T) {
	r := newTestRouter()

	w := serve(r, http.MethodOptions, "/api/v1/admin/populate", "https://ADMIN.example.org", true)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ADMIN.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))

	w = serve(r, http.MethodOptions, "/api/v1/admin/populate", "https://evil.example.org", true)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSameOriginRequestsPassThrough(t *testing.T) {
	w := serve(newTestRouter(), http.MethodPost, "/api/v1/admin/populate", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
