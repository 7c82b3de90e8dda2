package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerUserBuckets(t *testing.T) {
	r := newRouter(NewRateLimiter(2).RateLimit())

	assert.Equal(t, http.StatusOK, get(r, "alice").Code)
	assert.Equal(t, http.StatusOK, get(r, "alice").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "alice").Code)

	// Another caller has its own bucket.
	assert.Equal(t, http.StatusOK, get(r, "bob").Code)
}

func TestRequireUserID(t *testing.T) {
	r := newRouter(RequireUserID())
	assert.Equal(t, http.StatusBadRequest, get(r, "").Code)
	assert.Equal(t, http.StatusOK, get(r, "alice").Code)
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	r := newRouter(RequestID(), SecurityHeaders(), Metrics(metrics.NewMetrics()))

	w := get(r, "alice")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
