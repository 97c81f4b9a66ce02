package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mwopts "github.com/kart-io/kgrag/pkg/options/middleware"
	"github.com/kart-io/kgrag/pkg/utils/errors"
	"github.com/kart-io/kgrag/pkg/utils/json"
	"github.com/kart-io/kgrag/pkg/utils/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRecovery(t *testing.T) {
	var called bool
	r := newEngine(RequestID(), RecoveryWithOptions(mwopts.RecoveryOptions{}, func(_ *gin.Context, err interface{}, _ []byte) {
		called = err == "boom"
	}))
	r.GET("/panic", func(_ *gin.Context) { panic("boom") })
	r.GET("/ok", func(c *gin.Context) { response.OK(c, "fine") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, called)
	resp := decode(t, w)
	assert.Contains(t, resp.Message, "boom")
	assert.NotContains(t, resp.Message, "goroutine")
	assert.NotEmpty(t, resp.RequestID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecovery_StackTrace(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("GO_ENV", "")
	r := newEngine(RecoveryWithOptions(mwopts.RecoveryOptions{EnableStackTrace: true}, nil))
	r.GET("/panic", func(_ *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Contains(t, decode(t, w).Message, "goroutine")

	t.Setenv("APP_ENV", "production")
	r = newEngine(RecoveryWithOptions(mwopts.RecoveryOptions{EnableStackTrace: true}, nil))
	r.GET("/panic", func(_ *gin.Context) { panic("boom") })

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.NotContains(t, decode(t, w).Message, "goroutine")
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestIDWithGenerator(func() string { return "generated" }))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	t.Run("Generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "generated", w.Header().Get(HeaderXRequestID))
		assert.Equal(t, "generated", w.Body.String())
	})

	t.Run("Propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderXRequestID, "client-id")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "client-id", w.Header().Get(HeaderXRequestID))
		assert.Equal(t, "client-id", w.Body.String())
	})

	t.Run("TooLong", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderXRequestID, strings.Repeat("a", maxRequestIDLength+1))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "generated", w.Header().Get(HeaderXRequestID))
	})

	t.Run("DefaultULID", func(t *testing.T) {
		r := newEngine(RequestID())
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, w.Header().Get(HeaderXRequestID), 26)
	})
}

func TestTimeout(t *testing.T) {
	r := newEngine(Timeout(mwopts.TimeoutOptions{Timeout: 20 * time.Millisecond, SkipPaths: []string{"/skip"}}))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})
	r.GET("/fast", func(c *gin.Context) { response.OK(c, nil) })
	r.GET("/skip", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		c.String(http.StatusOK, "%v", ok)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/skip", nil))
	assert.Equal(t, "false", w.Body.String())
}

func TestCORS(t *testing.T) {
	opts := mwopts.CORSOptions{
		AllowOrigins: []string{"https://app.example.com"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       600,
	}
	r := newEngine(CORS(opts))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("Allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("Rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestTracingAndLogger(t *testing.T) {
	r := newEngine(RequestID(), Logger(mwopts.LoggerOptions{}), Tracing("/healthz"))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/items/7", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTeapot, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChain(t *testing.T) {
	opts := mwopts.NewOptions()
	assert.Len(t, Chain(opts), len(opts.Middleware))

	opts.Middleware = []string{mwopts.MiddlewareRecovery, mwopts.MiddlewareCORS}
	assert.Len(t, Chain(opts), 2)

	assert.Len(t, Chain(nil), len(mwopts.DefaultMiddleware))
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(mwopts.RateLimitOptions{Limit: 2, Window: time.Minute, SkipPaths: []string{"/healthz"}}))
	r.GET("/v1/stats", func(c *gin.Context) { response.OK(c, "ok") })
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, get("/v1/stats").Code)
	assert.Equal(t, http.StatusOK, get("/v1/stats").Code)
	w := get("/v1/stats")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, errors.ErrTooManyRequests.Code, decode(t, w).Code)

	for range 5 {
		assert.Equal(t, http.StatusOK, get("/healthz").Code)
	}
}

func TestMemoryRateLimiter_Window(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are limited independently")

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("a"))

	l.Reset("a")
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(5 * time.Minute)
	assert.True(t, l.Allow("c"))
	l.mu.Lock()
	_, kept := l.entries["b"]
	l.mu.Unlock()
	assert.False(t, kept, "idle keys are swept")
}
