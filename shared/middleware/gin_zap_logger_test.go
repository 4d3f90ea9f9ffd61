package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinZapLogger(log))
	router.GET("/story", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestGinZapLogger_RequestID(t *testing.T) {
	router := newLoggedRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/story", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/story", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestGinZapLogger_Levels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	router := newLoggedRouter(zap.New(core))

	for _, path := range []string{"/story?sessionToken=abc", "/missing", "/health"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	if assert.Len(t, entries, 2, "health checks are not logged") {
		assert.Equal(t, "Request completed", entries[0].Message)
		assert.Equal(t, "/story?sessionToken=abc", entries[0].ContextMap()["path"])
		assert.Equal(t, "Client error", entries[1].Message)
		assert.EqualValues(t, http.StatusNotFound, entries[1].ContextMap()["status"])
	}
}
