package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/adops_backend/handlers"
	"bitbucket.org/mmdatafocus/adops_backend/testutil"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestBootRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := bootRouter(func() bool { return false })

	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/api/me").Code)
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewSQLiteDB(t)
	logger := logrus.New()
	h := &handlers.Handler{
		DB:      db,
		Ledger:  workflow.NewBalanceLedger(db, nil, logger),
		Billing: workflow.NewBillingWorkflow(db, nil, logger),
		Logger:  logger,
	}
	r := newRouter(h, nil, logger)

	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/pis").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/nope").Code)

	w := serve(r, http.MethodGet, "/healthz")
	assert.NotEmpty(t, w.Header().Get("x-correlation-id"))
}

func TestCorsConfig(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://adops.example.com, https://admin.example.com")
	cfg := corsConfig()
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"https://adops.example.com", "https://admin.example.com"}, cfg.AllowOrigins)
	assert.NoError(t, cfg.Validate())

	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	cfg = corsConfig()
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.AllowOriginFunc("https://evil.example.com"))

	t.Setenv("GO_ENV", "development")
	assert.True(t, corsConfig().AllowAllOrigins)
}
