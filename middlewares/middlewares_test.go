package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/testutil"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		role, _ := utils.GetRoleFromContext(c.Request.Context())
		token, _ := utils.GetTokenFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"role": role, "user": CurrentUser(c), "has_token": token != ""})
	})
	return r
}

func get(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	_, token := testutil.SeedUser(t, db, "ana", models.UserRoleFinanceiro)
	r := newRouter(AuthMiddleware(db, nil, nil))

	w := get(r, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"financeiro"`)
	assert.Contains(t, w.Body.String(), `"has_token":true`)

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "not-a-jwt").Code)

	ghost, err := utils.JwtGenerate(999, "ghost", "admin")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, ghost).Code)
}

func TestAuthMiddleware_RoleComesFromDatabase(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	user, _ := testutil.SeedUser(t, db, "bruno", models.UserRoleOpec)
	forged, err := utils.JwtGenerate(user.ID, user.Username, string(models.UserRoleAdmin))
	require.NoError(t, err)

	w := get(newRouter(AuthMiddleware(db, nil, nil)), forged)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"opec"`)
}

func TestAuthMiddleware_DisabledUserUsesCache(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	mr := miniredis.RunT(t)
	cache := config.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	user, token := testutil.SeedUser(t, db, "carla", models.UserRoleComercial)
	r := newRouter(AuthMiddleware(db, cache, nil))

	require.Equal(t, http.StatusOK, get(r, token).Code)
	assert.True(t, mr.Exists(models.UserCacheKey(user.ID)))

	_, err := models.SetUserActive(context.Background(), db, user.ID, false)
	require.NoError(t, err)
	// the cached row still answers until it is evicted
	assert.Equal(t, http.StatusOK, get(r, token).Code)

	require.NoError(t, cache.Remove(context.Background(), models.UserCacheKey(user.ID)))
	assert.Equal(t, http.StatusForbidden, get(r, token).Code)
}

func TestRequireAnyRole(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	_, opec := testutil.SeedUser(t, db, "opec", models.UserRoleOpec)
	_, fin := testutil.SeedUser(t, db, "fin", models.UserRoleFinanceiro)
	r := newRouter(AuthMiddleware(db, nil, nil), RequireAnyRole(models.UserRoleAdmin, models.UserRoleFinanceiro))

	assert.Equal(t, http.StatusOK, get(r, fin).Code)
	assert.Equal(t, http.StatusForbidden, get(r, opec).Code)
}

func TestCorrelationMiddleware(t *testing.T) {
	r := newRouter(CorrelationMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))

	w = get(r, "")
	assert.Len(t, w.Header().Get(CorrelationHeader), 36)
}

func TestReadinessGate(t *testing.T) {
	ready := false
	r := newRouter(ReadinessGate(func() bool { return ready }))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	assert.Equal(t, http.StatusServiceUnavailable, get(r, "").Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	ready = true
	assert.Equal(t, http.StatusOK, get(r, "").Code)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := newRouter(NewRateLimiter(client, 2, time.Minute).Middleware)

	assert.Equal(t, http.StatusOK, get(r, "").Code)
	assert.Equal(t, http.StatusOK, get(r, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "").Code)

	mr.FastForward(time.Minute)
	assert.Equal(t, http.StatusOK, get(r, "").Code)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := newRouter(NewRateLimiter(client, 1, time.Minute).Middleware)
	mr.Close()

	assert.Equal(t, http.StatusOK, get(r, "").Code)
}
