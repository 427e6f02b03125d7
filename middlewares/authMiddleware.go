package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const currentUserKey = "currentUser"

// userCacheTTL bounds how long a disabled user can keep using a live token.
const userCacheTTL = 5 * time.Minute

var errUnauthorized = errors.New("unauthorized")

// AuthMiddleware requires a valid bearer token and an active user. The user row is
// read through the Redis cache and falls back to the database.
func AuthMiddleware(db *gorm.DB, cache *config.RedisCache, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		bearer := "Bearer "
		if len(auth) <= len(bearer) || !strings.EqualFold(auth[:len(bearer)], bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized.Error()})
			return
		}
		token := strings.TrimSpace(auth[len(bearer):])

		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized.Error()})
			return
		}

		user, err := getUser(c.Request.Context(), db, cache, claims.ID)
		if err != nil {
			if utils.IsNotFound(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized.Error()})
				return
			}
			config.LogError(logger, "AuthMiddleware", "getUser", "load user", map[string]any{"user_id": claims.ID}, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if !user.Active() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user is disabled"})
			return
		}

		ctx := c.Request.Context()
		ctx = utils.SetTokenInContext(ctx, token)
		ctx = utils.SetActorInContext(ctx, user.Actor())
		c.Request = c.Request.WithContext(ctx)
		c.Set(currentUserKey, user)
		c.Next()
	}
}

// CurrentUser returns the user loaded by AuthMiddleware, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// role changes and deactivations are read from the DB row, not the token claims
func getUser(ctx context.Context, db *gorm.DB, cache *config.RedisCache, id int) (*models.User, error) {
	var user models.User
	key := models.UserCacheKey(id)
	found, err := cache.GetObject(ctx, key, &user)
	if err == nil && found {
		return &user, nil
	}

	result, err := models.GetUser(ctx, db, id)
	if err != nil {
		return nil, err
	}
	_ = cache.SetObject(ctx, key, result, userCacheTTL)
	return result, nil
}
