package handlers

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/adops_backend/middlewares"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !h.bindJSON(c, &req) {
		return
	}
	info, err := models.Login(c.Request.Context(), h.DB, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, middlewares.CurrentUser(c))
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := models.ListUsers(c.Request.Context(), h.DB)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) createUser(c *gin.Context) {
	var input models.NewUser
	if !h.bindJSON(c, &input) {
		return
	}
	user, err := models.CreateUser(c.Request.Context(), h.DB, &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *Handler) setUserActive(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !h.bindJSON(c, &req) {
		return
	}
	user, err := models.SetUserActive(c.Request.Context(), h.DB, id, *req.IsActive)
	if err != nil {
		h.respondError(c, err)
		return
	}
	// the auth middleware must see the new flag on the next request
	if err := h.Cache.Remove(c.Request.Context(), models.UserCacheKey(id)); err != nil {
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, user)
}
