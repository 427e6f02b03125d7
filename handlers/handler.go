// Package handlers exposes the ledger and billing workflows over a JSON REST API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/middlewares"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/notifications"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handler holds every collaborator a route needs. Nothing is read from globals.
type Handler struct {
	DB       *gorm.DB
	Cache    *config.RedisCache
	Ledger   *workflow.BalanceLedger
	Billing  *workflow.BillingWorkflow
	Notifier *notifications.Notifier
	Logger   *logrus.Logger
}

var (
	piWriters       = []models.UserRole{models.UserRoleAdmin, models.UserRoleComercial, models.UserRoleOpec}
	deliveryWriters = []models.UserRole{models.UserRoleAdmin, models.UserRoleOpec}
	billingWriters  = []models.UserRole{models.UserRoleAdmin, models.UserRoleFinanceiro}
	adminOnly       = []models.UserRole{models.UserRoleAdmin}
)

// Register mounts the push endpoint and the authenticated /api routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/pubsub", h.pubSubPush)

	api := r.Group("/api")
	api.POST("/auth/login", h.login)

	auth := api.Group("")
	auth.Use(middlewares.AuthMiddleware(h.DB, h.Cache, h.Logger))
	auth.GET("/me", h.me)

	admin := middlewares.RequireAnyRole(adminOnly...)
	piWrite := middlewares.RequireAnyRole(piWriters...)
	deliveryWrite := middlewares.RequireAnyRole(deliveryWriters...)
	billingWrite := middlewares.RequireAnyRole(billingWriters...)

	auth.GET("/users", admin, h.listUsers)
	auth.POST("/users", admin, h.createUser)
	auth.PUT("/users/:id/active", admin, h.setUserActive)

	auth.GET("/products", h.listProducts)
	auth.POST("/products", admin, h.createProduct)
	auth.GET("/products/:id", h.getProduct)
	auth.PUT("/products/:id", admin, h.updateProduct)
	auth.DELETE("/products/:id", admin, h.deleteProduct)

	auth.GET("/pis", h.listInsertionOrders)
	auth.POST("/pis", piWrite, h.createInsertionOrder)
	auth.POST("/pis/matrices", piWrite, h.createMatrix)
	auth.GET("/pis/matrices/active", h.listActiveMatrices)
	auth.GET("/pis/matrices/:numero", h.matrixSummary)
	auth.GET("/pis/matrices/:numero/balance", h.matrixBalance)
	auth.POST("/pis/matrices/:numero/abatements", piWrite, h.createAbatement)
	auth.GET("/pis/:numero", h.getInsertionOrder)
	auth.PUT("/pis/:numero", piWrite, h.updateInsertionOrder)
	auth.DELETE("/pis/:numero", piWrite, h.deleteInsertionOrder)
	auth.GET("/pis/:numero/history", h.insertionOrderHistory)

	auth.GET("/pis/:numero/placements", h.listPlacements)
	auth.POST("/pis/:numero/placements", piWrite, h.createPlacement)
	auth.GET("/placements/:id", h.getPlacement)
	auth.PUT("/placements/:id", piWrite, h.updatePlacement)
	auth.DELETE("/placements/:id", piWrite, h.deletePlacement)

	auth.GET("/placements/:id/deliveries", h.listDeliveries)
	auth.POST("/placements/:id/deliveries", deliveryWrite, h.createDelivery)
	auth.GET("/deliveries/:id", h.getDelivery)
	auth.PUT("/deliveries/:id", deliveryWrite, h.updateDelivery)
	auth.DELETE("/deliveries/:id", deliveryWrite, h.deleteDelivery)
	auth.POST("/deliveries/:id/invoice", billingWrite, h.getOrCreateInvoice)

	auth.GET("/invoices", h.listInvoices)
	auth.GET("/invoices/:id", h.getInvoice)
	auth.GET("/invoices/:id/history", h.invoiceHistory)
	auth.PATCH("/invoices/:id/status", billingWrite, h.updateInvoiceStatus)
	auth.POST("/invoices/:id/reopen", admin, h.reopenInvoice)
	auth.GET("/invoices/:id/attachments", h.listAttachments)
	auth.POST("/invoices/:id/attachments", h.uploadAttachment)
	auth.GET("/invoices/:id/attachments/:attachmentId", h.downloadAttachment)

	auth.GET("/reports/matrices.xlsx", h.exportMatrices)
	auth.POST("/ops/outbox/requeue", admin, h.requeueOutbox)
}

// respondError maps the error taxonomy to HTTP status codes. Unexpected errors are
// logged and hidden from the client.
func (h *Handler) respondError(c *gin.Context, err error) {
	var validation *utils.ValidationError
	var conflict *utils.ConflictError

	switch {
	case errors.As(err, &validation):
		body := gin.H{"error": validation.Error()}
		if len(validation.Fields) > 0 {
			body["fields"] = validation.Fields
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
	case utils.IsNotFound(err):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case utils.IsDuplicateKey(err):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		body := gin.H{"error": conflict.Error()}
		if conflict.Transient {
			body["retryable"] = true
		}
		c.AbortWithStatusJSON(http.StatusConflict, body)
	case utils.IsForbidden(err):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(h.Logger, "Handler", c.FullPath(), c.Request.Method, map[string]any{"correlation_id": cid}, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// bindJSON decodes the body into dest, answering 400 on malformed JSON.
func (h *Handler) bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		h.respondError(c, utils.NewValidation("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) paramId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		h.respondError(c, utils.NewFieldValidation(name, "numeric"))
		return 0, false
	}
	return id, true
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func queryCursor(c *gin.Context) *string {
	if v, ok := c.GetQuery("cursor"); ok && v != "" {
		return &v
	}
	return nil
}

type page[T any] struct {
	Items    []T              `json:"items"`
	PageInfo *models.PageInfo `json:"page_info"`
}
