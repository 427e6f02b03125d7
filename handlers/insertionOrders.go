package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/gin-gonic/gin"
)

func (h *Handler) listInsertionOrders(c *gin.Context) {
	filter := models.InsertionOrderFilter{
		Search:     c.Query("q"),
		Advertiser: c.Query("advertiser"),
		Cursor:     queryCursor(c),
		Limit:      queryLimit(c),
	}
	if raw := c.Query("kind"); raw != "" {
		kind, err := models.ParseOrderKind(raw)
		if err != nil {
			h.respondError(c, utils.NewFieldValidation("kind", "oneof=Matrix Abatement Normal"))
			return
		}
		filter.Kind = &kind
	}
	orders, pageInfo, err := models.ListInsertionOrders(c.Request.Context(), h.DB, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page[*models.InsertionOrder]{Items: orders, PageInfo: pageInfo})
}

func (h *Handler) getInsertionOrder(c *gin.Context) {
	order, err := models.GetInsertionOrder(c.Request.Context(), h.DB, c.Param("numero"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) insertionOrderHistory(c *gin.Context) {
	order, err := models.GetInsertionOrder(c.Request.Context(), h.DB, c.Param("numero"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	history, err := models.ListHistory(c.Request.Context(), h.DB, models.ReferenceTypeInsertionOrder, order.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) createInsertionOrder(c *gin.Context) {
	var input models.NewInsertionOrder
	if !h.bindJSON(c, &input) {
		return
	}
	order, err := models.CreateNormalInsertionOrder(c.Request.Context(), h.DB, &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) updateInsertionOrder(c *gin.Context) {
	var cmd models.UpdateInsertionOrder
	if !h.bindJSON(c, &cmd) {
		return
	}
	order, err := h.Ledger.UpdateInsertionOrder(c.Request.Context(), c.Param("numero"), &cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) deleteInsertionOrder(c *gin.Context) {
	if err := h.Ledger.DeleteInsertionOrder(c.Request.Context(), c.Param("numero")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) createMatrix(c *gin.Context) {
	var input models.NewInsertionOrder
	if !h.bindJSON(c, &input) {
		return
	}
	matrix, err := h.Ledger.CreateMatrix(c.Request.Context(), &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, matrix)
}

func (h *Handler) listActiveMatrices(c *gin.Context) {
	ordering, err := workflow.ParseMatrixOrdering(c.Query("order"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	balances, err := h.Ledger.ListActiveMatrices(c.Request.Context(), ordering)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (h *Handler) matrixSummary(c *gin.Context) {
	summary, err := h.Ledger.MatrixSummary(c.Request.Context(), c.Param("numero"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) matrixBalance(c *gin.Context) {
	balance, err := h.Ledger.Balance(c.Request.Context(), c.Param("numero"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// createAbatement ignores any kind or parent sent by the client.
func (h *Handler) createAbatement(c *gin.Context) {
	var input models.NewInsertionOrder
	if !h.bindJSON(c, &input) {
		return
	}
	abatement, err := h.Ledger.CreateAbatement(c.Request.Context(), c.Param("numero"), &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, abatement)
}
