package handlers

import (
	"bytes"
	"net/http"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/reports"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/gin-gonic/gin"
)

func (h *Handler) exportMatrices(c *gin.Context) {
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

	var buf bytes.Buffer
	if err := reports.WriteMatrixBalances(&buf, balances); err != nil {
		h.respondError(c, err)
		return
	}
	fileName := "matrizes-" + time.Now().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+fileName+`"`)
	c.Data(http.StatusOK, reports.XLSXContentType, buf.Bytes())
}

type requeueRequest struct {
	EventType string `json:"event_type"`
}

// requeueOutbox gives DEAD outbox events a fresh attempt budget.
func (h *Handler) requeueOutbox(c *gin.Context) {
	var req requeueRequest
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req) {
		return
	}
	n, err := workflow.RequeueDeadEvents(c.Request.Context(), h.DB, req.EventType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}
