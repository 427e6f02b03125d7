package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"github.com/gin-gonic/gin"
)

func (h *Handler) listPlacements(c *gin.Context) {
	placements, err := models.ListPlacements(c.Request.Context(), h.DB, c.Param("numero"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, placements)
}

func (h *Handler) createPlacement(c *gin.Context) {
	var input models.NewPlacement
	if !h.bindJSON(c, &input) {
		return
	}
	placement, err := models.CreatePlacement(c.Request.Context(), h.DB, c.Param("numero"), &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, placement)
}

func (h *Handler) getPlacement(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	placement, err := models.GetPlacement(c.Request.Context(), h.DB, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, placement)
}

func (h *Handler) updatePlacement(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	var cmd models.UpdatePlacement
	if !h.bindJSON(c, &cmd) {
		return
	}
	placement, err := models.UpdatePlacementById(c.Request.Context(), h.DB, id, &cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, placement)
}

func (h *Handler) deletePlacement(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	placement, err := models.DeletePlacement(c.Request.Context(), h.DB, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, placement)
}

func (h *Handler) listDeliveries(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	deliveries, err := models.ListDeliveries(c.Request.Context(), h.DB, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deliveries)
}

func (h *Handler) createDelivery(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	var input models.NewDelivery
	if !h.bindJSON(c, &input) {
		return
	}
	delivery, err := models.CreateDelivery(c.Request.Context(), h.DB, id, &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, delivery)
}

func (h *Handler) getDelivery(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	delivery, err := models.GetDelivery(c.Request.Context(), h.DB, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

func (h *Handler) updateDelivery(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	var cmd models.UpdateDelivery
	if !h.bindJSON(c, &cmd) {
		return
	}
	delivery, err := models.UpdateDeliveryById(c.Request.Context(), h.DB, id, &cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

func (h *Handler) deleteDelivery(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	delivery, err := models.DeleteDelivery(c.Request.Context(), h.DB, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}
