package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"github.com/gin-gonic/gin"
)

func (h *Handler) listProducts(c *gin.Context) {
	products, err := models.ListProducts(c.Request.Context(), h.DB, c.Query("active") == "true")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	product, err := models.GetProduct(c.Request.Context(), h.DB, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createProduct(c *gin.Context) {
	var input models.NewProduct
	if !h.bindJSON(c, &input) {
		return
	}
	product, err := models.CreateProduct(c.Request.Context(), h.DB, &input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	var cmd models.UpdateProduct
	if !h.bindJSON(c, &cmd) {
		return
	}
	product, err := models.UpdateProductById(c.Request.Context(), h.DB, id, &cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	product, err := models.DeleteProduct(c.Request.Context(), h.DB, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}
