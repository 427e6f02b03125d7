package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/gin-gonic/gin"
)

// getOrCreateInvoice answers 201 when the invoice was just opened and 200 when it
// already existed.
func (h *Handler) getOrCreateInvoice(c *gin.Context) {
	deliveryId, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	invoice, created, err := h.Billing.GetOrCreate(c.Request.Context(), deliveryId)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, invoice)
}

func (h *Handler) listInvoices(c *gin.Context) {
	filter := workflow.InvoiceFilter{
		NfNumber: c.Query("nf_number"),
		Cursor:   queryCursor(c),
		Limit:    queryLimit(c),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := models.InvoiceStatus(strings.ToUpper(raw))
		filter.Status = &status
	}
	invoices, pageInfo, err := h.Billing.ListInvoices(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page[*models.Invoice]{Items: invoices, PageInfo: pageInfo})
}

func (h *Handler) getInvoice(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	invoice, err := h.Billing.GetInvoice(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *Handler) invoiceHistory(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	if err := utils.ValidateResourceId[models.Invoice](c.Request.Context(), h.DB, "invoice", id); err != nil {
		h.respondError(c, err)
		return
	}
	history, err := models.ListHistory(c.Request.Context(), h.DB, models.ReferenceTypeInvoice, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) updateInvoiceStatus(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	var cmd models.UpdateInvoiceStatus
	if !h.bindJSON(c, &cmd) {
		return
	}
	invoice, err := h.Billing.UpdateStatus(c.Request.Context(), id, &cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

type reopenRequest struct {
	Status models.InvoiceStatus `json:"status"`
	Note   *string              `json:"note"`
}

func (h *Handler) reopenInvoice(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	var req reopenRequest
	if !h.bindJSON(c, &req) {
		return
	}
	invoice, err := h.Billing.Reopen(c.Request.Context(), id, req.Status, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (h *Handler) listAttachments(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	attachments, err := h.Billing.ListAttachments(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attachments)
}

// uploadAttachment takes a multipart form with `file` and `document_type`.
func (h *Handler) uploadAttachment(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, config.MaxUploadBytes()+(1<<20))
	if err := c.Request.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload limit"})
			return
		}
		h.respondError(c, utils.NewValidation("invalid multipart form: %v", err))
		return
	}

	documentType := models.DocumentType(strings.ToUpper(strings.TrimSpace(c.PostForm("document_type"))))
	role, _ := utils.GetRoleFromContext(ctx)
	if err := workflow.AuthorizeAttachment(role, documentType); err != nil {
		h.respondError(c, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		h.respondError(c, utils.NewFieldValidation("file", "required"))
		return
	}
	if header.Size > config.MaxUploadBytes() {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload limit"})
		return
	}
	file, err := header.Open()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer file.Close()

	username, _ := utils.GetUsernameFromContext(ctx)
	attachment, err := h.Billing.UploadAttachment(ctx, id, documentType, header.Filename, file, username)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attachment)
}

func (h *Handler) downloadAttachment(c *gin.Context) {
	id, ok := h.paramId(c, "id")
	if !ok {
		return
	}
	attachmentId, ok := h.paramId(c, "attachmentId")
	if !ok {
		return
	}
	attachment, rc, err := h.Billing.OpenAttachment(c.Request.Context(), id, attachmentId)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer rc.Close()

	contentType := attachment.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.FileName}))
	c.Header("Content-Type", contentType)
	if attachment.SizeBytes > 0 {
		c.Header("Content-Length", strconv.FormatInt(attachment.SizeBytes, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}
