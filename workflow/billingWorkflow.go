package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const billingModule = "BillingWorkflow"

// BillingWorkflow drives the invoice of a delivery through
// ENVIADO -> EM_FATURAMENTO -> FATURADO -> PAGO and records its documents.
type BillingWorkflow struct {
	DB     *gorm.DB
	Store  utils.ContentStore
	Logger *logrus.Logger
	// ForwardOnly rejects backward status moves outside of Reopen.
	ForwardOnly bool
}

func NewBillingWorkflow(db *gorm.DB, store utils.ContentStore, logger *logrus.Logger) *BillingWorkflow {
	return &BillingWorkflow{
		DB:          db,
		Store:       store,
		Logger:      loggerOrDefault(logger),
		ForwardOnly: config.InvoiceForwardOnly(),
	}
}

type InvoiceFilter struct {
	Status   *models.InvoiceStatus
	NfNumber string
	Cursor   *string
	Limit    int
}

var attachmentRoles = map[models.DocumentType][]models.UserRole{
	models.DocumentTypeNF:                   {models.UserRoleFinanceiro, models.UserRoleAdmin},
	models.DocumentTypeComprovantePagamento: {models.UserRoleFinanceiro, models.UserRoleAdmin},
	models.DocumentTypeOpec:                 {models.UserRoleOpec, models.UserRoleAdmin},
}

// AuthorizeAttachment reports whether role may attach a document of documentType.
// Unknown document types are refused for every role.
func AuthorizeAttachment(role string, documentType models.DocumentType) error {
	allowed, ok := attachmentRoles[documentType]
	if !ok {
		return utils.NewForbidden("document type %q cannot be attached", documentType)
	}
	for _, r := range allowed {
		if string(r) == role {
			return nil
		}
	}
	return utils.NewForbidden("role %q cannot attach %s documents", role, documentType)
}

func lockInvoice(tx *gorm.DB, invoiceId int) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", invoiceId).First(&inv).Error
	if err != nil {
		return nil, utils.ClassifyDBError(err, "invoice", invoiceId)
	}
	return &inv, nil
}

// GetOrCreate returns the invoice of deliveryId, creating it in ENVIADO when absent.
// created is false when the invoice already existed.
func (w *BillingWorkflow) GetOrCreate(ctx context.Context, deliveryId int) (invoice *models.Invoice, created bool, err error) {
	ctx, span := startSpan(ctx, "BillingWorkflow.GetOrCreate", attribute.Int("delivery_id", deliveryId))
	defer func() { endSpan(span, err) }()

	var inv models.Invoice
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.ValidateResourceId[models.Delivery](ctx, tx, "delivery", deliveryId); err != nil {
			return err
		}
		err := tx.Where("delivery_id = ?", deliveryId).Take(&inv).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		inv = models.Invoice{DeliveryId: deliveryId, Status: models.InvoiceStatusSent}
		inv.StampMilestone(models.InvoiceStatusSent, now)
		if err := tx.Create(&inv).Error; err != nil {
			return err
		}
		created = true
		if err := models.SaveHistoryCreate(tx, models.ReferenceTypeInvoice, inv.ID, inv,
			fmt.Sprintf("invoice opened for delivery %d", deliveryId)); err != nil {
			return err
		}
		_, err = models.EnqueueEvent(tx, EventInvoiceCreated, models.ReferenceTypeInvoice, inv.ID, InvoiceStatusEvent{
			InvoiceId:  inv.ID,
			DeliveryId: deliveryId,
			To:         string(inv.Status),
		})
		return err
	})
	if err != nil && utils.IsDuplicateKeyErr(err) {
		// Lost the race against a concurrent insert of the same delivery.
		var existing models.Invoice
		if rerr := w.DB.WithContext(ctx).Where("delivery_id = ?", deliveryId).Take(&existing).Error; rerr == nil {
			return &existing, false, nil
		}
	}
	if err != nil {
		return nil, false, utils.ClassifyDBError(err, "invoice", deliveryId)
	}
	return &inv, created, nil
}

func (w *BillingWorkflow) GetInvoice(ctx context.Context, invoiceId int) (*models.Invoice, error) {
	return utils.FetchModel[models.Invoice](ctx, w.DB, "invoice", invoiceId, "Attachments")
}

func (w *BillingWorkflow) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*models.Invoice, *models.PageInfo, error) {
	dbCtx := w.DB.WithContext(ctx).Model(&models.Invoice{})
	if filter.Status != nil {
		if !filter.Status.IsValid() {
			return nil, nil, utils.NewFieldValidation("status", "oneof=ENVIADO EM_FATURAMENTO FATURADO PAGO")
		}
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if nf := strings.TrimSpace(filter.NfNumber); nf != "" {
		dbCtx = dbCtx.Where("nf_number = ?", nf)
	}
	return models.PaginateInvoices(dbCtx, filter.Cursor, filter.Limit)
}

// UpdateStatus moves the invoice to cmd.Status. Milestone timestamps are written only
// the first time a status is reached.
func (w *BillingWorkflow) UpdateStatus(ctx context.Context, invoiceId int, cmd *models.UpdateInvoiceStatus) (*models.Invoice, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, err
	}
	if !cmd.Status.IsValid() {
		return nil, utils.NewFieldValidation("status", "oneof=ENVIADO EM_FATURAMENTO FATURADO PAGO")
	}
	return w.changeStatus(ctx, "UpdateStatus", invoiceId, cmd, func(current models.InvoiceStatus) error {
		if w.ForwardOnly && cmd.Status.Rank() < current.Rank() {
			return utils.NewConflict("invoice %d cannot move back from %s to %s", invoiceId, current, cmd.Status)
		}
		return nil
	})
}

// Reopen moves the invoice back to an earlier status. Timestamps already written stay.
func (w *BillingWorkflow) Reopen(ctx context.Context, invoiceId int, status models.InvoiceStatus, note *string) (*models.Invoice, error) {
	if !status.IsValid() {
		return nil, utils.NewFieldValidation("status", "oneof=ENVIADO EM_FATURAMENTO FATURADO PAGO")
	}
	cmd := &models.UpdateInvoiceStatus{Status: status, Note: note}
	return w.changeStatus(ctx, "Reopen", invoiceId, cmd, func(current models.InvoiceStatus) error {
		if status.Rank() >= current.Rank() {
			return utils.NewConflict("invoice %d is %s; reopen only moves to an earlier status", invoiceId, current)
		}
		return nil
	})
}

func (w *BillingWorkflow) changeStatus(ctx context.Context, funcName string, invoiceId int, cmd *models.UpdateInvoiceStatus,
	check func(current models.InvoiceStatus) error) (result *models.Invoice, err error) {
	ctx, span := startSpan(ctx, "BillingWorkflow."+funcName,
		attribute.Int("invoice_id", invoiceId), attribute.String("status", string(cmd.Status)))
	defer func() { endSpan(span, err) }()

	var inv *models.Invoice
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = lockInvoice(tx, invoiceId)
		if err != nil {
			return err
		}
		before := *inv
		if err := check(inv.Status); err != nil {
			return err
		}

		now := time.Now().UTC()
		inv.Status = cmd.Status
		if cmd.NfNumber != nil {
			inv.NfNumber = utils.TrimPtr(cmd.NfNumber)
		}
		if cmd.Note != nil {
			inv.Note = cmd.Note
		}
		inv.StampMilestone(cmd.Status, now)
		inv.UpdatedAt = now

		if err := tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).Updates(map[string]interface{}{
			"status":            inv.Status,
			"nf_number":         inv.NfNumber,
			"note":              inv.Note,
			"enviado_at":        inv.EnviadoAt,
			"em_faturamento_at": inv.EmFaturamentoAt,
			"faturado_at":       inv.FaturadoAt,
			"pago_at":           inv.PagoAt,
			"updated_at":        now,
		}).Error; err != nil {
			return err
		}
		if err := models.SaveHistoryStatus(tx, models.ReferenceTypeInvoice, inv.ID, before, inv,
			fmt.Sprintf("invoice %d %s -> %s", inv.ID, before.Status, inv.Status)); err != nil {
			return err
		}
		_, err = models.EnqueueEvent(tx, EventInvoiceStatusChanged, models.ReferenceTypeInvoice, inv.ID, InvoiceStatusEvent{
			InvoiceId:  inv.ID,
			DeliveryId: inv.DeliveryId,
			From:       string(before.Status),
			To:         string(inv.Status),
			NfNumber:   inv.NfNumber,
		})
		return err
	})
	if err != nil {
		err = utils.ClassifyDBError(err, "invoice", invoiceId)
		if !utils.IsConflict(err) && !utils.IsNotFound(err) {
			config.LogError(w.Logger, billingModule, funcName, fmt.Sprintf("invoice %d", invoiceId), cmd, err)
		}
		return nil, err
	}
	return inv, nil
}

// AddAttachment appends a document record to the invoice. Attachment rows are never
// updated or removed. The caller checks AuthorizeAttachment first.
func (w *BillingWorkflow) AddAttachment(ctx context.Context, invoiceId int, documentType models.DocumentType, meta models.FileMetadata) (result *models.InvoiceAttachment, err error) {
	ctx, span := startSpan(ctx, "BillingWorkflow.AddAttachment",
		attribute.Int("invoice_id", invoiceId), attribute.String("document_type", string(documentType)))
	defer func() { endSpan(span, err) }()

	documentType = models.DocumentType(strings.TrimSpace(string(documentType)))
	if documentType == "" {
		return nil, utils.NewFieldValidation("document_type", "required")
	}
	if meta.UploadedBy == "" {
		meta.UploadedBy, _ = utils.GetUsernameFromContext(ctx)
	}
	if err := utils.ValidateStruct(&meta); err != nil {
		return nil, err
	}

	var attachment models.InvoiceAttachment
	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := lockInvoice(tx, invoiceId)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		attachment = models.InvoiceAttachment{
			InvoiceId:    inv.ID,
			DocumentType: documentType,
			FileName:     meta.FileName,
			StoragePath:  meta.StoragePath,
			MimeType:     meta.MimeType,
			SizeBytes:    meta.SizeBytes,
			UploadedBy:   meta.UploadedBy,
			UploadedAt:   now,
		}
		if err := tx.Create(&attachment).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).Update("updated_at", now).Error; err != nil {
			return err
		}
		if err := models.SaveHistoryCreate(tx, models.ReferenceTypeInvoice, inv.ID, attachment,
			fmt.Sprintf("%s document %s attached", documentType, meta.FileName)); err != nil {
			return err
		}
		_, err = models.EnqueueEvent(tx, EventAttachmentAdded, models.ReferenceTypeInvoice, inv.ID, AttachmentEvent{
			InvoiceId:    inv.ID,
			AttachmentId: attachment.ID,
			DocumentType: string(documentType),
			FileName:     meta.FileName,
		})
		return err
	})
	if err != nil {
		return nil, utils.ClassifyDBError(err, "invoice", invoiceId)
	}
	return &attachment, nil
}

// UploadAttachment stores the file bytes under invoices/<id>/ and records them with
// AddAttachment. The stored object is removed again if the record cannot be written.
func (w *BillingWorkflow) UploadAttachment(ctx context.Context, invoiceId int, documentType models.DocumentType,
	fileName string, r io.Reader, uploadedBy string) (*models.InvoiceAttachment, error) {
	if w.Store == nil {
		return nil, fmt.Errorf("content store is not configured")
	}
	fileName = strings.TrimSpace(filepath.Base(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, utils.NewFieldValidation("file", "required")
	}
	if strings.TrimSpace(string(documentType)) == "" {
		return nil, utils.NewFieldValidation("document_type", "required")
	}
	if err := utils.ValidateResourceId[models.Invoice](ctx, w.DB, "invoice", invoiceId); err != nil {
		return nil, err
	}

	mime, ext, body, err := utils.SniffContent(r)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("invoices/%d/%s%s", invoiceId, uuid.NewString(), ext)
	size, err := w.Store.Save(ctx, key, body, mime)
	if err != nil {
		config.LogError(w.Logger, billingModule, "UploadAttachment", "save "+key, nil, err)
		return nil, err
	}

	attachment, err := w.AddAttachment(ctx, invoiceId, documentType, models.FileMetadata{
		FileName:    fileName,
		StoragePath: key,
		MimeType:    mime,
		SizeBytes:   size,
		UploadedBy:  uploadedBy,
	})
	if err != nil {
		if derr := w.Store.Delete(context.Background(), key); derr != nil {
			config.LogError(w.Logger, billingModule, "UploadAttachment", "cleanup "+key, nil, derr)
		}
		return nil, err
	}
	return attachment, nil
}

func (w *BillingWorkflow) ListAttachments(ctx context.Context, invoiceId int) ([]*models.InvoiceAttachment, error) {
	if err := utils.ValidateResourceId[models.Invoice](ctx, w.DB, "invoice", invoiceId); err != nil {
		return nil, err
	}
	var results []*models.InvoiceAttachment
	err := w.DB.WithContext(ctx).Where("invoice_id = ?", invoiceId).Order("uploaded_at ASC, id ASC").Find(&results).Error
	return results, err
}

// OpenAttachment streams a stored attachment back to the caller.
func (w *BillingWorkflow) OpenAttachment(ctx context.Context, invoiceId, attachmentId int) (*models.InvoiceAttachment, io.ReadCloser, error) {
	var attachment models.InvoiceAttachment
	err := w.DB.WithContext(ctx).Where("id = ? AND invoice_id = ?", attachmentId, invoiceId).Take(&attachment).Error
	if err != nil {
		return nil, nil, utils.ClassifyDBError(err, "attachment", attachmentId)
	}
	if w.Store == nil {
		return nil, nil, fmt.Errorf("content store is not configured")
	}
	rc, err := w.Store.Open(ctx, attachment.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return &attachment, rc, nil
}
