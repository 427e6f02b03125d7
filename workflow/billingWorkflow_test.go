package workflow

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/testutil"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func newTestBilling(t *testing.T) (*BillingWorkflow, context.Context) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	store, err := utils.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	w := &BillingWorkflow{DB: db, Store: store, Logger: logrus.New()}
	return w, testutil.Ctx(7, "fin.user", models.UserRoleFinanceiro)
}

func strPtr(s string) *string { return &s }

func TestGetOrCreate_IsIdempotent(t *testing.T) {
	w, ctx := newTestBilling(t)
	delivery := testutil.SeedDelivery(t, ctx, w.DB, "PI-1")

	inv, created, err := w.GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.InvoiceStatusSent, inv.Status)
	assert.NotNil(t, inv.EnviadoAt)

	again, created, err := w.GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, inv.ID, again.ID)

	var count int64
	require.NoError(t, w.DB.Model(&models.Invoice{}).Where("delivery_id = ?", delivery.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.EqualValues(t, 1, countEvents(t, w.DB, EventInvoiceCreated))

	_, _, err = w.GetOrCreate(ctx, 9999)
	assert.True(t, utils.IsNotFound(err))
}

func TestUpdateStatus_StampsMilestoneOnce(t *testing.T) {
	w, ctx := newTestBilling(t)
	delivery := testutil.SeedDelivery(t, ctx, w.DB, "D-5")
	inv, _, err := w.GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)

	paid, err := w.UpdateStatus(ctx, inv.ID, &models.UpdateInvoiceStatus{Status: models.InvoiceStatusPaid, NfNumber: strPtr("NF-99")})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.NfNumber)
	assert.Equal(t, "NF-99", *paid.NfNumber)
	require.NotNil(t, paid.PagoAt)
	firstPaidAt := *paid.PagoAt

	stored, err := w.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PagoAt)
	assert.Equal(t, "NF-99", *stored.NfNumber)

	// Backward then forward again keeps the first timestamp.
	_, err = w.UpdateStatus(ctx, inv.ID, &models.UpdateInvoiceStatus{Status: models.InvoiceStatusBilled})
	require.NoError(t, err)
	again, err := w.UpdateStatus(ctx, inv.ID, &models.UpdateInvoiceStatus{Status: models.InvoiceStatusPaid, Note: strPtr("second payment notice")})
	require.NoError(t, err)
	assert.True(t, again.PagoAt.Equal(firstPaidAt))
	assert.Equal(t, "NF-99", *again.NfNumber, "nf number kept when not supplied")
	assert.NotNil(t, again.FaturadoAt)
	assert.Nil(t, again.EmFaturamentoAt)
	assert.EqualValues(t, 3, countEvents(t, w.DB, EventInvoiceStatusChanged))
}

func TestUpdateStatus_Errors(t *testing.T) {
	w, ctx := newTestBilling(t)
	delivery := testutil.SeedDelivery(t, ctx, w.DB, "PI-1")
	inv, _, err := w.GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)

	_, err = w.UpdateStatus(ctx, inv.ID, &models.UpdateInvoiceStatus{Status: "CANCELADO"})
	assert.True(t, utils.IsValidation(err))

	_, err = w.UpdateStatus(ctx, inv.ID, &models.UpdateInvoiceStatus{})
	assert.True(t, utils.IsValidation(err))

	_, err = w.UpdateStatus(ctx, 4242, &models.UpdateInvoiceStatus{Status: models.InvoiceStatusPaid})
	assert.True(t, utils.IsNotFound(err))
}

func TestUpdateStatus_ForwardOnlyAndReopen(t *testing.T) {
	w, ctx := newTestBilling(t)
	w.ForwardOnly = true
	delivery := testutil.SeedDelivery(t, ctx, w.DB, "PI-1")
	inv, _, err := w.GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)

	_, err = w.UpdateStatus(ctx, inv.ID, &models.UpdateInvoiceStatus{Status: models.InvoiceStatusBilled})
	require.NoError(t, err)

	_, err = w.UpdateStatus(ctx, inv.ID, &models.UpdateInvoiceStatus{Status: models.InvoiceStatusSent})
	assert.True(t, utils.IsConflict(err))

	reopened, err := w.Reopen(ctx, inv.ID, models.InvoiceStatusInBilling, strPtr("wrong NF issued"))
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusInBilling, reopened.Status)
	assert.NotNil(t, reopened.FaturadoAt, "reopen keeps reached milestones")

	_, err = w.Reopen(ctx, inv.ID, models.InvoiceStatusPaid, nil)
	assert.True(t, utils.IsConflict(err))
}

func TestAuthorizeAttachment(t *testing.T) {
	cases := []struct {
		role    models.UserRole
		docType models.DocumentType
		allowed bool
	}{
		{models.UserRoleOpec, models.DocumentTypeNF, false},
		{models.UserRoleOpec, models.DocumentTypeOpec, true},
		{models.UserRoleFinanceiro, models.DocumentTypeNF, true},
		{models.UserRoleFinanceiro, models.DocumentTypeComprovantePagamento, true},
		{models.UserRoleFinanceiro, models.DocumentTypeOpec, false},
		{models.UserRoleAdmin, models.DocumentTypeOpec, true},
		{models.UserRoleAdmin, models.DocumentTypeComprovantePagamento, true},
		{models.UserRoleComercial, models.DocumentTypeNF, false},
		{models.UserRoleAdmin, "CONTRATO", false},
	}
	for _, c := range cases {
		err := AuthorizeAttachment(string(c.role), c.docType)
		if c.allowed {
			assert.NoError(t, err, "%s/%s", c.role, c.docType)
		} else {
			assert.True(t, utils.IsForbidden(err), "%s/%s", c.role, c.docType)
		}
	}
}

func TestAddAttachment_AppendsAndBumpsInvoice(t *testing.T) {
	w, ctx := newTestBilling(t)
	delivery := testutil.SeedDelivery(t, ctx, w.DB, "PI-1")
	inv, _, err := w.GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)

	att, err := w.AddAttachment(ctx, inv.ID, models.DocumentTypeNF, models.FileMetadata{
		FileName:    "nf-99.pdf",
		StoragePath: "invoices/1/nf-99.pdf",
		MimeType:    "application/pdf",
		SizeBytes:   120,
	})
	require.NoError(t, err)
	assert.Equal(t, "fin.user", att.UploadedBy)
	assert.False(t, att.UploadedAt.IsZero())

	stored, err := w.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Attachments, 1)
	assert.False(t, stored.UpdatedAt.Before(inv.UpdatedAt))

	_, err = w.AddAttachment(ctx, inv.ID, " ", models.FileMetadata{FileName: "x.pdf", StoragePath: "k"})
	assert.True(t, utils.IsValidation(err))

	_, err = w.AddAttachment(ctx, 4242, models.DocumentTypeNF, models.FileMetadata{FileName: "x.pdf", StoragePath: "k"})
	assert.True(t, utils.IsNotFound(err))
	assert.EqualValues(t, 1, countEvents(t, w.DB, EventAttachmentAdded))
}

func TestUploadAttachment_StoresBytes(t *testing.T) {
	w, ctx := newTestBilling(t)
	delivery := testutil.SeedDelivery(t, ctx, w.DB, "PI-1")
	inv, _, err := w.GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)

	att, err := w.UploadAttachment(ctx, inv.ID, models.DocumentTypeComprovantePagamento, "../comprovante.pdf", bytes.NewReader(samplePDF), "")
	require.NoError(t, err)
	assert.Equal(t, "comprovante.pdf", att.FileName)
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.EqualValues(t, len(samplePDF), att.SizeBytes)
	assert.True(t, strings.HasPrefix(att.StoragePath, "invoices/"))
	assert.True(t, strings.HasSuffix(att.StoragePath, ".pdf"))

	_, rc, err := w.OpenAttachment(ctx, inv.ID, att.ID)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, samplePDF, got)

	list, err := w.ListAttachments(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = w.UploadAttachment(ctx, inv.ID, models.DocumentTypeNF, "virus.exe", bytes.NewReader([]byte("MZ\x90\x00\x03\x00")), "")
	assert.True(t, utils.IsValidation(err))

	_, err = w.UploadAttachment(ctx, 4242, models.DocumentTypeNF, "nf.pdf", bytes.NewReader(samplePDF), "")
	assert.True(t, utils.IsNotFound(err))
}

func TestListInvoices_FiltersByStatus(t *testing.T) {
	w, ctx := newTestBilling(t)
	first := testutil.SeedDelivery(t, ctx, w.DB, "PI-1")
	second := testutil.SeedDelivery(t, ctx, w.DB, "PI-2")
	a, _, err := w.GetOrCreate(ctx, first.ID)
	require.NoError(t, err)
	_, _, err = w.GetOrCreate(ctx, second.ID)
	require.NoError(t, err)
	_, err = w.UpdateStatus(ctx, a.ID, &models.UpdateInvoiceStatus{Status: models.InvoiceStatusPaid, NfNumber: strPtr("NF-1")})
	require.NoError(t, err)

	paid := models.InvoiceStatusPaid
	list, page, err := w.ListInvoices(ctx, InvoiceFilter{Status: &paid})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
	assert.False(t, *page.HasNextPage)

	list, _, err = w.ListInvoices(ctx, InvoiceFilter{NfNumber: "NF-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, page, err = w.ListInvoices(ctx, InvoiceFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.True(t, *page.HasNextPage)
}
