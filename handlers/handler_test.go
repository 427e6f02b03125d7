package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/notifications"
	"bitbucket.org/mmdatafocus/adops_backend/reports"
	"bitbucket.org/mmdatafocus/adops_backend/testutil"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type fakeSender struct {
	subjects []string
}

func (f *fakeSender) Send(_ context.Context, _ []string, subject, _ string) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	sender *fakeSender
	tokens map[models.UserRole]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewSQLiteDB(t)
	store, err := utils.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	logger := logrus.New()
	logger.SetOutput(new(bytes.Buffer))

	sender := &fakeSender{}
	h := &Handler{
		DB:      db,
		Ledger:  workflow.NewBalanceLedger(db, nil, logger),
		Billing: workflow.NewBillingWorkflow(db, store, logger),
		Notifier: &notifications.Notifier{
			Sender:  sender,
			Logger:  logger,
			Finance: []string{"financeiro@example.com"},
			Opec:    []string{"opec@example.com"},
		},
		Logger: logger,
	}
	r := gin.New()
	h.Register(r)

	tokens := map[models.UserRole]string{}
	for _, role := range []models.UserRole{models.UserRoleAdmin, models.UserRoleFinanceiro, models.UserRoleOpec, models.UserRoleComercial} {
		_, token := testutil.SeedUser(t, db, string(role)+"-user", role)
		tokens[role] = token
	}
	return &testServer{router: r, db: db, sender: sender, tokens: tokens}
}

func (s *testServer) do(t *testing.T, role models.UserRole, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[role])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, role models.UserRole, invoiceId int, documentType string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("document_type", documentType))
	part, err := mw.CreateFormFile("file", "nota.pdf")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/"+strconv.Itoa(invoiceId)+"/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.tokens[role])
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestLoginAndMe(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": "opec-user", "password": "s3cret-password"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decode(t, w)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode(t, w)
	assert.Equal(t, "opec", me["role"])
	assert.Empty(t, me["password"])

	w = s.do(t, "", http.MethodPost, "/api/auth/login", map[string]string{"username": "opec-user", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, "", http.MethodGet, "/api/me", nil).Code)
}

func TestMatrixAbatementFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, models.UserRoleComercial, http.MethodPost, "/api/pis/matrices",
		map[string]any{"order_number": "M-100", "gross_value": "10000", "advertiser": "ACME"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, models.UserRoleComercial, http.MethodPost, "/api/pis/matrices/M-100/abatements",
		map[string]any{"order_number": "A-1", "gross_value": "6000", "kind": "Normal"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "Abatement", created["kind"])
	assert.Equal(t, "M-100", created["matrix_order_number"])

	w = s.do(t, models.UserRoleComercial, http.MethodPost, "/api/pis/matrices/M-100/abatements",
		map[string]any{"order_number": "A-2", "gross_value": "5000"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "exceeds remaining balance")
	assert.Nil(t, decode(t, w)["retryable"])

	w = s.do(t, models.UserRoleFinanceiro, http.MethodGet, "/api/pis/matrices/M-100/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	balance := decode(t, w)
	assert.True(t, decimal.RequireFromString(balance["consumed"].(string)).Equal(decimal.NewFromInt(6000)))
	assert.True(t, decimal.RequireFromString(balance["remaining"].(string)).Equal(decimal.NewFromInt(4000)))

	w = s.do(t, models.UserRoleOpec, http.MethodGet, "/api/pis/matrices/active?order=numero_desc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.UserRoleOpec, http.MethodGet, "/api/pis/matrices/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var active []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &active))
	require.Len(t, active, 1)

	w = s.do(t, models.UserRoleAdmin, http.MethodDelete, "/api/pis/M-100", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "A-1")

	w = s.do(t, models.UserRoleFinanceiro, http.MethodPost, "/api/pis/matrices/M-100/abatements",
		map[string]any{"order_number": "A-3", "gross_value": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, models.UserRoleAdmin, http.MethodGet, "/api/pis/matrices/NOPE/balance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, models.UserRoleAdmin, http.MethodPost, "/api/pis/matrices", map[string]any{"gross_value": "10"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "order_number")

	body := map[string]any{"order_number": "N-1", "gross_value": "10"}
	require.Equal(t, http.StatusCreated, s.do(t, models.UserRoleAdmin, http.MethodPost, "/api/pis", body).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, models.UserRoleAdmin, http.MethodPost, "/api/pis", body).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, models.UserRoleAdmin, http.MethodGet, "/api/invoices/abc", nil).Code)
}

func TestRespondError_TransientConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	h.respondError(c, utils.NewTransientConflict("matrix M-1 is busy"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, true, decode(t, w)["retryable"])
}

func TestInvoiceFlow(t *testing.T) {
	s := newTestServer(t)
	delivery := testutil.SeedDelivery(t, context.Background(), s.db, "D-5")
	path := "/api/deliveries/" + strconv.Itoa(delivery.ID) + "/invoice"

	w := s.do(t, models.UserRoleFinanceiro, http.MethodPost, path, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	invoice := decode(t, w)
	assert.Equal(t, "ENVIADO", invoice["status"])
	id := int(invoice["id"].(float64))

	w = s.do(t, models.UserRoleFinanceiro, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(id), decode(t, w)["id"])

	statusPath := "/api/invoices/" + strconv.Itoa(id) + "/status"
	w = s.do(t, models.UserRoleComercial, http.MethodPatch, statusPath, map[string]any{"status": "PAGO"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, models.UserRoleFinanceiro, http.MethodPatch, statusPath, map[string]any{"status": "PAGAMENTO"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.UserRoleFinanceiro, http.MethodPatch, statusPath, map[string]any{"status": "PAGO", "nf_number": "NF-99"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	paid := decode(t, w)
	assert.Equal(t, "PAGO", paid["status"])
	assert.Equal(t, "NF-99", paid["nf_number"])
	assert.NotNil(t, paid["pago_at"])

	w = s.do(t, models.UserRoleFinanceiro, http.MethodPost, "/api/invoices/"+strconv.Itoa(id)+"/reopen", map[string]any{"status": "FATURADO"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, models.UserRoleAdmin, http.MethodPost, "/api/invoices/"+strconv.Itoa(id)+"/reopen", map[string]any{"status": "FATURADO"})
	require.Equal(t, http.StatusOK, w.Code)
	reopened := decode(t, w)
	assert.Equal(t, "FATURADO", reopened["status"])
	assert.NotNil(t, reopened["pago_at"])

	w = s.do(t, models.UserRoleOpec, http.MethodGet, "/api/invoices?status=faturado", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 1)

	w = s.do(t, models.UserRoleOpec, http.MethodGet, "/api/invoices?status=LOST", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttachmentAuthorization(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	delivery := testutil.SeedDelivery(t, ctx, s.db, "D-7")
	invoice, _, err := workflow.NewBillingWorkflow(s.db, nil, nil).GetOrCreate(ctx, delivery.ID)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, s.upload(t, models.UserRoleOpec, invoice.ID, "NF", pdfBytes).Code)
	assert.Equal(t, http.StatusForbidden, s.upload(t, models.UserRoleFinanceiro, invoice.ID, "OPEC", pdfBytes).Code)
	assert.Equal(t, http.StatusForbidden, s.upload(t, models.UserRoleAdmin, invoice.ID, "BOLETO", pdfBytes).Code)
	assert.Equal(t, http.StatusBadRequest, s.upload(t, models.UserRoleFinanceiro, invoice.ID, "NF", []byte("plain text")).Code)

	w := s.upload(t, models.UserRoleOpec, invoice.ID, "opec", pdfBytes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	attachment := decode(t, w)
	assert.Equal(t, "OPEC", attachment["document_type"])
	assert.Equal(t, "opec-user", attachment["uploaded_by"])
	assert.Equal(t, "application/pdf", attachment["mime_type"])

	w = s.upload(t, models.UserRoleFinanceiro, invoice.ID, "NF", pdfBytes)
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, models.UserRoleComercial, http.MethodGet, "/api/invoices/"+strconv.Itoa(invoice.ID)+"/attachments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)

	attachmentId := int(attachment["id"].(float64))
	w = s.do(t, models.UserRoleComercial, http.MethodGet,
		"/api/invoices/"+strconv.Itoa(invoice.ID)+"/attachments/"+strconv.Itoa(attachmentId), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pdfBytes, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "nota.pdf")
}

func TestExportMatrices(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, models.UserRoleAdmin, http.MethodPost, "/api/pis/matrices",
		map[string]any{"order_number": "M-1", "gross_value": "500"}).Code)

	w := s.do(t, models.UserRoleFinanceiro, http.MethodGet, "/api/reports/matrices.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, reports.XLSXContentType, w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}

func pushBody(t *testing.T, event config.EventMessage) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	envelope := map[string]any{
		"message":      map[string]any{"data": base64.StdEncoding.EncodeToString(data), "id": "msg-1"},
		"subscription": "projects/p/subscriptions/adops-email",
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return body
}

func TestPubSubPush(t *testing.T) {
	s := newTestServer(t)
	post := func(body []byte) int {
		req := httptest.NewRequest(http.MethodPost, "/pubsub", bytes.NewReader(body))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, post([]byte("{not json")))
	assert.Equal(t, http.StatusNoContent, post(pushBody(t, config.EventMessage{EventType: "matrix.deleted"})))

	payload, err := json.Marshal(workflow.MatrixDeletedEvent{MatrixOrderNumber: "M-9"})
	require.NoError(t, err)
	event := config.EventMessage{
		EventId:    "evt-9",
		EventType:  workflow.EventMatrixDeleted,
		OccurredAt: time.Now(),
		Payload:    payload,
	}
	assert.Equal(t, http.StatusNoContent, post(pushBody(t, event)))
	assert.Equal(t, http.StatusNoContent, post(pushBody(t, event)))
	require.Len(t, s.sender.subjects, 1)
	assert.Contains(t, s.sender.subjects[0], "M-9")
}
