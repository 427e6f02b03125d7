package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/adops_backend/workflow")

// Domain event types written to the outbox.
const (
	EventAbatementCreated     = "abatement.created"
	EventAbatementDeleted     = "abatement.deleted"
	EventMatrixDeleted        = "matrix.deleted"
	EventInvoiceCreated       = "invoice.created"
	EventInvoiceStatusChanged = "invoice.status_changed"
	EventAttachmentAdded      = "invoice.attachment_added"
)

type AbatementEvent struct {
	MatrixOrderNumber    string          `json:"matrix_order_number"`
	AbatementOrderNumber string          `json:"abatement_order_number"`
	GrossValue           decimal.Decimal `json:"gross_value"`
	Consumed             decimal.Decimal `json:"consumed"`
	Remaining            decimal.Decimal `json:"remaining"`
}

type MatrixDeletedEvent struct {
	MatrixOrderNumber string          `json:"matrix_order_number"`
	GrossValue        decimal.Decimal `json:"gross_value"`
}

type InvoiceStatusEvent struct {
	InvoiceId  int     `json:"invoice_id"`
	DeliveryId int     `json:"delivery_id"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	NfNumber   *string `json:"nf_number"`
}

type AttachmentEvent struct {
	InvoiceId    int    `json:"invoice_id"`
	AttachmentId int    `json:"attachment_id"`
	DocumentType string `json:"document_type"`
	FileName     string `json:"file_name"`
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func loggerOrDefault(l *logrus.Logger) *logrus.Logger {
	if l != nil {
		return l
	}
	return config.GetLogger()
}
