package models

import (
	"time"
)

// Invoice ("faturamento") is the billing record of exactly one delivery.
// Milestone timestamps are written the first time the status is reached and never cleared.
type Invoice struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	DeliveryId      int                  `gorm:"not null;uniqueIndex" json:"delivery_id"`
	Status          InvoiceStatus        `gorm:"size:20;not null;index;default:'ENVIADO'" json:"status"`
	NfNumber        *string              `gorm:"size:64;index" json:"nf_number"`
	Note            *string              `gorm:"type:text" json:"note"`
	EnviadoAt       *time.Time           `json:"enviado_at"`
	EmFaturamentoAt *time.Time           `json:"em_faturamento_at"`
	FaturadoAt      *time.Time           `json:"faturado_at"`
	PagoAt          *time.Time           `json:"pago_at"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
	Attachments     []*InvoiceAttachment `gorm:"foreignKey:InvoiceId" json:"attachments,omitempty"`
}

// InvoiceAttachment is append-only: rows are never updated or deleted.
type InvoiceAttachment struct {
	ID           int          `gorm:"primary_key" json:"id"`
	InvoiceId    int          `gorm:"not null;index" json:"invoice_id"`
	DocumentType DocumentType `gorm:"size:40;not null;index" json:"document_type"`
	FileName     string       `gorm:"size:255;not null" json:"file_name"`
	StoragePath  string       `gorm:"size:512;not null" json:"storage_path"`
	MimeType     string       `gorm:"size:128" json:"mime_type"`
	SizeBytes    int64        `gorm:"not null;default:0" json:"size_bytes"`
	UploadedBy   string       `gorm:"size:100" json:"uploaded_by"`
	UploadedAt   time.Time    `gorm:"not null" json:"uploaded_at"`
}

// FileMetadata describes an already stored attachment file.
type FileMetadata struct {
	FileName    string `json:"file_name" validate:"required,max=255"`
	StoragePath string `json:"storage_path" validate:"required,max=512"`
	MimeType    string `json:"mime_type" validate:"max=128"`
	SizeBytes   int64  `json:"size_bytes" validate:"gte=0"`
	UploadedBy  string `json:"uploaded_by" validate:"max=100"`
}

// UpdateInvoiceStatus is the typed status command. NfNumber and Note overwrite the
// stored values only when present.
type UpdateInvoiceStatus struct {
	Status   InvoiceStatus `json:"status" validate:"required"`
	NfNumber *string       `json:"nf_number" validate:"omitempty,max=64"`
	Note     *string       `json:"note"`
}

// StampMilestone sets the timestamp of status if it was never reached before.
// It reports whether a timestamp was written.
func (inv *Invoice) StampMilestone(status InvoiceStatus, now time.Time) bool {
	var slot **time.Time
	switch status {
	case InvoiceStatusSent:
		slot = &inv.EnviadoAt
	case InvoiceStatusInBilling:
		slot = &inv.EmFaturamentoAt
	case InvoiceStatusBilled:
		slot = &inv.FaturadoAt
	case InvoiceStatusPaid:
		slot = &inv.PagoAt
	default:
		return false
	}
	if *slot != nil {
		return false
	}
	t := now
	*slot = &t
	return true
}
