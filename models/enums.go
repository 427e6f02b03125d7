package models

import (
	"fmt"
	"strings"
)

type OrderKind string

const (
	OrderKindMatrix    OrderKind = "Matrix"
	OrderKindAbatement OrderKind = "Abatement"
	OrderKindNormal    OrderKind = "Normal"
)

func (k OrderKind) IsValid() bool {
	switch k {
	case OrderKindMatrix, OrderKindAbatement, OrderKindNormal:
		return true
	}
	return false
}

func ParseOrderKind(s string) (OrderKind, error) {
	for _, k := range []OrderKind{OrderKindMatrix, OrderKindAbatement, OrderKindNormal} {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid order kind %q", s)
}

type DeliveryStatus string

const (
	DeliveryStatusYes     DeliveryStatus = "Sim"
	DeliveryStatusNo      DeliveryStatus = "Não"
	DeliveryStatusPending DeliveryStatus = "pendente"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusYes, DeliveryStatusNo, DeliveryStatusPending:
		return true
	}
	return false
}

type InvoiceStatus string

const (
	InvoiceStatusSent      InvoiceStatus = "ENVIADO"
	InvoiceStatusInBilling InvoiceStatus = "EM_FATURAMENTO"
	InvoiceStatusBilled    InvoiceStatus = "FATURADO"
	InvoiceStatusPaid      InvoiceStatus = "PAGO"
)

// InvoiceStatuses lists the billing states in workflow order.
var InvoiceStatuses = []InvoiceStatus{
	InvoiceStatusSent,
	InvoiceStatusInBilling,
	InvoiceStatusBilled,
	InvoiceStatusPaid,
}

func (s InvoiceStatus) IsValid() bool {
	return s.Rank() >= 0
}

// Rank is the position of s in the workflow, -1 when unknown.
func (s InvoiceStatus) Rank() int {
	for i, v := range InvoiceStatuses {
		if v == s {
			return i
		}
	}
	return -1
}

type DocumentType string

const (
	DocumentTypeNF                   DocumentType = "NF"
	DocumentTypeComprovantePagamento DocumentType = "COMPROVANTE_PAGAMENTO"
	DocumentTypeOpec                 DocumentType = "OPEC"
)

type UserRole string

const (
	UserRoleAdmin      UserRole = "admin"
	UserRoleFinanceiro UserRole = "financeiro"
	UserRoleOpec       UserRole = "opec"
	UserRoleComercial  UserRole = "comercial"
)

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleFinanceiro, UserRoleOpec, UserRoleComercial:
		return true
	}
	return false
}

type HistoryAction string

const (
	HistoryActionCreate HistoryAction = "CREATE"
	HistoryActionUpdate HistoryAction = "UPDATE"
	HistoryActionDelete HistoryAction = "DELETE"
	HistoryActionStatus HistoryAction = "STATUS"
)
