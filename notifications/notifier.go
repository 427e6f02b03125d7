package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const handlerName = "notifications.email"

// Notifier maps domain events to e-mails. Events nobody subscribes to are ignored.
type Notifier struct {
	Sender  Sender
	Logger  *logrus.Logger
	Finance []string
	Opec    []string
}

func NewNotifierFromEnv(logger *logrus.Logger) *Notifier {
	return &Notifier{
		Sender:  NewSMTPMailer(config.LoadSMTPSettings()),
		Logger:  logger,
		Finance: validRecipients(logger, config.FinanceRecipients()),
		Opec:    validRecipients(logger, config.OpecRecipients()),
	}
}

func validRecipients(logger *logrus.Logger, addresses []string) []string {
	var valid []string
	for _, addr := range addresses {
		if !utils.IsValidEmail(addr) {
			if logger != nil {
				logger.WithFields(logrus.Fields{"field": "notifications", "address": addr}).Warn("ignoring invalid recipient")
			}
			continue
		}
		valid = append(valid, addr)
	}
	return valid
}

type mail struct {
	to      []string
	subject string
	body    string
}

func (n *Notifier) compose(msg config.EventMessage) (*mail, error) {
	switch msg.EventType {
	case workflow.EventInvoiceStatusChanged:
		var ev workflow.InvoiceStatusEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		body := fmt.Sprintf("Invoice %d (delivery %d) moved from %s to %s.", ev.InvoiceId, ev.DeliveryId, ev.From, ev.To)
		if ev.NfNumber != nil {
			body += "\nNF: " + *ev.NfNumber
		}
		return &mail{
			to:      n.Finance,
			subject: fmt.Sprintf("[Faturamento] invoice %d is now %s", ev.InvoiceId, ev.To),
			body:    body,
		}, nil

	case workflow.EventAttachmentAdded:
		var ev workflow.AttachmentEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		to := n.Finance
		if models.DocumentType(ev.DocumentType) == models.DocumentTypeOpec {
			to = n.Opec
		}
		return &mail{
			to:      to,
			subject: fmt.Sprintf("[Faturamento] %s attached to invoice %d", ev.DocumentType, ev.InvoiceId),
			body:    fmt.Sprintf("File %s (%s) was attached to invoice %d.", ev.FileName, ev.DocumentType, ev.InvoiceId),
		}, nil

	case workflow.EventAbatementCreated:
		var ev workflow.AbatementEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		return &mail{
			to:      n.Opec,
			subject: fmt.Sprintf("[PI] abatement %s on matrix %s", ev.AbatementOrderNumber, ev.MatrixOrderNumber),
			body: fmt.Sprintf("Abatement %s of %s was booked on matrix %s.\nConsumed: %s\nRemaining: %s",
				ev.AbatementOrderNumber, ev.GrossValue.StringFixed(2), ev.MatrixOrderNumber,
				ev.Consumed.StringFixed(2), ev.Remaining.StringFixed(2)),
		}, nil

	case workflow.EventMatrixDeleted:
		var ev workflow.MatrixDeletedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		return &mail{
			to:      n.Opec,
			subject: fmt.Sprintf("[PI] matrix %s deleted", ev.MatrixOrderNumber),
			body:    fmt.Sprintf("Matrix %s (gross %s) was deleted.", ev.MatrixOrderNumber, ev.GrossValue.StringFixed(2)),
		}, nil
	}
	return nil, nil
}

// Handle sends the e-mail for msg, if any.
func (n *Notifier) Handle(ctx context.Context, msg config.EventMessage) error {
	m, err := n.compose(msg)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.EventType, err)
	}
	if m == nil || len(m.to) == 0 {
		return nil
	}
	if msg.CorrelationId != "" {
		m.body += "\n\nref: " + msg.CorrelationId
	}
	if err := n.Sender.Send(ctx, m.to, m.subject, m.body); err != nil {
		config.LogError(n.Logger, "Notifier", "Handle", msg.EventType, map[string]any{"event_id": msg.EventId}, err)
		return err
	}
	if n.Logger != nil {
		n.Logger.WithFields(logrus.Fields{
			"module":     "Notifier",
			"event_id":   msg.EventId,
			"event_type": msg.EventType,
			"recipients": strings.Join(m.to, ","),
		}).Info("notification sent")
	}
	return nil
}

// Consume handles msg at most once per event id. Redelivered events that already
// succeeded return nil without sending again.
func (n *Notifier) Consume(ctx context.Context, db *gorm.DB, msg config.EventMessage) error {
	_, err := workflow.NewConsumerGuard(db, handlerName).Run(ctx, msg.EventId, func(ctx context.Context) error {
		return n.Handle(ctx, msg)
	})
	return err
}
