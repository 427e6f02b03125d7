package models

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for OutboxEvent.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Reference types shared by history rows and outbox events.
const (
	ReferenceTypeInsertionOrder = "insertion_orders"
	ReferenceTypeProduct        = "products"
	ReferenceTypePlacement      = "placements"
	ReferenceTypeDelivery       = "deliveries"
	ReferenceTypeInvoice        = "invoices"
	ReferenceTypeUser           = "users"
)

// OutboxEvent is written in the same transaction as the change it describes and
// published after commit by the dispatcher.
type OutboxEvent struct {
	ID            int             `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventId       string          `gorm:"size:36;not null;uniqueIndex" json:"event_id"`
	EventType     string          `gorm:"size:64;not null;index" json:"event_type"`
	ReferenceType string          `gorm:"size:64;not null" json:"reference_type"`
	ReferenceId   int             `gorm:"not null" json:"reference_id"`
	Payload       []byte          `gorm:"type:blob" json:"payload"`
	OccurredAt    time.Time       `gorm:"not null" json:"occurred_at"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueEvent stores a PENDING event on tx. The payload is marshalled as JSON.
func EnqueueEvent(tx *gorm.DB, eventType string, referenceType string, referenceId int, payload any) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	event := OutboxEvent{
		EventId:       uuid.NewString(),
		EventType:     eventType,
		ReferenceType: referenceType,
		ReferenceId:   referenceId,
		Payload:       data,
		OccurredAt:    time.Now().UTC(),
		PublishStatus: OutboxPublishStatusPending,
	}
	if ctx := tx.Statement.Context; ctx != nil {
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			event.CorrelationId = cid
		}
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (e OutboxEvent) Message() config.EventMessage {
	return config.EventMessage{
		EventId:       e.EventId,
		EventType:     e.EventType,
		ReferenceType: e.ReferenceType,
		ReferenceId:   e.ReferenceId,
		OccurredAt:    e.OccurredAt,
		Payload:       json.RawMessage(e.Payload),
		CorrelationId: e.CorrelationId,
	}
}
