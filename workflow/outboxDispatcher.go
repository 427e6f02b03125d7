package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventPublisher delivers one outbox event and returns the broker message id.
type EventPublisher interface {
	Publish(ctx context.Context, msg config.EventMessage) (string, error)
}

// OutboxDispatcher moves committed ledger and billing events from outbox_events to
// an EventPublisher. Several dispatchers may run against the same table; rows are
// claimed with SKIP LOCKED and owned until LockTimeout passes.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Publisher    EventPublisher
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, publisher EventPublisher, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by the next one.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		wait := d.PollInterval
		if d.dispatchOnce(ctx) >= d.BatchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// retryDelay doubles from initial on every attempt after the first, capped at ceiling.
func retryDelay(initial, ceiling time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	return delay
}

func deadColumns(reason string) map[string]interface{} {
	return map[string]interface{}{
		"publish_status":     models.OutboxPublishStatusDead,
		"last_publish_error": &reason,
		"next_attempt_at":    nil,
		"locked_at":          nil,
		"locked_by":          nil,
	}
}

// dispatchOnce claims one batch and publishes it. It returns how many events were sent.
func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) int {
	if d.DB == nil || d.Publisher == nil {
		return 0
	}
	batch, err := d.claim(ctx, time.Now().UTC())
	if err != nil {
		config.LogError(d.Logger, "OutboxDispatcher", "dispatchOnce", "claim batch", nil, err)
		return 0
	}
	sent := 0
	for _, ev := range batch {
		if d.publish(ctx, ev) {
			sent++
		}
	}
	return sent
}

// claim locks due rows (PENDING/FAILED past next_attempt_at, or PROCESSING rows
// whose owner stopped renewing) and marks them PROCESSING for this dispatcher.
// Rows that already used their attempt budget go to DEAD instead.
func (d *OutboxDispatcher) claim(ctx context.Context, now time.Time) ([]models.OutboxEvent, error) {
	var batch []models.OutboxEvent
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []models.OutboxEvent
		err := tx.
			Where("(publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (publish_status = ? AND locked_at <= ?)",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now,
				models.OutboxPublishStatusProcessing, now.Add(-d.LockTimeout)).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&due).Error
		if err != nil {
			return err
		}

		for _, ev := range due {
			if d.MaxAttempts > 0 && ev.PublishAttempts >= d.MaxAttempts {
				reason := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := tx.Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).Updates(deadColumns(reason)).Error; err != nil {
					return err
				}
				continue
			}
			ev.PublishStatus = models.OutboxPublishStatusProcessing
			ev.PublishAttempts++
			if err := tx.Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).Updates(map[string]interface{}{
				"publish_status":     ev.PublishStatus,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   ev.PublishAttempts,
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
			batch = append(batch, ev)
		}
		return nil
	})
	return batch, err
}

func (d *OutboxDispatcher) publish(ctx context.Context, ev models.OutboxEvent) bool {
	ctx, span := startSpan(ctx, "OutboxDispatcher.publish",
		attribute.String("event.id", ev.EventId),
		attribute.String("event.type", ev.EventType),
		attribute.Int("event.attempt", ev.PublishAttempts))

	msgID, err := d.Publisher.Publish(ctx, ev.Message())
	if err != nil {
		d.settleFailure(ctx, ev, err)
	} else {
		d.settleSuccess(ctx, ev, msgID)
	}
	endSpan(span, err)
	return err == nil
}

func (d *OutboxDispatcher) settleSuccess(ctx context.Context, ev models.OutboxEvent, msgID string) {
	now := time.Now().UTC()
	err := d.DB.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", ev.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &msgID,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	config.LogError(d.Logger, "OutboxDispatcher", "settleSuccess", "event "+ev.EventId, nil, err)
}

// settleFailure schedules the next attempt, or moves the event to DEAD once it has
// used MaxAttempts.
func (d *OutboxDispatcher) settleFailure(ctx context.Context, ev models.OutboxEvent, cause error) {
	reason := cause.Error()
	fields := logrus.Fields{
		"field":      "OutboxDispatcher",
		"event_id":   ev.EventId,
		"event_type": ev.EventType,
		"attempt":    ev.PublishAttempts,
	}

	var columns map[string]interface{}
	if d.MaxAttempts > 0 && ev.PublishAttempts >= d.MaxAttempts {
		columns = deadColumns(reason)
		loggerOrDefault(d.Logger).WithFields(fields).Error("outbox event is DEAD after max attempts: " + reason)
	} else {
		next := time.Now().UTC().Add(retryDelay(d.InitialBackoff, d.MaxBackoff, ev.PublishAttempts))
		columns = map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &reason,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}
		fields["next_attempt_at"] = next.Format(time.RFC3339)
		loggerOrDefault(d.Logger).WithFields(fields).Warn("outbox publish failed: " + reason)
	}

	err := d.DB.WithContext(ctx).Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).Updates(columns).Error
	config.LogError(d.Logger, "OutboxDispatcher", "settleFailure", "event "+ev.EventId, nil, err)
}

// RequeueDeadEvents moves DEAD events back to PENDING with a fresh attempt budget.
// An empty eventType requeues every type.
func RequeueDeadEvents(ctx context.Context, db *gorm.DB, eventType string) (int64, error) {
	q := db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("publish_status = ?", models.OutboxPublishStatusDead)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	res := q.Updates(map[string]interface{}{
		"publish_status":   models.OutboxPublishStatusPending,
		"publish_attempts": 0,
		"next_attempt_at":  nil,
	})
	return res.RowsAffected, res.Error
}
