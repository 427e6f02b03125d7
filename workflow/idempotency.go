package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

const defaultStaleAfter = 5 * time.Minute

// ConsumerGuard runs an event consumer at most once per message id. Keys are
// scoped by consumer name, so two consumers of the same event never collide.
type ConsumerGuard struct {
	DB   *gorm.DB
	Name string
	// StaleAfter is how long a STARTED claim is honoured before another delivery
	// may take it over.
	StaleAfter time.Duration
	now        func() time.Time
}

func NewConsumerGuard(db *gorm.DB, name string) *ConsumerGuard {
	return &ConsumerGuard{DB: db, Name: name, StaleAfter: defaultStaleAfter, now: time.Now}
}

// Run calls fn unless messageId already succeeded. ran reports whether fn was
// called. A failing fn leaves the key FAILED so the next delivery retries it.
func (g *ConsumerGuard) Run(ctx context.Context, messageId string, fn func(context.Context) error) (ran bool, err error) {
	db := g.DB.WithContext(ctx)
	done, err := g.claim(db, messageId)
	if err != nil || done {
		return false, err
	}
	if fnErr := fn(ctx); fnErr != nil {
		msg := fnErr.Error()
		if err := g.mark(db, messageId, models.IdempotencyStatusFailed, &msg); err != nil {
			return true, errors.Join(fnErr, err)
		}
		return true, fnErr
	}
	return true, g.mark(db, messageId, models.IdempotencyStatusSucceeded, nil)
}

// claim inserts a STARTED key, or re-arms an existing one that failed or went stale.
// done is true when the message was already handled.
func (g *ConsumerGuard) claim(db *gorm.DB, messageId string) (done bool, err error) {
	key := models.IdempotencyKey{
		HandlerName: g.Name,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
		Attempts:    1,
	}
	err = db.Create(&key).Error
	if err == nil {
		return false, nil
	}
	if !utils.IsDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := db.Where("handler_name = ? AND message_id = ?", g.Name, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}
	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		if g.now().Sub(existing.UpdatedAt) < g.StaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}

	// Compare-and-set on the state we read: of two deliveries re-arming the same key,
	// only one matches.
	res := db.Model(&models.IdempotencyKey{}).
		Where("id = ? AND status = ? AND attempts = ?", existing.ID, existing.Status, existing.Attempts).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusStarted,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": nil,
			"updated_at": g.now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, ErrIdempotencyInProgress
	}
	return false, nil
}

func (g *ConsumerGuard) mark(db *gorm.DB, messageId string, status models.IdempotencyStatus, lastError *string) error {
	return db.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", g.Name, messageId).
		Updates(map[string]interface{}{"status": status, "last_error": lastError}).Error
}
