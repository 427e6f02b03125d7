package notifications

import (
	"context"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"gorm.io/gorm"
)

// DirectPublisher hands outbox events to a Notifier in-process, for environments
// without Pub/Sub. It satisfies workflow.EventPublisher.
type DirectPublisher struct {
	DB       *gorm.DB
	Notifier *Notifier
}

func (p DirectPublisher) Publish(ctx context.Context, msg config.EventMessage) (string, error) {
	if err := p.Notifier.Consume(ctx, p.DB, msg); err != nil {
		return "", err
	}
	return "direct-" + msg.EventId, nil
}
