package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func keyFor(t *testing.T, g *ConsumerGuard, messageId string) models.IdempotencyKey {
	t.Helper()
	var key models.IdempotencyKey
	require.NoError(t, g.DB.Where("handler_name = ? AND message_id = ?", g.Name, messageId).Take(&key).Error)
	return key
}

func TestConsumerGuard_Lifecycle(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	g := NewConsumerGuard(db, "notify")

	calls := 0
	smtpDown := errors.New("smtp down")
	ran, err := g.Run(ctx, "evt-1", func(context.Context) error {
		calls++
		return smtpDown
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, smtpDown)
	key := keyFor(t, g, "evt-1")
	assert.Equal(t, models.IdempotencyStatusFailed, key.Status)
	require.NotNil(t, key.LastError)
	assert.Equal(t, "smtp down", *key.LastError)

	ran, err = g.Run(ctx, "evt-1", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran, "failed attempts are retried")
	key = keyFor(t, g, "evt-1")
	assert.Equal(t, models.IdempotencyStatusSucceeded, key.Status)
	assert.Equal(t, 2, key.Attempts)
	assert.Nil(t, key.LastError)

	ran, err = g.Run(ctx, "evt-1", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 2, calls)

	ran, err = NewConsumerGuard(db, "audit").Run(ctx, "evt-1", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran, "keys are per consumer")
}

func TestConsumerGuard_InProgressThenStale(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	g := NewConsumerGuard(db, "notify")

	var inner error
	_, err := g.Run(ctx, "evt-2", func(ctx context.Context) error {
		_, inner = g.Run(ctx, "evt-2", func(context.Context) error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrIdempotencyInProgress)

	require.NoError(t, db.Model(&models.IdempotencyKey{}).
		Where("message_id = ?", "evt-2").
		UpdateColumn("status", models.IdempotencyStatusStarted).Error)

	g.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	ran, err := g.Run(ctx, "evt-2", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran, "a stale claim is taken over")
}

func TestConsumerGuard_ReArmLosesToConcurrentDelivery(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	g := NewConsumerGuard(db, "notify")

	_, err := g.Run(ctx, "evt-3", func(context.Context) error { return errors.New("smtp down") })
	require.Error(t, err)

	// another delivery re-arms the key between our read and our update
	var raced atomic.Bool
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("race:rearm", func(tx *gorm.DB) {
		if tx.Statement.Table != "idempotency_keys" || !raced.CompareAndSwap(false, true) {
			return
		}
		tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE idempotency_keys SET status = ?, attempts = attempts + 1 WHERE message_id = ?",
				models.IdempotencyStatusStarted, "evt-3")
	}))

	calls := 0
	ran, err := g.Run(ctx, "evt-3", func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrIdempotencyInProgress)
	assert.False(t, ran)
	assert.Zero(t, calls)
	assert.Equal(t, 2, keyFor(t, g, "evt-3").Attempts)
}

func TestConsumerGuard_ConcurrentRedeliveriesRunOnce(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	g := NewConsumerGuard(db, "notify")

	_, err := g.Run(ctx, "evt-4", func(context.Context) error { return errors.New("smtp down") })
	require.Error(t, err)

	var calls atomic.Int32
	release := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := g.Run(ctx, "evt-4", func(context.Context) error {
				calls.Add(1)
				<-release
				return nil
			})
			results <- err
		}()
	}

	assert.ErrorIs(t, <-results, ErrIdempotencyInProgress)
	close(release)
	assert.NoError(t, <-results)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, models.IdempotencyStatusSucceeded, keyFor(t, g, "evt-4").Status)
}
