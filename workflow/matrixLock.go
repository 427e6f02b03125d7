package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatrixLocker serializes budget read-check-write sequences per Matrix order number.
// Lock blocks until the lock is held, the timeout passes or ctx ends; the returned func
// releases it.
type MatrixLocker interface {
	Lock(ctx context.Context, matrixOrderNumber string) (unlock func(), err error)
}

func matrixLockName(matrixOrderNumber string) string {
	return "matrix-budget:" + matrixOrderNumber
}

// defaultLockWait applies when a locker is built without a positive timeout.
const defaultLockWait = 10 * time.Second

func lockWait(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultLockWait
	}
	return timeout
}

// KeyedMutex is the in-process MatrixLocker used by single-instance deployments and tests.
type KeyedMutex struct {
	Timeout time.Duration

	mu    sync.Mutex
	slots map[string]*keyedSlot
}

type keyedSlot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{Timeout: timeout, slots: map[string]*keyedSlot{}}
}

func (k *KeyedMutex) acquireSlot(key string) *keyedSlot {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.slots == nil {
		k.slots = map[string]*keyedSlot{}
	}
	s := k.slots[key]
	if s == nil {
		s = &keyedSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *KeyedMutex) releaseSlot(key string, s *keyedSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *KeyedMutex) Lock(ctx context.Context, matrixOrderNumber string) (func(), error) {
	key := matrixLockName(matrixOrderNumber)
	ctx, cancel := context.WithTimeout(ctx, lockWait(k.Timeout))
	defer cancel()

	s := k.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.releaseSlot(key, s)
		return nil, utils.NewTransientConflict("matrix %s is locked by another request, retry", matrixOrderNumber)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.releaseSlot(key, s)
		})
	}, nil
}

// RedisMatrixLocker serializes across instances with a redislock lease.
type RedisMatrixLocker struct {
	Client     *redislock.Client
	TTL        time.Duration
	Timeout    time.Duration
	RetryEvery time.Duration
}

func NewRedisMatrixLocker(client *redislock.Client, timeout time.Duration) *RedisMatrixLocker {
	return &RedisMatrixLocker{
		Client:     client,
		TTL:        30 * time.Second,
		Timeout:    timeout,
		RetryEvery: 50 * time.Millisecond,
	}
}

func (r *RedisMatrixLocker) Lock(ctx context.Context, matrixOrderNumber string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockWait(r.Timeout))
	defer cancel()

	lock, err := r.Client.Obtain(lockCtx, matrixLockName(matrixOrderNumber), r.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.RetryEvery),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, utils.NewTransientConflict("matrix %s is locked by another request, retry", matrixOrderNumber)
		}
		return nil, err
	}

	return func() {
		// The lease expires on its own if release fails.
		_ = lock.Release(context.Background())
	}, nil
}

// lockMatrixRow re-reads the Matrix inside tx with SELECT ... FOR UPDATE.
func lockMatrixRow(tx *gorm.DB, matrixOrderNumber string) (*models.InsertionOrder, error) {
	var matrix models.InsertionOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_number = ? AND kind = ?", matrixOrderNumber, models.OrderKindMatrix).
		First(&matrix).Error
	if err != nil {
		return nil, utils.ClassifyDBError(err, "matrix", matrixOrderNumber)
	}
	return &matrix, nil
}

// lockOrderRow re-reads any PI under FOR UPDATE so a concurrent delete is seen as NotFound.
func lockOrderRow(tx *gorm.DB, orderNumber string) (*models.InsertionOrder, error) {
	var order models.InsertionOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, utils.ClassifyDBError(err, "insertion order", orderNumber)
	}
	return &order, nil
}
