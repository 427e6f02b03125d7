package utils

import (
	"errors"
	"fmt"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorPredicates_SeeThroughWrapping(t *testing.T) {
	nf := fmt.Errorf("load matrix: %w", NewNotFound("matrix", "M-1"))
	assert.True(t, IsNotFound(nf))
	assert.True(t, errors.Is(nf, ErrorRecordNotFound))
	assert.False(t, IsConflict(nf))

	c := fmt.Errorf("create: %w", NewConflict("budget exceeded"))
	assert.True(t, IsConflict(c))
	assert.False(t, IsTransientConflict(c))

	tc := NewTransientConflict("lock busy")
	assert.True(t, IsConflict(tc))
	assert.True(t, IsTransientConflict(tc))

	assert.True(t, IsDuplicateKey(NewDuplicateKey("insertion order", "order_number", "A-1")))
	assert.True(t, IsValidation(NewFieldValidation("status", "oneof")))
	assert.True(t, IsForbidden(NewForbidden("nope")))
}

func TestValidationError_MessageListsFieldsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "required", "a": "gte"}}
	assert.Equal(t, "validation failed (a: gte, b: required)", err.Error())
}

func TestClassifyDBError(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil, "x", 1))

	err := ClassifyDBError(gorm.ErrRecordNotFound, "invoice", 7)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "invoice 7 not found", err.Error())

	assert.True(t, IsDuplicateKey(ClassifyDBError(gorm.ErrDuplicatedKey, "invoice", 7)))
	assert.True(t, IsDuplicateKey(ClassifyDBError(&mysqlDriver.MySQLError{Number: 1062}, "invoice", 7)))

	deadlock := ClassifyDBError(fmt.Errorf("tx: %w", &mysqlDriver.MySQLError{Number: 1213}), "matrix", "M-1")
	assert.True(t, IsTransientConflict(deadlock))
	assert.True(t, IsTransientConflict(ClassifyDBError(&mysqlDriver.MySQLError{Number: 1205}, "matrix", "M-1")))

	already := NewValidation("bad")
	assert.Same(t, already, ClassifyDBError(already, "x", 1))

	other := errors.New("boom")
	assert.Equal(t, other, ClassifyDBError(other, "x", 1))
}
